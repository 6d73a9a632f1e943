package ledger

import (
	"fmt"
)

type dataAccount struct {
	Data    []byte
	Reserve int64
}

// kvStore is the primitive surface shared by the key/value backends. The
// posting rules live once in kvTx on top of it.
type kvStore interface {
	getBalance(code string) (int64, bool, error)
	putBalance(code string, balance int64) error
	deleteBalance(code string) error
	getData(code string) (dataAccount, bool, error)
	putData(code string, account dataAccount) error
	deleteData(code string) error
}

type kvTx struct {
	store kvStore
	rent  Rent
}

func (t *kvTx) Balance(code string) (int64, error) {
	balance, ok, err := t.store.getBalance(code)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrAccountNotFound, code)
	}
	return balance, nil
}

func (t *kvTx) Transfer(from, to string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if from == to {
		return fmt.Errorf("transfer to self: %s", from)
	}

	fromBalance, err := t.Balance(from)
	if err != nil {
		return err
	}
	toBalance, err := t.Balance(to)
	if err != nil {
		return err
	}
	if fromBalance < amount && from != MintAccountCode {
		return ErrInsufficientFunds
	}

	if err := t.store.putBalance(from, fromBalance-amount); err != nil {
		return err
	}
	return t.store.putBalance(to, toBalance+amount)
}

func (t *kvTx) CreateAccount(code, payer string, data []byte) error {
	if _, exists, err := t.store.getData(code); err != nil {
		return err
	} else if exists {
		return fmt.Errorf("%w: %s", ErrAccountExists, code)
	}
	if _, err := t.Balance(payer); err != nil {
		return err
	}

	if err := t.ensure(code); err != nil {
		return err
	}

	reserve := t.rent.Reserve(len(data))
	if reserve > 0 {
		if err := t.ensure(RentAccountCode); err != nil {
			return err
		}
		if err := t.Transfer(payer, RentAccountCode, reserve); err != nil {
			return err
		}
	}

	return t.store.putData(code, dataAccount{Data: append([]byte(nil), data...), Reserve: reserve})
}

func (t *kvTx) AccountData(code string) ([]byte, error) {
	account, ok, err := t.store.getData(code)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, code)
	}
	return append([]byte(nil), account.Data...), nil
}

func (t *kvTx) CloseAccount(code, beneficiary string) (int64, error) {
	account, ok, err := t.store.getData(code)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrAccountNotFound, code)
	}

	remaining, err := t.Balance(code)
	if err != nil {
		return 0, err
	}
	if remaining > 0 {
		if err := t.Transfer(code, beneficiary, remaining); err != nil {
			return 0, err
		}
	}
	if account.Reserve > 0 {
		if err := t.Transfer(RentAccountCode, beneficiary, account.Reserve); err != nil {
			return 0, err
		}
	}

	if err := t.store.deleteData(code); err != nil {
		return 0, err
	}
	if err := t.store.deleteBalance(code); err != nil {
		return 0, err
	}
	return remaining + account.Reserve, nil
}

func (t *kvTx) ensure(code string) error {
	if _, ok, err := t.store.getBalance(code); err != nil {
		return err
	} else if ok {
		return nil
	}
	return t.store.putBalance(code, 0)
}
