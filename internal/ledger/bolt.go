package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// Bucket names
var (
	BalancesBucket = []byte("balances") // account code -> int64 balance
	DataBucket     = []byte("data")     // account code -> reserve (8 bytes) || data
	TxIDsBucket    = []byte("txids")    // kind:client_tx_id -> MintResult JSON
)

// BoltLedger keeps balances and data accounts in a single bbolt file. bbolt
// allows one writer at a time, which serializes every Update.
type BoltLedger struct {
	db   *bolt.DB
	rent Rent
}

// NewBoltLedger creates the bucket structure if needed and returns the ledger.
func NewBoltLedger(db *bolt.DB, rent Rent) (*BoltLedger, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{BalancesBucket, DataBucket, TxIDsBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		store := boltStore{tx: tx}
		for _, code := range []string{MintAccountCode, RentAccountCode} {
			if _, ok, err := store.getBalance(code); err != nil {
				return err
			} else if !ok {
				if err := store.putBalance(code, 0); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &BoltLedger{db: db, rent: rent}, nil
}

// EnsureAccount guarantees an account exists for the provided code.
func (l *BoltLedger) EnsureAccount(_ context.Context, code string) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		store := boltStore{tx: tx}
		if _, ok, err := store.getBalance(code); err != nil || ok {
			return err
		}
		return store.putBalance(code, 0)
	})
}

// Balance returns the balance for the specified account code.
func (l *BoltLedger) Balance(_ context.Context, code string) (int64, error) {
	var balance int64
	err := l.db.View(func(tx *bolt.Tx) error {
		var err error
		balance, err = (&kvTx{store: boltStore{tx: tx}}).Balance(code)
		return err
	})
	return balance, err
}

// Mint credits code from the mint account once per client transaction id.
func (l *BoltLedger) Mint(_ context.Context, code, clientTxID string, amount int64) (MintResult, error) {
	if amount <= 0 {
		return MintResult{}, ErrInvalidAmount
	}

	var res MintResult
	var duplicate bool
	err := l.db.Update(func(tx *bolt.Tx) error {
		key := []byte(KindMint + ":" + clientTxID)
		ids := tx.Bucket(TxIDsBucket)
		if existing := ids.Get(key); existing != nil {
			duplicate = true
			return json.Unmarshal(existing, &res)
		}

		ktx := &kvTx{store: boltStore{tx: tx}, rent: l.rent}
		if err := ktx.Transfer(MintAccountCode, code, amount); err != nil {
			return err
		}
		balance, err := ktx.Balance(code)
		if err != nil {
			return err
		}

		res = MintResult{TransactionID: string(key), Balance: balance}
		payload, err := json.Marshal(res)
		if err != nil {
			return err
		}
		return ids.Put(key, payload)
	})
	if err != nil {
		return MintResult{}, err
	}
	if duplicate {
		return res, ErrDuplicateTransaction
	}
	return res, nil
}

// AccountData returns the data stored under code.
func (l *BoltLedger) AccountData(_ context.Context, code string) ([]byte, error) {
	var data []byte
	err := l.db.View(func(tx *bolt.Tx) error {
		var err error
		data, err = (&kvTx{store: boltStore{tx: tx}}).AccountData(code)
		return err
	})
	return data, err
}

// Update runs fn inside a bbolt read-write transaction.
func (l *BoltLedger) Update(_ context.Context, fn func(tx Tx) error) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		return fn(&kvTx{store: boltStore{tx: tx}, rent: l.rent})
	})
}

// View runs fn inside a bbolt read-only transaction, which never waits for
// the writer.
func (l *BoltLedger) View(_ context.Context, fn func(r Reader) error) error {
	return l.db.View(func(tx *bolt.Tx) error {
		return fn(&kvTx{store: boltStore{tx: tx}, rent: l.rent})
	})
}

type boltStore struct {
	tx *bolt.Tx
}

func (s boltStore) getBalance(code string) (int64, bool, error) {
	raw := s.tx.Bucket(BalancesBucket).Get([]byte(code))
	if raw == nil {
		return 0, false, nil
	}
	if len(raw) != 8 {
		return 0, false, fmt.Errorf("corrupt balance for %s", code)
	}
	return int64(binary.BigEndian.Uint64(raw)), true, nil
}

func (s boltStore) putBalance(code string, balance int64) error {
	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, uint64(balance))
	return s.tx.Bucket(BalancesBucket).Put([]byte(code), raw)
}

func (s boltStore) deleteBalance(code string) error {
	return s.tx.Bucket(BalancesBucket).Delete([]byte(code))
}

func (s boltStore) getData(code string) (dataAccount, bool, error) {
	raw := s.tx.Bucket(DataBucket).Get([]byte(code))
	if raw == nil {
		return dataAccount{}, false, nil
	}
	if len(raw) < 8 {
		return dataAccount{}, false, fmt.Errorf("corrupt data account %s", code)
	}
	// Make a copy since the slice is only valid during the transaction
	return dataAccount{
		Reserve: int64(binary.BigEndian.Uint64(raw[:8])),
		Data:    append([]byte(nil), raw[8:]...),
	}, true, nil
}

func (s boltStore) putData(code string, account dataAccount) error {
	raw := make([]byte, 8+len(account.Data))
	binary.BigEndian.PutUint64(raw[:8], uint64(account.Reserve))
	copy(raw[8:], account.Data)
	return s.tx.Bucket(DataBucket).Put([]byte(code), raw)
}

func (s boltStore) deleteData(code string) error {
	return s.tx.Bucket(DataBucket).Delete([]byte(code))
}
