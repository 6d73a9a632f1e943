package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLedger persists ledger entries in PostgreSQL ensuring double-entry balance.
type PostgresLedger struct {
	db   *pgxpool.Pool
	rent Rent
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool, rent Rent) *PostgresLedger {
	return &PostgresLedger{db: db, rent: rent}
}

// EnsureAccount guarantees an account exists for the provided code.
func (l *PostgresLedger) EnsureAccount(ctx context.Context, code string) error {
	_, err := l.db.Exec(ctx, `INSERT INTO accounts (id, code) VALUES ($1, $2)
        ON CONFLICT (code) DO NOTHING`, uuid.New(), code)
	return err
}

// Balance returns the summed balance for the specified account code.
func (l *PostgresLedger) Balance(ctx context.Context, code string) (int64, error) {
	return readBalance(ctx, l.db, code)
}

// Mint records an idempotent credit from the mint account.
func (l *PostgresLedger) Mint(ctx context.Context, code, clientTxID string, amount int64) (MintResult, error) {
	if amount <= 0 {
		return MintResult{}, ErrInvalidAmount
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return MintResult{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := ensureAccount(ctx, tx, MintAccountCode); err != nil {
		return MintResult{}, err
	}
	ids, err := lockAccounts(ctx, tx, code, MintAccountCode)
	if err != nil {
		return MintResult{}, err
	}
	accountID, mintID := ids[code], ids[MintAccountCode]

	const existingQuery = `SELECT id FROM transactions WHERE client_tx_id = $1 AND kind = $2`
	var existingTxID uuid.UUID
	if err := tx.QueryRow(ctx, existingQuery, clientTxID, KindMint).Scan(&existingTxID); err == nil {
		balance, balErr := balanceForAccount(ctx, tx, accountID)
		if balErr != nil {
			return MintResult{}, balErr
		}
		return MintResult{TransactionID: existingTxID.String(), Balance: balance}, ErrDuplicateTransaction
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return MintResult{}, err
	}

	txID := uuid.New()
	if _, err := tx.Exec(ctx, `INSERT INTO transactions (id, client_tx_id, kind, status) VALUES ($1, $2, $3, $4)`, txID, clientTxID, KindMint, statusCompleted); err != nil {
		return MintResult{}, err
	}
	if err := postEntries(ctx, tx, txID, mintID, accountID, amount); err != nil {
		return MintResult{}, err
	}

	balance, err := balanceForAccount(ctx, tx, accountID)
	if err != nil {
		return MintResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return MintResult{}, err
	}
	return MintResult{TransactionID: txID.String(), Balance: balance}, nil
}

// AccountData returns the data stored for code.
func (l *PostgresLedger) AccountData(ctx context.Context, code string) ([]byte, error) {
	return readAccountData(ctx, l.db, code)
}

// View runs fn in a read-only repeatable-read transaction. It takes no row
// locks, so it never waits on an Update.
func (l *PostgresLedger) View(ctx context.Context, fn func(r Reader) error) error {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(pgReader{ctx: ctx, q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgReader struct {
	ctx context.Context
	q   querier
}

func (r pgReader) Balance(code string) (int64, error) { return readBalance(r.ctx, r.q, code) }

func (r pgReader) AccountData(code string) ([]byte, error) {
	return readAccountData(r.ctx, r.q, code)
}

func readBalance(ctx context.Context, q querier, code string) (int64, error) {
	const query = `
        SELECT COALESCE(SUM(e.amount), 0)
        FROM accounts a
        LEFT JOIN entries e ON e.account_id = a.id
        WHERE a.code = $1
        GROUP BY a.id`
	var balance int64
	if err := q.QueryRow(ctx, query, code).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s", ErrAccountNotFound, code)
		}
		return 0, err
	}
	return balance, nil
}

func readAccountData(ctx context.Context, q querier, code string) ([]byte, error) {
	const query = `
        SELECT d.data
        FROM account_data d
        INNER JOIN accounts a ON a.id = d.account_id
        WHERE a.code = $1`
	var data []byte
	if err := q.QueryRow(ctx, query, code).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, code)
		}
		return nil, err
	}
	return data, nil
}

// Update runs fn inside a single database transaction; every posting made
// through the Tx shares one transactions row.
func (l *PostgresLedger) Update(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(&pgTx{ctx: ctx, tx: tx, rent: l.rent}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgTx struct {
	ctx  context.Context
	tx   pgx.Tx
	rent Rent
	txID uuid.UUID
}

func (t *pgTx) Balance(code string) (int64, error) {
	ids, err := lockAccounts(t.ctx, t.tx, code)
	if err != nil {
		return 0, err
	}
	return balanceForAccount(t.ctx, t.tx, ids[code])
}

func (t *pgTx) Transfer(from, to string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if from == to {
		return fmt.Errorf("transfer to self: %s", from)
	}

	ids, err := lockAccounts(t.ctx, t.tx, from, to)
	if err != nil {
		return err
	}

	if from != MintAccountCode {
		balance, err := balanceForAccount(t.ctx, t.tx, ids[from])
		if err != nil {
			return err
		}
		if balance < amount {
			return ErrInsufficientFunds
		}
	}

	txID, err := t.transactionID()
	if err != nil {
		return err
	}
	return postEntries(t.ctx, t.tx, txID, ids[from], ids[to], amount)
}

func (t *pgTx) CreateAccount(code, payer string, data []byte) error {
	if err := ensureAccount(t.ctx, t.tx, code); err != nil {
		return err
	}
	ids, err := lockAccounts(t.ctx, t.tx, code, payer)
	if err != nil {
		return err
	}

	reserve := t.rent.Reserve(len(data))
	cmd, err := t.tx.Exec(t.ctx, `INSERT INTO account_data (account_id, data, reserve) VALUES ($1, $2, $3)
        ON CONFLICT (account_id) DO NOTHING`, ids[code], data, reserve)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrAccountExists, code)
	}

	if reserve > 0 {
		if err := ensureAccount(t.ctx, t.tx, RentAccountCode); err != nil {
			return err
		}
		return t.Transfer(payer, RentAccountCode, reserve)
	}
	return nil
}

// AccountData locks the owning account row before the data row, so a
// later Transfer or CloseAccount on the same account extends the same lock
// order CreateAccount uses.
func (t *pgTx) AccountData(code string) ([]byte, error) {
	ids, err := lockAccounts(t.ctx, t.tx, code)
	if err != nil {
		return nil, err
	}
	var data []byte
	if err := t.tx.QueryRow(t.ctx, `SELECT data FROM account_data WHERE account_id = $1 FOR UPDATE`, ids[code]).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, code)
		}
		return nil, err
	}
	return data, nil
}

func (t *pgTx) CloseAccount(code, beneficiary string) (int64, error) {
	ids, err := lockAccounts(t.ctx, t.tx, code, beneficiary)
	if err != nil {
		return 0, err
	}
	accountID := ids[code]

	var reserve int64
	err = t.tx.QueryRow(t.ctx, `DELETE FROM account_data WHERE account_id = $1 RETURNING reserve`, accountID).Scan(&reserve)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s", ErrAccountNotFound, code)
		}
		return 0, err
	}

	remaining, err := balanceForAccount(t.ctx, t.tx, accountID)
	if err != nil {
		return 0, err
	}
	if remaining > 0 {
		if err := t.Transfer(code, beneficiary, remaining); err != nil {
			return 0, err
		}
	}
	if reserve > 0 {
		if err := t.Transfer(RentAccountCode, beneficiary, reserve); err != nil {
			return 0, err
		}
	}
	return remaining + reserve, nil
}

func (t *pgTx) transactionID() (uuid.UUID, error) {
	if t.txID != uuid.Nil {
		return t.txID, nil
	}
	id := uuid.New()
	if _, err := t.tx.Exec(t.ctx, `INSERT INTO transactions (id, client_tx_id, kind, status) VALUES ($1, $2, $3, $4)`, id, id.String(), KindUpdate, statusCompleted); err != nil {
		return uuid.Nil, err
	}
	t.txID = id
	return id, nil
}

func postEntries(ctx context.Context, tx pgx.Tx, txID, fromID, toID uuid.UUID, amount int64) error {
	if _, err := tx.Exec(ctx, `INSERT INTO entries (id, transaction_id, account_id, amount) VALUES ($1, $2, $3, $4)`, uuid.New(), txID, fromID, -amount); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `INSERT INTO entries (id, transaction_id, account_id, amount) VALUES ($1, $2, $3, $4)`, uuid.New(), txID, toID, amount)
	return err
}

// ensureAccount inserts the account row without locking it. Callers take
// their locks afterwards through lockAccounts.
func ensureAccount(ctx context.Context, tx pgx.Tx, code string) error {
	_, err := tx.Exec(ctx, `INSERT INTO accounts (id, code) VALUES ($1, $2)
        ON CONFLICT (code) DO NOTHING`, uuid.New(), code)
	return err
}

// lockAccounts resolves codes to ids and row-locks owner accounts in sorted
// code order, the only order any transaction takes them in. System accounts
// are read without a lock: the mint is never balance-checked and the rent
// account always holds at least the reserves it will refund.
func lockAccounts(ctx context.Context, tx pgx.Tx, codes ...string) (map[string]uuid.UUID, error) {
	sorted := append([]string(nil), codes...)
	sort.Strings(sorted)
	ids := make(map[string]uuid.UUID, len(sorted))
	for _, code := range sorted {
		if _, ok := ids[code]; ok {
			continue
		}
		query := `SELECT id FROM accounts WHERE code = $1 FOR UPDATE`
		if isSystemAccount(code) {
			query = `SELECT id FROM accounts WHERE code = $1`
		}
		var id uuid.UUID
		if err := tx.QueryRow(ctx, query, code).Scan(&id); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, code)
			}
			return nil, err
		}
		ids[code] = id
	}
	return ids, nil
}

func balanceForAccount(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (int64, error) {
	const query = `SELECT COALESCE(SUM(amount), 0) FROM entries WHERE account_id = $1`
	var balance int64
	if err := tx.QueryRow(ctx, query, accountID).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return balance, nil
}
