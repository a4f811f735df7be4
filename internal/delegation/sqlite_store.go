package delegation

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/0xtide/delegated-trading-engine/pkg/types"
)

// SQLiteStore persists delegations and audit entries to a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so maintenance sweeps can read while the scheduler writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS delegations (
			id                  TEXT PRIMARY KEY,
			user_id             TEXT NOT NULL,
			wallet_address      TEXT NOT NULL COLLATE NOCASE,
			session_key_address TEXT NOT NULL,
			encrypted_key       TEXT NOT NULL,
			chain               TEXT NOT NULL,
			allowed_protocols   TEXT,
			allowed_tokens      TEXT,
			max_trade_usd       TEXT NOT NULL,
			daily_limit_usd     TEXT NOT NULL,
			daily_used_usd      TEXT NOT NULL,
			daily_reset_at      INTEGER NOT NULL,
			valid_from          INTEGER NOT NULL,
			valid_until         INTEGER NOT NULL,
			status              TEXT NOT NULL,
			created_at          INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_delegations_wallet ON delegations(wallet_address)`,

		`CREATE TABLE IF NOT EXISTS delegation_audit (
			seq           INTEGER PRIMARY KEY AUTOINCREMENT,
			id            TEXT NOT NULL,
			delegation_id TEXT NOT NULL,
			action        TEXT NOT NULL,
			actor         TEXT NOT NULL,
			reason        TEXT,
			timestamp     INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_delegation ON delegation_audit(delegation_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, d *Delegation) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO delegations
		(id, user_id, wallet_address, session_key_address, encrypted_key, chain,
		 allowed_protocols, allowed_tokens, max_trade_usd, daily_limit_usd,
		 daily_used_usd, daily_reset_at, valid_from, valid_until, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.UserID, d.WalletAddress, d.SessionKeyAddress, d.EncryptedKey,
		string(d.Chain), strings.Join(d.AllowedProtocols, ","), strings.Join(d.AllowedTokens, ","),
		d.MaxTradeAmountUSD.String(), d.DailyLimitUSD.String(), d.DailyUsedUSD.String(),
		d.DailyResetAt.Unix(), d.ValidFrom.Unix(), d.ValidUntil.Unix(),
		string(d.Status), d.CreatedAt.Unix())
	return err
}

func (s *SQLiteStore) Update(ctx context.Context, d *Delegation) error {
	_, err := s.db.ExecContext(ctx, `UPDATE delegations SET
		daily_used_usd = ?, daily_reset_at = ?, status = ?
		WHERE id = ?`,
		d.DailyUsedUSD.String(), d.DailyResetAt.Unix(), string(d.Status), d.ID)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Delegation, error) {
	row := s.db.QueryRowContext(ctx, selectDelegation+` WHERE id = ?`, id)
	d, err := scanDelegation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

func (s *SQLiteStore) ListByWallet(ctx context.Context, wallet string) ([]*Delegation, error) {
	rows, err := s.db.QueryContext(ctx, selectDelegation+` WHERE wallet_address = ?`, wallet)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDelegations(rows)
}

func (s *SQLiteStore) ListAll(ctx context.Context) ([]*Delegation, error) {
	rows, err := s.db.QueryContext(ctx, selectDelegation)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDelegations(rows)
}

func (s *SQLiteStore) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO delegation_audit
		(id, delegation_id, action, actor, reason, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.DelegationID, entry.Action, entry.Actor, entry.Reason,
		entry.Timestamp.Unix())
	return err
}

func (s *SQLiteStore) AuditHistory(ctx context.Context, delegationID string) ([]*AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, delegation_id, action, actor, reason, timestamp
		FROM delegation_audit WHERE delegation_id = ? ORDER BY seq ASC`, delegationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AuditEntry
	for rows.Next() {
		var e AuditEntry
		var ts int64
		if err := rows.Scan(&e.ID, &e.DelegationID, &e.Action, &e.Actor, &e.Reason, &ts); err != nil {
			return nil, err
		}
		e.Timestamp = time.Unix(ts, 0).UTC()
		out = append(out, &e)
	}
	return out, rows.Err()
}

const selectDelegation = `SELECT id, user_id, wallet_address, session_key_address,
	encrypted_key, chain, allowed_protocols, allowed_tokens, max_trade_usd,
	daily_limit_usd, daily_used_usd, daily_reset_at, valid_from, valid_until,
	status, created_at FROM delegations`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDelegation(row rowScanner) (*Delegation, error) {
	var d Delegation
	var chain, protocols, tokens, maxTrade, dailyLimit, dailyUsed, status string
	var resetAt, validFrom, validUntil, createdAt int64

	err := row.Scan(&d.ID, &d.UserID, &d.WalletAddress, &d.SessionKeyAddress,
		&d.EncryptedKey, &chain, &protocols, &tokens, &maxTrade, &dailyLimit,
		&dailyUsed, &resetAt, &validFrom, &validUntil, &status, &createdAt)
	if err != nil {
		return nil, err
	}

	d.Chain = types.Chain(chain)
	d.AllowedProtocols = splitList(protocols)
	d.AllowedTokens = splitList(tokens)
	d.Status = Status(status)
	d.DailyResetAt = time.Unix(resetAt, 0).UTC()
	d.ValidFrom = time.Unix(validFrom, 0).UTC()
	d.ValidUntil = time.Unix(validUntil, 0).UTC()
	d.CreatedAt = time.Unix(createdAt, 0).UTC()

	if d.MaxTradeAmountUSD, err = decimal.NewFromString(maxTrade); err != nil {
		return nil, fmt.Errorf("parse max_trade_usd: %w", err)
	}
	if d.DailyLimitUSD, err = decimal.NewFromString(dailyLimit); err != nil {
		return nil, fmt.Errorf("parse daily_limit_usd: %w", err)
	}
	if d.DailyUsedUSD, err = decimal.NewFromString(dailyUsed); err != nil {
		return nil, fmt.Errorf("parse daily_used_usd: %w", err)
	}
	return &d, nil
}

func collectDelegations(rows *sql.Rows) ([]*Delegation, error) {
	var out []*Delegation
	for rows.Next() {
		d, err := scanDelegation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func splitList(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, ",")
}
