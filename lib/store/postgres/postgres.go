// Package postgres implements the store interface for PostgreSQL.
package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq" // load the postgres driver that is used by the system

	"github.com/tourcoin/tourcoin/lib/store"
	"github.com/tourcoin/tourcoin/lib/util"
)

// Postgres implements a connection to a PostgreSQL database.
type Postgres struct {
	db *sql.DB
}

const txColumns = `hash, type, from_addr, to_addr, from_id, to_id, amount, status, block, block_index, gas_used, gas_price, fee, expires_at, reason, metadata, seq, created_at, updated_at`

// New returns a postgres client connection to the specified database in 'connection'.
func New(connection string) (*Postgres, error) {
	db, err := sql.Open("postgres", connection)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to DB in %s: %w", connection, err)
	}

	return &Postgres{db: db}, nil
}

// NewFromDB wraps an existing connection. Used by the tests.
func NewFromDB(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// ClosePostgres will close the database connection. Must be called at termination time.
func (p *Postgres) ClosePostgres() error {
	return p.db.Close()
}

// Migrate creates the schema when it does not exist yet.
func (p *Postgres) Migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tourists (
			id TEXT PRIMARY KEY,
			country TEXT NOT NULL,
			arrival_date TIMESTAMPTZ NOT NULL,
			departure_date TIMESTAMPTZ NOT NULL,
			address TEXT NOT NULL,
			registered_at TIMESTAMPTZ NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS restaurants (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			address TEXT NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			hash TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			from_addr TEXT NOT NULL,
			to_addr TEXT NOT NULL,
			from_id TEXT NOT NULL DEFAULT '',
			to_id TEXT NOT NULL DEFAULT '',
			amount BIGINT NOT NULL,
			status TEXT NOT NULL,
			block BIGINT,
			block_index BIGINT NOT NULL DEFAULT 0,
			gas_used BIGINT NOT NULL DEFAULT 0,
			gas_price BIGINT NOT NULL DEFAULT 0,
			fee BIGINT NOT NULL DEFAULT 0,
			expires_at TIMESTAMPTZ,
			reason TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '',
			seq BIGSERIAL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL)`,
		`CREATE INDEX IF NOT EXISTS transactions_participant ON transactions (from_id, to_id)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id BIGSERIAL PRIMARY KEY,
			kind TEXT NOT NULL,
			severity TEXT NOT NULL,
			message TEXT NOT NULL,
			details TEXT NOT NULL DEFAULT '',
			at TIMESTAMPTZ NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			key TEXT PRIMARY KEY,
			block BIGINT NOT NULL)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// PutTourist saves a tourist record keyed by its id.
func (p *Postgres) PutTourist(t store.Tourist) error {
	_, err := p.db.Exec(`INSERT INTO tourists (id, country, arrival_date, departure_date, address, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET country = EXCLUDED.country, arrival_date = EXCLUDED.arrival_date,
			departure_date = EXCLUDED.departure_date, address = EXCLUDED.address`,
		t.ID, t.Country, t.ArrivalDate, t.DepartureDate, t.Address, t.RegisteredAt)
	if err != nil {
		return fmt.Errorf("could not save tourist %s: %w", t.ID, err)
	}
	return nil
}

// GetTourist returns the tourist or store.ErrParticipantNotFound.
func (p *Postgres) GetTourist(id string) (store.Tourist, error) {
	var t store.Tourist
	err := p.db.QueryRow(`SELECT id, country, arrival_date, departure_date, address, registered_at
		FROM tourists WHERE id = $1`, id).
		Scan(&t.ID, &t.Country, &t.ArrivalDate, &t.DepartureDate, &t.Address, &t.RegisteredAt)
	if err == sql.ErrNoRows {
		return t, store.ErrParticipantNotFound
	}
	return t, err
}

// ListTourists returns all registered tourists.
func (p *Postgres) ListTourists() ([]store.Tourist, error) {
	rows, err := p.db.Query(`SELECT id, country, arrival_date, departure_date, address, registered_at FROM tourists`)
	if err != nil {
		return nil, fmt.Errorf("error listing tourists: %w", err)
	}
	defer rows.Close()

	out := []store.Tourist{}
	for rows.Next() {
		var t store.Tourist
		if err = rows.Scan(&t.ID, &t.Country, &t.ArrivalDate, &t.DepartureDate, &t.Address, &t.RegisteredAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// PutRestaurant saves a restaurant record keyed by its place id.
func (p *Postgres) PutRestaurant(r store.Restaurant) error {
	_, err := p.db.Exec(`INSERT INTO restaurants (id, name, address) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, address = EXCLUDED.address`,
		r.ID, r.Name, r.Address)
	if err != nil {
		return fmt.Errorf("could not save restaurant %s: %w", r.ID, err)
	}
	return nil
}

// GetRestaurant returns the restaurant or store.ErrParticipantNotFound.
func (p *Postgres) GetRestaurant(id string) (store.Restaurant, error) {
	var r store.Restaurant
	err := p.db.QueryRow(`SELECT id, name, address FROM restaurants WHERE id = $1`, id).
		Scan(&r.ID, &r.Name, &r.Address)
	if err == sql.ErrNoRows {
		return r, store.ErrParticipantNotFound
	}
	return r, err
}

// UpsertTx merges rec into the transactions table keyed by hash. The conflict guard refuses to rewind a
// terminal status back to pending; everything else is last-writer-wins.
func (p *Postgres) UpsertTx(rec store.TxRecord) error {
	var block sql.NullInt64
	if rec.Block != nil {
		block = sql.NullInt64{Int64: int64(*rec.Block), Valid: true}
	}
	var expires sql.NullTime
	if rec.ExpiresAt != nil {
		expires = sql.NullTime{Time: *rec.ExpiresAt, Valid: true}
	}
	meta := ""
	if len(rec.Metadata) > 0 {
		b, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("could not encode metadata for %s: %w", rec.Hash, err)
		}
		meta = string(b)
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	_, err := p.db.Exec(`INSERT INTO transactions (hash, type, from_addr, to_addr, from_id, to_id, amount,
			status, block, block_index, gas_used, gas_price, fee, expires_at, reason, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $17)
		ON CONFLICT (hash) DO UPDATE SET
			status = EXCLUDED.status,
			block = EXCLUDED.block,
			block_index = EXCLUDED.block_index,
			gas_used = EXCLUDED.gas_used,
			gas_price = EXCLUDED.gas_price,
			fee = EXCLUDED.fee,
			expires_at = COALESCE(EXCLUDED.expires_at, transactions.expires_at),
			reason = EXCLUDED.reason,
			metadata = CASE WHEN EXCLUDED.metadata = '' THEN transactions.metadata ELSE EXCLUDED.metadata END,
			updated_at = EXCLUDED.updated_at
		WHERE NOT (transactions.status <> 'pending' AND EXCLUDED.status = 'pending')`,
		rec.Hash, rec.Type, rec.From, rec.To, rec.FromID, rec.ToID, int64(rec.Amount),
		rec.Status, block, int64(rec.BlockIndex), int64(rec.GasUsed), int64(rec.GasPrice), int64(rec.Fee),
		expires, rec.Reason, meta, created)
	if err != nil {
		return fmt.Errorf("could not upsert transaction %s: %w", rec.Hash, err)
	}
	return nil
}

// GetTx returns the record for hash or store.ErrTxNotFound.
func (p *Postgres) GetTx(hash string) (store.TxRecord, error) {
	row := p.db.QueryRow(`SELECT `+txColumns+` FROM transactions WHERE hash = $1`, hash)
	rec, err := scanTx(row)
	if err == sql.ErrNoRows {
		return rec, store.ErrTxNotFound
	}
	return rec, err
}

// ListTxsByParticipant returns the participant's records newest first (see store.DB for the ordering key).
func (p *Postgres) ListTxsByParticipant(id string, limit, offset int) ([]store.TxRecord, error) {
	limit, offset = util.ClampPage(limit, offset, store.MaxPageSize)

	rows, err := p.db.Query(`SELECT `+txColumns+` FROM transactions
		WHERE from_id = $1 OR to_id = $1
		ORDER BY COALESCE(block, 9223372036854775807) DESC, block_index DESC, seq DESC
		LIMIT $2 OFFSET $3`, id, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("error listing transactions for %s: %w", id, err)
	}
	return scanTxs(rows)
}

// ListTxsByStatus returns every record currently in the given status.
func (p *Postgres) ListTxsByStatus(status string) ([]store.TxRecord, error) {
	rows, err := p.db.Query(`SELECT `+txColumns+` FROM transactions WHERE status = $1`, status)
	if err != nil {
		return nil, fmt.Errorf("error listing %s transactions: %w", status, err)
	}
	return scanTxs(rows)
}

// ListTxsSince returns records created at or after since.
func (p *Postgres) ListTxsSince(since time.Time) ([]store.TxRecord, error) {
	rows, err := p.db.Query(`SELECT `+txColumns+` FROM transactions WHERE created_at >= $1`, since)
	if err != nil {
		return nil, fmt.Errorf("error listing transactions since %s: %w", since, err)
	}
	return scanTxs(rows)
}

// AppendAlert appends to the alert log.
func (p *Postgres) AppendAlert(a store.Alert) error {
	details := ""
	if len(a.Details) > 0 {
		b, err := json.Marshal(a.Details)
		if err != nil {
			return fmt.Errorf("could not encode alert details: %w", err)
		}
		details = string(b)
	}
	_, err := p.db.Exec(`INSERT INTO alerts (kind, severity, message, details, at) VALUES ($1, $2, $3, $4, $5)`,
		a.Kind, a.Severity, a.Message, details, a.At)
	if err != nil {
		return fmt.Errorf("could not append alert: %w", err)
	}
	return nil
}

// ListAlertsSince returns alerts recorded at or after since.
func (p *Postgres) ListAlertsSince(since time.Time) ([]store.Alert, error) {
	rows, err := p.db.Query(`SELECT kind, severity, message, details, at FROM alerts WHERE at >= $1 ORDER BY at`, since)
	if err != nil {
		return nil, fmt.Errorf("error listing alerts: %w", err)
	}
	defer rows.Close()

	out := []store.Alert{}
	for rows.Next() {
		var a store.Alert
		var details string
		if err = rows.Scan(&a.Kind, &a.Severity, &a.Message, &details, &a.At); err != nil {
			return nil, err
		}
		if details != "" {
			if err = json.Unmarshal([]byte(details), &a.Details); err != nil {
				return nil, fmt.Errorf("could not decode alert details: %w", err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveCheckpoint stores the named block checkpoint.
func (p *Postgres) SaveCheckpoint(key string, block uint64) error {
	_, err := p.db.Exec(`INSERT INTO checkpoints (key, block) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET block = EXCLUDED.block`, key, int64(block))
	if err != nil {
		return fmt.Errorf("could not save checkpoint %s: %w", key, err)
	}
	return nil
}

// LoadCheckpoint returns the named checkpoint or store.ErrDataNotFound.
func (p *Postgres) LoadCheckpoint(key string) (uint64, error) {
	var block int64
	err := p.db.QueryRow(`SELECT block FROM checkpoints WHERE key = $1`, key).Scan(&block)
	if err == sql.ErrNoRows {
		return 0, store.ErrDataNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("could not load checkpoint %s: %w", key, err)
	}
	return uint64(block), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTx(row rowScanner) (store.TxRecord, error) {
	var rec store.TxRecord
	var block sql.NullInt64
	var expires sql.NullTime
	var amount, blockIndex, gasUsed, gasPrice, fee, seq int64
	var meta string

	err := row.Scan(&rec.Hash, &rec.Type, &rec.From, &rec.To, &rec.FromID, &rec.ToID, &amount,
		&rec.Status, &block, &blockIndex, &gasUsed, &gasPrice, &fee, &expires, &rec.Reason, &meta,
		&seq, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return rec, err
	}
	rec.Amount = uint64(amount)
	rec.BlockIndex = uint(blockIndex)
	rec.GasUsed = uint64(gasUsed)
	rec.GasPrice = uint64(gasPrice)
	rec.Fee = uint64(fee)
	rec.Seq = uint64(seq)
	if block.Valid {
		b := uint64(block.Int64)
		rec.Block = &b
	}
	if expires.Valid {
		t := expires.Time
		rec.ExpiresAt = &t
	}
	if meta != "" {
		if err = json.Unmarshal([]byte(meta), &rec.Metadata); err != nil {
			return rec, fmt.Errorf("could not decode metadata for %s: %w", rec.Hash, err)
		}
	}
	return rec, nil
}

func scanTxs(rows *sql.Rows) ([]store.TxRecord, error) {
	defer rows.Close()

	out := []store.TxRecord{}
	for rows.Next() {
		rec, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
