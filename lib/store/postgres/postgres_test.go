package postgres

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/tourcoin/tourcoin/lib/store"
)

var txColumnNames = []string{"hash", "type", "from_addr", "to_addr", "from_id", "to_id", "amount",
	"status", "block", "block_index", "gas_used", "gas_price", "fee", "expires_at", "reason", "metadata",
	"seq", "created_at", "updated_at"}

// TestGetTx checks row scanning and the not-found sentinel.
func TestGetTx(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	p := NewFromDB(conn)
	defer p.ClosePostgres()

	hash := "0x64e604787cbf194841e7b68d7cd28786f6c9a0a3ab9f8b0a0e87cb4387ab0107"
	now := time.Now()

	mock.ExpectQuery(`SELECT (.+) FROM transactions WHERE hash`).
		WithArgs(hash).
		WillReturnRows(sqlmock.NewRows(txColumnNames).AddRow(
			hash, store.TxTransfer, "0xaaaa", "0xbbbb", "T1", "M1", int64(2),
			store.StatusConfirmed, int64(120), int64(1), int64(21000), int64(1000000000), int64(21000000000000),
			nil, "", "", int64(7), now, now))

	rec, err := p.GetTx(hash)
	if err != nil {
		t.Fatalf("GetTx: %v", err)
	}
	if rec.Hash != hash || rec.Amount != 2 || rec.Block == nil || *rec.Block != 120 || rec.Seq != 7 {
		t.Errorf("unexpected record: %+v", rec)
	}

	mock.ExpectQuery(`SELECT (.+) FROM transactions WHERE hash`).
		WithArgs(hash).
		WillReturnRows(sqlmock.NewRows(txColumnNames))

	if _, err = p.GetTx(hash); err != store.ErrTxNotFound {
		t.Errorf("expected ErrTxNotFound, got %v", err)
	}

	if err = mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

// TestUpsertTx checks that the conflict statement is issued with the status guard in place.
func TestUpsertTx(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	p := NewFromDB(conn)
	defer p.ClosePostgres()

	mock.ExpectExec(`(?s)INSERT INTO transactions .+ ON CONFLICT \(hash\) DO UPDATE SET.+`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = p.UpsertTx(store.TxRecord{
		Hash:   "0xabc",
		Type:   store.TxIssuance,
		From:   "0x0",
		To:     "0x1",
		ToID:   "T1",
		Amount: 10,
		Status: store.StatusPending,
	})
	if err != nil {
		t.Fatalf("UpsertTx: %v", err)
	}

	if err = mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

// TestListTxsByParticipant checks pagination clamping and the ordering clause.
func TestListTxsByParticipant(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	p := NewFromDB(conn)
	defer p.ClosePostgres()

	now := time.Now()
	mock.ExpectQuery(`(?s)SELECT .+ FROM transactions.+WHERE from_id = .+ORDER BY COALESCE\(block, 9223372036854775807\) DESC`).
		WithArgs("T1", store.MaxPageSize, 0).
		WillReturnRows(sqlmock.NewRows(txColumnNames).AddRow(
			"0xabc", store.TxIssuance, "0x0", "0x1", "", "T1", int64(10),
			store.StatusPending, nil, int64(0), int64(0), int64(0), int64(0),
			nil, "", "", int64(1), now, now))

	recs, err := p.ListTxsByParticipant("T1", 0, -5) // clamped to (MaxPageSize, 0)
	if err != nil {
		t.Fatalf("ListTxsByParticipant: %v", err)
	}
	if len(recs) != 1 || recs[0].Status != store.StatusPending || recs[0].Block != nil {
		t.Errorf("unexpected records: %+v", recs)
	}

	if err = mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

// TestCheckpoint checks the save/load round trip statements.
func TestCheckpoint(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	p := NewFromDB(conn)
	defer p.ClosePostgres()

	mock.ExpectExec(`INSERT INTO checkpoints`).
		WithArgs(store.CheckpointBackfill, int64(500)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err = p.SaveCheckpoint(store.CheckpointBackfill, 500); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	mock.ExpectQuery(`SELECT block FROM checkpoints`).
		WithArgs(store.CheckpointBackfill).
		WillReturnRows(sqlmock.NewRows([]string{"block"}).AddRow(int64(500)))
	block, err := p.LoadCheckpoint(store.CheckpointBackfill)
	if err != nil || block != 500 {
		t.Errorf("LoadCheckpoint: %d %v", block, err)
	}

	mock.ExpectQuery(`SELECT block FROM checkpoints`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"block"}))
	if _, err = p.LoadCheckpoint("missing"); err != store.ErrDataNotFound {
		t.Errorf("expected ErrDataNotFound, got %v", err)
	}

	if err = mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}
