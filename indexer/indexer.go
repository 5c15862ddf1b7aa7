// Package indexer keeps the local transaction index in step with the ledger. It records freshly submitted
// transactions, sweeps pending ones for confirmation, serves hash and participant lookups, and backfills
// historical ranges from the token program's event log.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/tourcoin/tourcoin/lib/ledger"
	"github.com/tourcoin/tourcoin/lib/store"
)

// Indexer maintains the transaction index for one network.
type Indexer struct {
	db      store.DB
	lg      ledger.Client
	network string
	chunk   uint64 // backfill chunk size in blocks

	onFailure func(store.TxRecord) // invoked when a live transaction turns failed
}

// New instantiates an indexer. chunk bounds how many blocks a single backfill event query may span.
func New(db store.DB, lg ledger.Client, network string, chunk uint64) *Indexer {
	if chunk == 0 {
		chunk = 500
	}
	return &Indexer{db: db, lg: lg, network: network, chunk: chunk}
}

// OnFailure registers the hook fired when a pending transaction is observed failing. Historical failures
// found during backfill do not fire it.
func (ix *Indexer) OnFailure(fn func(store.TxRecord)) {
	ix.onFailure = fn
}

// RecordPending indexes a just-submitted transaction. The record keeps its submission data until a receipt
// arrives.
func (ix *Indexer) RecordPending(rec store.TxRecord) error {
	rec.Status = store.StatusPending
	rec.Block = nil
	if err := ix.db.UpsertTx(rec); err != nil {
		return fmt.Errorf("could not index pending transaction %s: %w", rec.Hash, err)
	}
	return nil
}

// applyReceipt merges a terminal receipt into the stored record and fires the failure hook when appropriate.
func (ix *Indexer) applyReceipt(rec store.TxRecord, r *ledger.Receipt) error {
	block := r.Block
	rec.Status = r.Status
	rec.Block = &block
	rec.BlockIndex = r.BlockIndex
	rec.GasUsed = r.GasUsed
	rec.GasPrice = r.GasPrice
	rec.Fee = r.Fee
	rec.Reason = r.Reason

	if err := ix.db.UpsertTx(rec); err != nil {
		return fmt.Errorf("could not update transaction %s: %w", rec.Hash, err)
	}
	if rec.Status == store.StatusFailed && ix.onFailure != nil {
		ix.onFailure(rec)
	}
	return nil
}

// MarkConfirmed applies a confirmation to the indexed record for hash.
func (ix *Indexer) MarkConfirmed(hash string, block uint64, blockIndex uint, gasUsed, gasPrice, fee uint64) error {
	rec, err := ix.db.GetTx(hash)
	if err != nil {
		return err
	}
	return ix.applyReceipt(rec, &ledger.Receipt{
		Hash: hash, Status: store.StatusConfirmed, Block: block, BlockIndex: blockIndex,
		GasUsed: gasUsed, GasPrice: gasPrice, Fee: fee,
	})
}

// MarkFailed records a terminal failure for hash and fires the failure hook.
func (ix *Indexer) MarkFailed(hash, reason string, block uint64) error {
	rec, err := ix.db.GetTx(hash)
	if err != nil {
		return err
	}
	return ix.applyReceipt(rec, &ledger.Receipt{
		Hash: hash, Status: store.StatusFailed, Block: block, Reason: reason,
	})
}

// PollPending fetches a receipt for every pending record and applies terminal ones.
func (ix *Indexer) PollPending(ctx context.Context) error {
	pending, err := ix.db.ListTxsByStatus(store.StatusPending)
	if err != nil {
		return fmt.Errorf("could not list pending transactions: %w", err)
	}

	for _, rec := range pending {
		r, err := ix.lg.TransactionReceipt(ctx, rec.Hash)
		if err != nil {
			// node trouble stops the sweep, the next tick retries
			return fmt.Errorf("receipt for %s: %w", rec.Hash, err)
		}
		if r == nil || r.Status == ledger.StatusPending {
			continue
		}
		if err = ix.applyReceipt(rec, r); err != nil {
			return err
		}
	}
	return nil
}

// Run sweeps pending transactions at the given interval until the context is cancelled.
func (ix *Indexer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ix.PollPending(ctx); err != nil {
				log.Printf("[%s] pending sweep: %v", ix.network, err)
			}
		}
	}
}

// GetByHash returns the indexed record for hash. On an index miss it reads through to the ledger, caches what
// the receipt tells us, and returns that; an unknown hash maps to store.ErrTxNotFound.
func (ix *Indexer) GetByHash(ctx context.Context, hash string) (store.TxRecord, error) {
	rec, err := ix.db.GetTx(hash)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, store.ErrTxNotFound) {
		return store.TxRecord{}, err
	}

	r, err := ix.lg.TransactionReceipt(ctx, hash)
	if err != nil {
		return store.TxRecord{}, fmt.Errorf("receipt for %s: %w", hash, err)
	}
	if r == nil {
		return store.TxRecord{}, store.ErrTxNotFound
	}

	rec = store.TxRecord{Hash: hash, Status: r.Status}
	if r.Status != ledger.StatusPending {
		block := r.Block
		rec.Block = &block
		rec.BlockIndex = r.BlockIndex
		rec.GasUsed = r.GasUsed
		rec.GasPrice = r.GasPrice
		rec.Fee = r.Fee
		rec.Reason = r.Reason
	}
	if err = ix.db.UpsertTx(rec); err != nil {
		return store.TxRecord{}, fmt.Errorf("could not cache transaction %s: %w", hash, err)
	}
	return ix.db.GetTx(hash)
}

// Refresh re-polls the ledger for hash and applies a terminal receipt to the index, returning the freshest
// record. Unknown hashes map to store.ErrTxNotFound.
func (ix *Indexer) Refresh(ctx context.Context, hash string) (store.TxRecord, error) {
	rec, err := ix.GetByHash(ctx, hash)
	if err != nil {
		return store.TxRecord{}, err
	}
	if rec.Terminal() {
		return rec, nil
	}

	r, err := ix.lg.TransactionReceipt(ctx, hash)
	if err != nil {
		return store.TxRecord{}, fmt.Errorf("receipt for %s: %w", hash, err)
	}
	if r == nil || r.Status == ledger.StatusPending {
		return rec, nil
	}
	if err = ix.applyReceipt(rec, r); err != nil {
		return store.TxRecord{}, err
	}
	return ix.db.GetTx(hash)
}

// ListByParticipant returns the participant's transaction history, pending first then newest first.
func (ix *Indexer) ListByParticipant(id string, limit, offset int) ([]store.TxRecord, error) {
	return ix.db.ListTxsByParticipant(id, limit, offset)
}

// Backfill indexes the token program events in [from, to]. A zero to means the current head. The scan runs in
// chunks, saving the checkpoint after each so an interrupted run resumes instead of restarting. The checkpoint
// resumes only a range it falls inside; a disjoint range is scanned in full, and the checkpoint never moves
// backward. Returns the number of records written.
func (ix *Indexer) Backfill(ctx context.Context, from, to uint64) (int, error) {
	if to == 0 {
		ns, err := ix.lg.NetworkStatus(ctx)
		if err != nil {
			return 0, fmt.Errorf("could not resolve the chain head: %w", err)
		}
		to = ns.BlockNumber
	}
	if from > to {
		return 0, fmt.Errorf("invalid range [%d, %d]", from, to)
	}

	cp, err := ix.db.LoadCheckpoint(store.CheckpointBackfill)
	haveCp := err == nil
	if err != nil && !errors.Is(err, store.ErrDataNotFound) {
		return 0, fmt.Errorf("could not load the backfill checkpoint: %w", err)
	}

	start := from
	if haveCp && cp >= from && cp <= to {
		start = cp + 1
	}

	indexed := 0
	for lo := start; lo <= to; {
		hi := lo + ix.chunk - 1
		if hi > to {
			hi = to
		}

		events, err := ix.lg.Events(ctx, lo, hi)
		if err != nil {
			return indexed, fmt.Errorf("events [%d, %d]: %w", lo, hi, err)
		}
		for _, ev := range events {
			if err = ix.db.UpsertTx(eventToRecord(ev)); err != nil {
				return indexed, fmt.Errorf("could not index event %s: %w", ev.Hash, err)
			}
			indexed++
		}
		if !haveCp || hi > cp {
			if err = ix.db.SaveCheckpoint(store.CheckpointBackfill, hi); err != nil {
				return indexed, fmt.Errorf("could not save the backfill checkpoint: %w", err)
			}
			cp, haveCp = hi, true
		}

		log.Printf("[%s] backfilled blocks %d-%d, %d events", ix.network, lo, hi, len(events))
		lo = hi + 1

		select {
		case <-ctx.Done():
			return indexed, ctx.Err()
		default:
		}
	}
	return indexed, nil
}

func eventToRecord(ev ledger.Event) store.TxRecord {
	block := ev.Block
	return store.TxRecord{
		Hash:       ev.Hash,
		Type:       ev.Type,
		From:       ev.From,
		To:         ev.To,
		FromID:     ev.FromID,
		ToID:       ev.ToID,
		Amount:     ev.Amount,
		Status:     ev.Status,
		Block:      &block,
		BlockIndex: ev.BlockIndex,
		GasUsed:    ev.GasUsed,
		GasPrice:   ev.GasPrice,
		Fee:        ev.Fee,
		ExpiresAt:  ev.ExpiresAt,
	}
}
