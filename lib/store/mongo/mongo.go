// Package mongo implements the store interface for MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tourcoin/tourcoin/lib/store"
	"github.com/tourcoin/tourcoin/lib/util"
)

const database = "tourcoin"

// Mongo implements a connection to a MongoDB database.
type Mongo struct {
	c *mgo.Client
}

// New returns a Mongo client connection to the specified MongoDB database uri.
func New(uri string) (*Mongo, error) {
	c, err := mgo.NewClient(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongo DB in %s: %w", uri, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err = c.Connect(ctx); err != nil {
		return nil, fmt.Errorf("error connecting to mongo DB: %w", err)
	}

	return &Mongo{c: c}, nil
}

// CloseMongo will close the database connection. Must be called at termination time.
func (m *Mongo) CloseMongo() error {
	return m.c.Disconnect(context.Background())
}

func (m *Mongo) col(name string) *mgo.Collection {
	return m.c.Database(database).Collection(name)
}

// PutTourist saves a tourist record keyed by its id.
func (m *Mongo) PutTourist(t store.Tourist) error {
	_, err := m.col("tourists").ReplaceOne(context.Background(),
		bson.M{"_id": t.ID}, t, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("could not save tourist %s: %w", t.ID, err)
	}
	return nil
}

// GetTourist returns the tourist or store.ErrParticipantNotFound.
func (m *Mongo) GetTourist(id string) (store.Tourist, error) {
	var t store.Tourist
	err := m.col("tourists").FindOne(context.Background(), bson.M{"_id": id}).Decode(&t)
	if errors.Is(err, mgo.ErrNoDocuments) {
		return t, store.ErrParticipantNotFound
	}
	return t, err
}

// ListTourists returns all registered tourists.
func (m *Mongo) ListTourists() ([]store.Tourist, error) {
	cur, err := m.col("tourists").Find(context.Background(), bson.M{})
	if err != nil {
		return nil, fmt.Errorf("error listing tourists: %w", err)
	}
	defer cur.Close(context.Background())

	out := []store.Tourist{}
	for cur.Next(context.Background()) {
		var t store.Tourist
		if err = cur.Decode(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, cur.Err()
}

// PutRestaurant saves a restaurant record keyed by its place id.
func (m *Mongo) PutRestaurant(r store.Restaurant) error {
	_, err := m.col("restaurants").ReplaceOne(context.Background(),
		bson.M{"_id": r.ID}, r, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("could not save restaurant %s: %w", r.ID, err)
	}
	return nil
}

// GetRestaurant returns the restaurant or store.ErrParticipantNotFound.
func (m *Mongo) GetRestaurant(id string) (store.Restaurant, error) {
	var r store.Restaurant
	err := m.col("restaurants").FindOne(context.Background(), bson.M{"_id": id}).Decode(&r)
	if errors.Is(err, mgo.ErrNoDocuments) {
		return r, store.ErrParticipantNotFound
	}
	return r, err
}

// txDoc wraps a TxRecord with the precomputed descending sort key so a single compound sort yields
// pending-first, newest-first pagination.
type txDoc struct {
	store.TxRecord `bson:",inline"`
	SortKey        int64 `bson:"sortBlock"`
}

// UpsertTx merges rec into the transactions collection keyed by hash. Terminal statuses are never downgraded.
func (m *Mongo) UpsertTx(rec store.TxRecord) error {
	ctx := context.Background()
	col := m.col("transactions")

	var old txDoc
	err := col.FindOne(ctx, bson.M{"_id": rec.Hash}).Decode(&old)
	if errors.Is(err, mgo.ErrNoDocuments) {
		seq, errSeq := m.nextSeq(ctx)
		if errSeq != nil {
			return errSeq
		}
		rec.Seq = seq
		now := time.Now().UTC()
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		rec.UpdatedAt = now
		_, err = col.ReplaceOne(ctx,
			bson.M{"_id": rec.Hash},
			txDoc{TxRecord: rec, SortKey: rec.SortBlock()},
			options.Replace().SetUpsert(true))
		if err != nil {
			return fmt.Errorf("could not insert transaction %s: %w", rec.Hash, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("could not read transaction %s: %w", rec.Hash, err)
	}
	if old.Terminal() && rec.Status == store.StatusPending {
		// a stale pending write must not rewind a terminal record
		return nil
	}
	rec.Seq = old.Seq
	rec.CreatedAt = old.CreatedAt
	rec.UpdatedAt = time.Now().UTC()
	if rec.ExpiresAt == nil {
		rec.ExpiresAt = old.ExpiresAt
	}
	if rec.Metadata == nil {
		rec.Metadata = old.Metadata
	}
	_, err = col.ReplaceOne(ctx,
		bson.M{"_id": rec.Hash},
		txDoc{TxRecord: rec, SortKey: rec.SortBlock()})
	if err != nil {
		return fmt.Errorf("could not update transaction %s: %w", rec.Hash, err)
	}
	return nil
}

func (m *Mongo) nextSeq(ctx context.Context) (uint64, error) {
	var doc struct {
		Value int64 `bson:"value"`
	}
	err := m.col("counters").FindOneAndUpdate(ctx,
		bson.M{"_id": "txseq"},
		bson.M{"$inc": bson.M{"value": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("could not advance the insertion counter: %w", err)
	}
	return uint64(doc.Value), nil
}

// GetTx returns the record for hash or store.ErrTxNotFound.
func (m *Mongo) GetTx(hash string) (store.TxRecord, error) {
	var doc txDoc
	err := m.col("transactions").FindOne(context.Background(), bson.M{"_id": hash}).Decode(&doc)
	if errors.Is(err, mgo.ErrNoDocuments) {
		return store.TxRecord{}, store.ErrTxNotFound
	}
	return doc.TxRecord, err
}

// ListTxsByParticipant returns the participant's records newest first (see store.DB for the ordering key).
func (m *Mongo) ListTxsByParticipant(id string, limit, offset int) ([]store.TxRecord, error) {
	limit, offset = util.ClampPage(limit, offset, store.MaxPageSize)

	cur, err := m.col("transactions").Find(context.Background(),
		bson.M{"$or": bson.A{bson.M{"fromId": id}, bson.M{"toId": id}}},
		options.Find().
			SetSort(bson.D{{Key: "sortBlock", Value: -1}, {Key: "blockIndex", Value: -1}, {Key: "seq", Value: -1}}).
			SetSkip(int64(offset)).
			SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("error listing transactions for %s: %w", id, err)
	}
	return decodeTxs(cur)
}

// ListTxsByStatus returns every record currently in the given status.
func (m *Mongo) ListTxsByStatus(status string) ([]store.TxRecord, error) {
	cur, err := m.col("transactions").Find(context.Background(), bson.M{"status": status})
	if err != nil {
		return nil, fmt.Errorf("error listing %s transactions: %w", status, err)
	}
	return decodeTxs(cur)
}

// ListTxsSince returns records created at or after since.
func (m *Mongo) ListTxsSince(since time.Time) ([]store.TxRecord, error) {
	cur, err := m.col("transactions").Find(context.Background(), bson.M{"createdAt": bson.M{"$gte": since}})
	if err != nil {
		return nil, fmt.Errorf("error listing transactions since %s: %w", since, err)
	}
	return decodeTxs(cur)
}

func decodeTxs(cur *mgo.Cursor) ([]store.TxRecord, error) {
	defer cur.Close(context.Background())

	out := []store.TxRecord{}
	for cur.Next(context.Background()) {
		var doc txDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.TxRecord)
	}
	return out, cur.Err()
}

// AppendAlert appends to the alert log.
func (m *Mongo) AppendAlert(a store.Alert) error {
	_, err := m.col("alerts").InsertOne(context.Background(), a)
	if err != nil {
		return fmt.Errorf("could not append alert: %w", err)
	}
	return nil
}

// ListAlertsSince returns alerts recorded at or after since.
func (m *Mongo) ListAlertsSince(since time.Time) ([]store.Alert, error) {
	cur, err := m.col("alerts").Find(context.Background(), bson.M{"at": bson.M{"$gte": since}})
	if err != nil {
		return nil, fmt.Errorf("error listing alerts: %w", err)
	}
	defer cur.Close(context.Background())

	out := []store.Alert{}
	for cur.Next(context.Background()) {
		var a store.Alert
		if err = cur.Decode(&a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, cur.Err()
}

// SaveCheckpoint stores the named block checkpoint.
func (m *Mongo) SaveCheckpoint(key string, block uint64) error {
	_, err := m.col("checkpoints").UpdateOne(context.Background(),
		bson.M{"_id": key},
		bson.M{"$set": bson.M{"block": int64(block)}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("could not save checkpoint %s: %w", key, err)
	}
	return nil
}

// LoadCheckpoint returns the named checkpoint or store.ErrDataNotFound.
func (m *Mongo) LoadCheckpoint(key string) (uint64, error) {
	var doc struct {
		Block int64 `bson:"block"`
	}
	err := m.col("checkpoints").FindOne(context.Background(), bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mgo.ErrNoDocuments) {
		return 0, store.ErrDataNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("could not load checkpoint %s: %w", key, err)
	}
	return uint64(doc.Block), nil
}
