// Package txn implements the ACID transaction runtime (spec.md §4.2): a
// scoped-resource abstraction binding a set of document operations to a
// single store-level session, with a per-transaction wall-clock deadline,
// an operation log for diagnostics, and a closure-taking retry wrapper for
// transient faults — mirroring the teacher's WithTenantContext/WithoutRLS
// shape in internal/storage/db_context.go, generalized from a pgx.Tx
// closure to a mongo.SessionContext closure.
package txn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/homestead-systems/assistant-core/internal/telemetry"
)

// OpKind names the kind of operation recorded in a Transaction's log.
type OpKind string

const (
	OpInsertOne  OpKind = "insert_one"
	OpInsertMany OpKind = "insert_many"
	OpUpdateOne  OpKind = "update_one"
	OpUpdateMany OpKind = "update_many"
	OpFindOne    OpKind = "find_one"
	OpFind       OpKind = "find"
	OpDeleteOne  OpKind = "delete_one"
)

// OpRecord is one entry in a transaction's diagnostic operation log.
type OpRecord struct {
	Kind       OpKind
	Collection string
	Count      int
	At         time.Time
}

// state is a Transaction's internal lifecycle flag.
type state int

const (
	stateOpen state = iota
	stateCommitted
	stateAborted
)

// Transaction binds a set of document operations to a single store session.
// All its methods are forbidden to outlive the session's lifetime — callers
// must never retain a Transaction past the function passed to
// ExecuteInTransaction or Runtime.Begin's caller scope.
type Transaction struct {
	mu       sync.Mutex
	sctx     mongo.SessionContext
	db       *mongo.Database
	deadline time.Time
	state    state
	opLog    []OpRecord
	logger   *slog.Logger
}

func (t *Transaction) checkDeadline() error {
	if time.Now().After(t.deadline) {
		return ErrTimedOut
	}
	return nil
}

func (t *Transaction) record(kind OpKind, collection string, count int) {
	t.opLog = append(t.opLog, OpRecord{Kind: kind, Collection: collection, Count: count, At: time.Now()})
}

// Commit marks the transaction committed. Calling it more than once is a
// no-op that logs a warning. Calling it after Abort returns
// ErrAlreadyAborted.
func (t *Transaction) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case stateCommitted:
		t.logger.Warn("txn: commit called more than once", "ops", len(t.opLog))
		return nil
	case stateAborted:
		return ErrAlreadyAborted
	default:
		t.state = stateCommitted
		return nil
	}
}

// Abort marks the transaction aborted. Safe to call multiple times.
func (t *Transaction) Abort() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = stateAborted
	return nil
}

// OpLog returns a copy of the operations performed so far on this
// transaction, for diagnostics.
func (t *Transaction) OpLog() []OpRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]OpRecord, len(t.opLog))
	copy(out, t.opLog)
	return out
}

func (t *Transaction) collection(name string) *mongo.Collection {
	return t.db.Collection(name)
}

// InsertOne inserts a single document within the transaction's session.
func (t *Transaction) InsertOne(collection string, doc interface{}) (interface{}, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != stateOpen {
		return nil, ErrAlreadyAborted
	}
	if err := t.checkDeadline(); err != nil {
		return nil, err
	}
	res, err := t.collection(collection).InsertOne(t.sctx, doc)
	if err != nil {
		return nil, classify(err)
	}
	t.record(OpInsertOne, collection, 1)
	return res.InsertedID, nil
}

// InsertMany inserts multiple documents within the transaction's session.
func (t *Transaction) InsertMany(collection string, docs []interface{}) ([]interface{}, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != stateOpen {
		return nil, ErrAlreadyAborted
	}
	if err := t.checkDeadline(); err != nil {
		return nil, err
	}
	res, err := t.collection(collection).InsertMany(t.sctx, docs)
	if err != nil {
		return nil, classify(err)
	}
	t.record(OpInsertMany, collection, len(docs))
	return res.InsertedIDs, nil
}

// UpdateResult reports the outcome of an update.
type UpdateResult struct {
	MatchedCount  int64
	ModifiedCount int64
	UpsertedID    interface{}
}

// UpdateOne applies filter/update to at most one document.
func (t *Transaction) UpdateOne(collection string, filter, update bson.M, upsert bool) (UpdateResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != stateOpen {
		return UpdateResult{}, ErrAlreadyAborted
	}
	if err := t.checkDeadline(); err != nil {
		return UpdateResult{}, err
	}
	updateOpts := options.Update().SetUpsert(upsert)
	res, err := t.collection(collection).UpdateOne(t.sctx, filter, update, updateOpts)
	if err != nil {
		return UpdateResult{}, classify(err)
	}
	t.record(OpUpdateOne, collection, 1)
	return UpdateResult{MatchedCount: res.MatchedCount, ModifiedCount: res.ModifiedCount, UpsertedID: res.UpsertedID}, nil
}

// UpdateMany applies filter/update to every matching document.
func (t *Transaction) UpdateMany(collection string, filter, update bson.M) (UpdateResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != stateOpen {
		return UpdateResult{}, ErrAlreadyAborted
	}
	if err := t.checkDeadline(); err != nil {
		return UpdateResult{}, err
	}
	res, err := t.collection(collection).UpdateMany(t.sctx, filter, update)
	if err != nil {
		return UpdateResult{}, classify(err)
	}
	t.record(OpUpdateMany, collection, int(res.ModifiedCount))
	return UpdateResult{MatchedCount: res.MatchedCount, ModifiedCount: res.ModifiedCount, UpsertedID: res.UpsertedID}, nil
}

// FindOne decodes the first matching document into v.
func (t *Transaction) FindOne(collection string, filter bson.M, v interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != stateOpen {
		return ErrAlreadyAborted
	}
	if err := t.checkDeadline(); err != nil {
		return err
	}
	err := t.collection(collection).FindOne(t.sctx, filter).Decode(v)
	if err != nil {
		return classify(err)
	}
	t.record(OpFindOne, collection, 1)
	return nil
}

// Find decodes every matching document into the slice pointed to by v.
func (t *Transaction) Find(collection string, filter bson.M, v interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != stateOpen {
		return ErrAlreadyAborted
	}
	if err := t.checkDeadline(); err != nil {
		return err
	}
	cur, err := t.collection(collection).Find(t.sctx, filter)
	if err != nil {
		return classify(err)
	}
	defer cur.Close(t.sctx)
	if err := cur.All(t.sctx, v); err != nil {
		return classify(err)
	}
	t.record(OpFind, collection, 0)
	return nil
}

// DeleteOne removes at most one matching document.
func (t *Transaction) DeleteOne(collection string, filter bson.M) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != stateOpen {
		return 0, ErrAlreadyAborted
	}
	if err := t.checkDeadline(); err != nil {
		return 0, err
	}
	res, err := t.collection(collection).DeleteOne(t.sctx, filter)
	if err != nil {
		return 0, classify(err)
	}
	t.record(OpDeleteOne, collection, int(res.DeletedCount))
	return res.DeletedCount, nil
}

// classify wraps a driver error as transient when the server tagged it so,
// per spec.md §4.2's retry policy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return err
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && cmdErr.HasErrorLabel("TransientTransactionError") {
		return MarkTransient(err)
	}
	return err
}

// Runtime owns the session factory used to open transactions.
type Runtime struct {
	client   *mongo.Client
	db       *mongo.Database
	logger   *slog.Logger
	deadline time.Duration
}

// NewRuntime creates a Runtime bound to client/db. deadline is the default
// per-transaction wall-clock timeout (spec.md default 30s); pass 0 for the
// default.
func NewRuntime(client *mongo.Client, db *mongo.Database, logger *slog.Logger, deadline time.Duration) *Runtime {
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{client: client, db: db, logger: logger, deadline: deadline}
}

// Run opens a transaction, invokes fn with it, and commits on normal
// return or aborts on any error. A panic in fn is not recovered: it
// propagates out of Run, and the deferred EndSession aborts the open
// transaction.
//
// Double-commit is a no-op with a warning. Commit after abort (fn called
// tx.Abort itself and then returned nil) returns ErrAlreadyAborted.
func (r *Runtime) Run(ctx context.Context, fn func(tx *Transaction) error) error {
	deadline := time.Now().Add(r.deadline)

	sess, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("txn: starting session: %w", err)
	}
	defer sess.EndSession(ctx)

	txnOpts := TransactionOptions()

	_, err = sess.WithTransaction(ctx, func(sctx mongo.SessionContext) (interface{}, error) {
		tx := &Transaction{
			sctx:     sctx,
			db:       r.db,
			deadline: deadline,
			state:    stateOpen,
			logger:   r.logger,
		}

		if ferr := fn(tx); ferr != nil {
			_ = tx.Abort()
			return nil, ferr
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return nil, nil
	}, txnOpts)

	if err != nil {
		telemetry.TransactionAttemptsTotal.WithLabelValues("aborted").Inc()
		return err
	}
	telemetry.TransactionAttemptsTotal.WithLabelValues("committed").Inc()
	return nil
}

// ExecuteInTransaction runs fn within a fresh transaction, retrying on
// transient faults with delay 100ms*attempt, up to maxAttempts (default 3).
// fn must be idempotent with respect to retry: the runtime re-invokes it
// from scratch on every attempt. Non-transient failures surface
// immediately.
func (r *Runtime) ExecuteInTransaction(ctx context.Context, fn func(tx *Transaction) error, maxAttempts int) error {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := r.Run(ctx, fn)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsTransient(err) && !isServerTransient(err) {
			return err
		}

		if attempt == maxAttempts {
			break
		}

		delay := time.Duration(100*attempt) * time.Millisecond
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

func isServerTransient(err error) bool {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.HasErrorLabel("TransientTransactionError")
	}
	return false
}

// TransactionOptions returns the snapshot-read / majority-write options
// every transaction opens with, per spec.md §4.2.
func TransactionOptions() *options.TransactionOptions {
	return options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())
}
