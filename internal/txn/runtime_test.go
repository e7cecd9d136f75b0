package txn_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/homestead-systems/assistant-core/internal/txn"
)

// setupTestClient mirrors the teacher's setupTestPool: it assumes a local,
// replica-set-enabled document store is reachable, the same way
// internal/storage/db_context_test.go assumes a local Postgres.
func setupTestClient(t *testing.T) (*mongo.Client, *mongo.Database) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI("mongodb://localhost:27017"))
	require.NoError(t, err)
	require.NoError(t, client.Ping(ctx, nil))

	return client, client.Database("assistant_core_test")
}

func TestExecuteInTransaction_CommitsOnSuccess(t *testing.T) {
	client, db := setupTestClient(t)
	defer client.Disconnect(context.Background())

	rt := txn.NewRuntime(client, db, nil, 0)
	ctx := context.Background()

	var insertedID interface{}
	err := rt.ExecuteInTransaction(ctx, func(tx *txn.Transaction) error {
		id, err := tx.InsertOne("txn_commit_test", bson.M{"k": "v"})
		insertedID = id
		return err
	}, 3)
	require.NoError(t, err)
	assert.NotNil(t, insertedID)

	var found bson.M
	require.NoError(t, db.Collection("txn_commit_test").FindOne(ctx, bson.M{"_id": insertedID}).Decode(&found))
	db.Collection("txn_commit_test").DeleteOne(ctx, bson.M{"_id": insertedID})
}

func TestExecuteInTransaction_AbortsOnError(t *testing.T) {
	client, db := setupTestClient(t)
	defer client.Disconnect(context.Background())

	rt := txn.NewRuntime(client, db, nil, 0)
	ctx := context.Background()
	sentinel := primitive.NewObjectID()

	err := rt.ExecuteInTransaction(ctx, func(tx *txn.Transaction) error {
		_, insertErr := tx.InsertOne("txn_abort_test", bson.M{"_id": sentinel})
		require.NoError(t, insertErr)
		return assert.AnError
	}, 1)
	require.Error(t, err)

	count, err := db.Collection("txn_abort_test").CountDocuments(ctx, bson.M{"_id": sentinel})
	require.NoError(t, err)
	assert.Equal(t, int64(0), count, "aborted transaction must not persist its writes")
}

func TestTransaction_TimesOutAfterDeadline(t *testing.T) {
	client, db := setupTestClient(t)
	defer client.Disconnect(context.Background())

	rt := txn.NewRuntime(client, db, nil, 1*time.Millisecond)
	ctx := context.Background()

	err := rt.Run(ctx, func(tx *txn.Transaction) error {
		time.Sleep(5 * time.Millisecond)
		_, err := tx.InsertOne("txn_timeout_test", bson.M{"k": "v"})
		return err
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, txn.ErrTimedOut)
}

func TestUpdateWithVersion_ConflictOnStaleVersion(t *testing.T) {
	client, db := setupTestClient(t)
	defer client.Disconnect(context.Background())

	rt := txn.NewRuntime(client, db, nil, 0)
	ctx := context.Background()
	id := primitive.NewObjectID()

	_, err := db.Collection("grocery_lists_test").InsertOne(ctx, bson.M{"_id": id, "version": int64(3), "name": "weekly"})
	require.NoError(t, err)
	defer db.Collection("grocery_lists_test").DeleteOne(ctx, bson.M{"_id": id})

	// Caller A: correct version succeeds and bumps version to 4.
	err = rt.ExecuteInTransaction(ctx, func(tx *txn.Transaction) error {
		return tx.UpdateWithVersion(
			"grocery_lists_test",
			bson.M{"_id": id},
			3,
			bson.M{"$set": bson.M{"name": "weekly-updated"}, "$inc": bson.M{"version": int64(1)}},
			bson.M{"_id": id},
		)
	}, 1)
	require.NoError(t, err)

	// Caller B: stale version=3 now conflicts because the stored version is 4.
	err = rt.ExecuteInTransaction(ctx, func(tx *txn.Transaction) error {
		return tx.UpdateWithVersion(
			"grocery_lists_test",
			bson.M{"_id": id},
			3,
			bson.M{"$set": bson.M{"name": "weekly-conflict"}, "$inc": bson.M{"version": int64(1)}},
			bson.M{"_id": id},
		)
	}, 1)
	require.ErrorIs(t, err, txn.ErrVersionConflict)

	var doc bson.M
	require.NoError(t, db.Collection("grocery_lists_test").FindOne(ctx, bson.M{"_id": id}).Decode(&doc))
	assert.Equal(t, int64(4), doc["version"])
	assert.Equal(t, "weekly-updated", doc["name"])
}
