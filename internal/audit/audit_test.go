package audit_test

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

	"github.com/homestead-systems/assistant-core/internal/audit"
	"github.com/homestead-systems/assistant-core/internal/document"
	"github.com/homestead-systems/assistant-core/internal/txn"
)

func setupTestClient(t *testing.T) (*mongo.Client, *mongo.Database) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI("mongodb://localhost:27017"))
	require.NoError(t, err)
	require.NoError(t, client.Ping(ctx, nil))
	return client, client.Database("assistant_core_test")
}

func TestMongoLogger_InsertsRecordWithinTransaction(t *testing.T) {
	client, db := setupTestClient(t)
	defer client.Disconnect(context.Background())

	rt := txn.NewRuntime(client, db, nil, 0)
	logger := audit.NewMongoLogger(nil)
	userID := primitive.NewObjectID()

	err := rt.ExecuteInTransaction(context.Background(), func(tx *txn.Transaction) error {
		logger.Log(context.Background(), tx, document.EventLoginSuccess, audit.LogParams{
			UserID:  &userID,
			Email:   "user@example.com",
			Success: true,
		})
		return nil
	}, 1)
	require.NoError(t, err)

	var found bson.M
	err = db.Collection(document.CollectionAuditRecords).FindOne(context.Background(), bson.M{"user_id": userID}).Decode(&found)
	require.NoError(t, err)
	assert.Equal(t, string(document.EventLoginSuccess), found["event_type"])
	assert.Equal(t, true, found["success"])

	db.Collection(document.CollectionAuditRecords).DeleteOne(context.Background(), bson.M{"user_id": userID})
}
