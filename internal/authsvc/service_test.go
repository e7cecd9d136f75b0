package authsvc_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/homestead-systems/assistant-core/internal/audit"
	"github.com/homestead-systems/assistant-core/internal/authsvc"
	"github.com/homestead-systems/assistant-core/internal/cache"
	"github.com/homestead-systems/assistant-core/internal/credential"
	"github.com/homestead-systems/assistant-core/internal/document"
	"github.com/homestead-systems/assistant-core/internal/extsession"
	"github.com/homestead-systems/assistant-core/internal/token"
	"github.com/homestead-systems/assistant-core/internal/txn"
)

type fakeLiveService struct{ closed bool }

func (f *fakeLiveService) IsLive() bool { return !f.closed }
func (f *fakeLiveService) Close() error { f.closed = true; return nil }

func setupService(t *testing.T) (*authsvc.Service, *mongo.Database, *extsession.Registry, *cache.Cache, func()) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI("mongodb://localhost:27017"))
	require.NoError(t, err)
	require.NoError(t, client.Ping(ctx, nil))

	db := client.Database("assistant_core_test")
	rt := txn.NewRuntime(client, db, nil, 0)
	tokens, err := token.NewService([]byte(strings.Repeat("x", 32)))
	require.NoError(t, err)

	auditSvc := audit.NewMongoLogger(nil)
	pwd := credential.NewPasswordProvider(auditSvc, tokens)

	store, err := extsession.NewDiskStore(t.TempDir())
	require.NoError(t, err)
	registry := extsession.NewRegistry(store, func(authStatePath string) (extsession.LiveService, error) {
		return &fakeLiveService{}, nil
	})

	artifactCache, err := cache.New(t.TempDir(), cache.DefaultTTL)
	require.NoError(t, err)

	svc := authsvc.New(rt, tokens, map[string]credential.Provider{pwd.Name(): pwd}, auditSvc, registry, artifactCache)

	cleanup := func() {
		db.Collection(document.CollectionUsers).Drop(context.Background())
		db.Collection(document.CollectionSessions).Drop(context.Background())
		db.Collection(document.CollectionAuditRecords).Drop(context.Background())
		client.Disconnect(context.Background())
	}
	return svc, db, registry, artifactCache, cleanup
}

func uniqueEmail() string {
	return fmt.Sprintf("user-%d@example.com", time.Now().UnixNano())
}

func TestRegisterUser_IssuesUsableTokenPair(t *testing.T) {
	svc, db, _, _, cleanup := setupService(t)
	defer cleanup()

	email := uniqueEmail()
	result, pair, err := svc.RegisterUser(context.Background(), "password", credential.Credentials{
		Email: email, Password: "Tr0ub4dor&3",
	}, credential.Profile{})
	require.NoError(t, err)
	assert.Equal(t, credential.ResultSuccess, result.Kind)
	require.NotNil(t, pair)

	info, err := svc.ValidateSession(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, email, info.Email)

	var count int64
	count, err = db.Collection(document.CollectionSessions).CountDocuments(context.Background(), bson.M{"user_id": info.UserID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRefreshToken_RotatesJTIsAndInvalidatesOldAccessToken(t *testing.T) {
	svc, _, _, _, cleanup := setupService(t)
	defer cleanup()

	email := uniqueEmail()
	_, pair, err := svc.RegisterUser(context.Background(), "password", credential.Credentials{
		Email: email, Password: "Tr0ub4dor&3",
	}, credential.Profile{})
	require.NoError(t, err)

	newPair, err := svc.RefreshToken(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.AccessToken, newPair.AccessToken)
	assert.NotEqual(t, pair.RefreshToken, newPair.RefreshToken)

	_, err = svc.ValidateSession(context.Background(), pair.AccessToken)
	assert.Error(t, err, "old access token jti must no longer match a live session")

	info, err := svc.ValidateSession(context.Background(), newPair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, email, info.Email)
}

func TestLogout_RevokesSessionForBothTokens(t *testing.T) {
	svc, _, registry, _, cleanup := setupService(t)
	defer cleanup()

	email := uniqueEmail()
	_, pair, err := svc.RegisterUser(context.Background(), "password", credential.Credentials{
		Email: email, Password: "Tr0ub4dor&3",
	}, credential.Profile{})
	require.NoError(t, err)

	live, err := registry.Get(email)
	require.NoError(t, err)
	fake := live.(*fakeLiveService)

	require.NoError(t, svc.Logout(context.Background(), pair.AccessToken))

	_, err = svc.ValidateSession(context.Background(), pair.AccessToken)
	assert.Error(t, err)

	_, err = svc.RefreshToken(context.Background(), pair.RefreshToken)
	assert.Error(t, err, "revoking the access token must also invalidate the refresh token's session row")

	assert.True(t, fake.closed, "logout must close the user's live external-service handle")
	assert.Empty(t, registry.ActiveUsers(), "logout must clear the registry entry")
}

func TestCompletePasswordReset_ClearsExternalSessionAndRevokesAllSessions(t *testing.T) {
	svc, _, registry, artifacts, cleanup := setupService(t)
	defer cleanup()

	email := uniqueEmail()
	_, pair, err := svc.RegisterUser(context.Background(), "password", credential.Credentials{
		Email: email, Password: "Tr0ub4dor&3",
	}, credential.Profile{})
	require.NoError(t, err)

	live, err := registry.Get(email)
	require.NoError(t, err)
	fake := live.(*fakeLiveService)

	cachedKey := authsvc.ProfileCacheKey(email, "sometestinputhash", "items", "")
	require.NoError(t, artifacts.Insert(cachedKey, "items", "", []byte(`[{"item_name":"milk"}]`)))
	_, hit := artifacts.Lookup(cachedKey, "")
	require.True(t, hit, "test precondition: cache entry must be live before reset")

	resetToken, err := svc.RequestPasswordReset(context.Background(), "password", email)
	require.NoError(t, err)
	require.NotEmpty(t, resetToken)

	require.NoError(t, svc.CompletePasswordReset(context.Background(), "password", resetToken, "N3wPassw0rd!"))

	_, err = svc.ValidateSession(context.Background(), pair.AccessToken)
	assert.Error(t, err, "completing a password reset must revoke existing sessions")

	assert.True(t, fake.closed, "password reset must close the user's live external-service handle")
	assert.Empty(t, registry.ActiveUsers(), "password reset must clear the registry entry")

	_, hit = artifacts.Lookup(cachedKey, "")
	assert.False(t, hit, "completing a password reset must invalidate the user's cached artifacts")
}
