package token_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/homestead-systems/assistant-core/internal/token"
)

func testSecret() []byte {
	return []byte(strings.Repeat("a", 32))
}

func TestNewService_RejectsWeakSecret(t *testing.T) {
	_, err := token.NewService([]byte("too-short"))
	require.ErrorIs(t, err, token.ErrWeakSecret)
}

func TestIssueAccess_ValidatesAsAccessOnly(t *testing.T) {
	svc, err := token.NewService(testSecret())
	require.NoError(t, err)

	userID := primitive.NewObjectID()
	signed, err := svc.IssueAccess(userID, "user@example.com")
	require.NoError(t, err)

	claims, err := svc.Validate(signed, token.KindAccess)
	require.NoError(t, err)
	assert.Equal(t, userID.Hex(), claims.Subject)
	assert.Equal(t, "user@example.com", claims.Email)
	assert.NotEmpty(t, claims.ID)

	_, err = svc.Validate(signed, token.KindRefresh)
	assert.ErrorIs(t, err, token.ErrInvalid)
}

func TestValidate_RejectsExpiredToken(t *testing.T) {
	svc, err := token.NewService(testSecret(), token.WithAccessTTL(time.Millisecond))
	require.NoError(t, err)

	signed, err := svc.IssueAccess(primitive.NewObjectID(), "user@example.com")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, err = svc.Validate(signed, token.KindAccess)
	assert.ErrorIs(t, err, token.ErrInvalid)
}

func TestValidate_RejectsTamperedSignature(t *testing.T) {
	svc, err := token.NewService(testSecret())
	require.NoError(t, err)

	signed, err := svc.IssueAccess(primitive.NewObjectID(), "user@example.com")
	require.NoError(t, err)

	otherSvc, err := token.NewService([]byte(strings.Repeat("b", 32)))
	require.NoError(t, err)
	_, err = otherSvc.Validate(signed, token.KindAccess)
	assert.ErrorIs(t, err, token.ErrInvalid)
}

func TestDecodeUnchecked_ReadsJTIWithoutVerifying(t *testing.T) {
	svc, err := token.NewService(testSecret())
	require.NoError(t, err)

	signed, err := svc.IssueRefresh(primitive.NewObjectID(), "user@example.com")
	require.NoError(t, err)

	claims, err := token.DecodeUnchecked(signed)
	require.NoError(t, err)
	assert.Equal(t, token.KindRefresh, claims.Type)
	assert.NotEmpty(t, claims.ID)
}

func TestTwoIssuedTokens_HaveDistinctJTIs(t *testing.T) {
	svc, err := token.NewService(testSecret())
	require.NoError(t, err)

	userID := primitive.NewObjectID()
	a, err := svc.IssueAccess(userID, "user@example.com")
	require.NoError(t, err)
	b, err := svc.IssueAccess(userID, "user@example.com")
	require.NoError(t, err)

	claimsA, err := token.DecodeUnchecked(a)
	require.NoError(t, err)
	claimsB, err := token.DecodeUnchecked(b)
	require.NoError(t, err)
	assert.NotEqual(t, claimsA.ID, claimsB.ID)
}
