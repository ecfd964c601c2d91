package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danqzq/specmarket/internal/docstore"
	"github.com/danqzq/specmarket/internal/errs"
	"github.com/danqzq/specmarket/internal/models"
)

func newService() *Service {
	return NewService(docstore.NewMemoryStore().Users, []byte("test-key"))
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	svc := newService()

	user, err := svc.Register(ctx, "alice", "s3cret")
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "alice", user.Username)
	assert.NotEqual(t, "s3cret", user.PasswordHash)

	logged, err := svc.Login(ctx, "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, user.ID, logged.ID)

	_, err = svc.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	_, err = svc.Login(ctx, "nobody", "s3cret")
	assert.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestRegisterDuplicate(t *testing.T) {
	ctx := context.Background()
	svc := newService()

	_, err := svc.Register(ctx, "alice", "one")
	require.NoError(t, err)
	_, err = svc.Register(ctx, "alice", "two")
	assert.ErrorIs(t, err, errs.ErrDuplicateUsername)
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	svc := newService()

	_, err := svc.Register(ctx, "", "pw")
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = svc.Register(ctx, "alice", "")
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestTokenRoundTrip(t *testing.T) {
	svc := newService()
	user := &models.User{ID: "user-1", Username: "alice"}

	token, err := svc.IssueToken(user)
	require.NoError(t, err)

	claims, err := svc.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "alice", claims.Username)

	_, err = svc.ParseToken(token + "tampered")
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	other := NewService(docstore.NewMemoryStore().Users, []byte("other-key"))
	_, err = other.ParseToken(token)
	assert.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestCanEditSpec(t *testing.T) {
	owned := &models.Spec{OwnerID: "user-1", Author: "alice"}
	unowned := &models.Spec{Author: "@alice"}

	alice := &Claims{Username: "alice"}
	alice.Subject = "user-1"
	mallory := &Claims{Username: "mallory"}
	mallory.Subject = "user-2"

	assert.True(t, CanEditSpec(alice, owned))
	assert.False(t, CanEditSpec(mallory, owned))
	assert.True(t, CanEditSpec(alice, unowned), "author match claims an unowned spec")
	assert.False(t, CanEditSpec(mallory, unowned))
	assert.False(t, CanEditSpec(nil, owned))
	assert.False(t, CanEditSpec(alice, nil))
	assert.False(t, CanEditSpec(alice, &models.Spec{}), "empty author never matches")
}
