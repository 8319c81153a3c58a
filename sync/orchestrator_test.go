package sync

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerflow/ledgercore/concurrency"
	"github.com/ledgerflow/ledgercore/entity"
	"github.com/ledgerflow/ledgercore/external"
)

type fakeIdentity struct {
	userID        string
	refreshErr    error
	refreshCalled int
}

func (f *fakeIdentity) Current(ctx context.Context) (external.Identity, bool) {
	return external.Identity{UserID: f.userID, Token: "tok"}, true
}

func (f *fakeIdentity) RefreshToken(ctx context.Context, force bool) (string, error) {
	f.refreshCalled++
	if f.refreshErr != nil {
		return "", f.refreshErr
	}
	return "tok", nil
}

func newTestStore(t *testing.T) *entity.Store {
	t.Helper()
	return entity.NewStore(zerolog.Nop(), nil, nil, nil, entity.Config{})
}

func TestSyncSkipsWhenAlreadyInFlight(t *testing.T) {
	store := newTestStore(t)
	docs := external.NewInMemoryCloudStore()
	guard := concurrency.NewSyncGuard()
	orch := New(&fakeIdentity{userID: "u1"}, docs, store, guard, Config{}, zerolog.Nop(), nil)

	guard.TryAcquire("u1")
	status, err := orch.Sync(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, status.Skipped)
	guard.Release("u1")
}

func TestSyncWithNoCloudDocumentSucceeds(t *testing.T) {
	store := newTestStore(t)
	_, err := store.CreateBook("u1", entity.CreateBookInput{Name: "Wallet", Currency: "USD"}, "u1")
	require.NoError(t, err)

	docs := external.NewInMemoryCloudStore()
	guard := concurrency.NewSyncGuard()
	orch := New(&fakeIdentity{userID: "u1"}, docs, store, guard, Config{}, zerolog.Nop(), nil)

	status, err := orch.Sync(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, status.Skipped)
	assert.Empty(t, status.Conflicts)
	assert.WithinDuration(t, time.Now(), status.SyncedAt, 5*time.Second)

	payload, err := docs.ReadUserDoc(context.Background(), "u1")
	require.NoError(t, err)
	assert.NotEmpty(t, payload.Raw)
}

func TestSecondSyncPullsBackWhatFirstPushed(t *testing.T) {
	storeA := newTestStore(t)
	_, err := storeA.CreateBook("u1", entity.CreateBookInput{Name: "Wallet", Currency: "USD"}, "u1")
	require.NoError(t, err)

	docs := external.NewInMemoryCloudStore()
	guard := concurrency.NewSyncGuard()
	orch := New(&fakeIdentity{userID: "u1"}, docs, storeA, guard, Config{}, zerolog.Nop(), nil)

	_, err = orch.Sync(context.Background(), "u1")
	require.NoError(t, err)

	storeB := newTestStore(t)
	guardB := concurrency.NewSyncGuard()
	orchB := New(&fakeIdentity{userID: "u1"}, docs, storeB, guardB, Config{}, zerolog.Nop(), nil)
	_, err = orchB.Sync(context.Background(), "u1")
	require.NoError(t, err)

	books := storeB.ListBooks("u1", false, false)
	require.Len(t, books, 1)
	assert.Equal(t, "Wallet", books[0].Name)
}
