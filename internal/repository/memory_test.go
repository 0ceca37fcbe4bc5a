package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/truckdesk/screenshare/internal/domain"
)

func newRepo(t *testing.T) (*InMemorySessionRepository, *Feed) {
	t.Helper()
	feed := NewFeed()
	return NewInMemorySessionRepository(feed), feed
}

func createPending(t *testing.T, repo *InMemorySessionRepository, initiatedBy domain.Role) (*domain.Session, uuid.UUID) {
	t.Helper()
	creator := uuid.New()
	sess := domain.NewSession(uuid.New(), creator, initiatedBy)
	require.NoError(t, repo.Create(context.Background(), sess))
	return sess, creator
}

func TestCreateRejectsDuplicateLiveCode(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()

	first, _ := createPending(t, repo, domain.RoleAdmin)

	dup := domain.NewSession(uuid.New(), uuid.New(), domain.RoleAdmin)
	dup.Code = first.Code
	require.ErrorIs(t, repo.Create(ctx, dup), ErrCodeExists)

	// An ended session releases its code.
	require.NoError(t, repo.End(ctx, first.ID))
	require.NoError(t, repo.Create(ctx, dup))
}

func TestClaimActivatesAndBindsExactlyOneParty(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()

	sess, creator := createPending(t, repo, domain.RoleAdmin)
	claimant := uuid.New()

	claimed, role, err := repo.ClaimByCode(ctx, sess.Code, claimant)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleClient, role)
	assert.Equal(t, domain.SessionStatusActive, claimed.Status)
	require.NotNil(t, claimed.AdminUserID)
	assert.Equal(t, creator, *claimed.AdminUserID)
	require.NotNil(t, claimed.ClientUserID)
	assert.Equal(t, claimant, *claimed.ClientUserID)
}

func TestClaimErrors(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()

	sess, creator := createPending(t, repo, domain.RoleClient)

	_, _, err := repo.ClaimByCode(ctx, "NOSUCH", uuid.New())
	assert.ErrorIs(t, err, ErrCodeNotFound)

	_, _, err = repo.ClaimByCode(ctx, sess.Code, creator)
	assert.ErrorIs(t, err, ErrSelfClaim)

	_, _, err = repo.ClaimByCode(ctx, sess.Code, uuid.New())
	require.NoError(t, err)

	_, _, err = repo.ClaimByCode(ctx, sess.Code, uuid.New())
	assert.ErrorIs(t, err, ErrSessionClaimed)

	require.NoError(t, repo.End(ctx, sess.ID))
	_, _, err = repo.ClaimByCode(ctx, sess.Code, uuid.New())
	assert.ErrorIs(t, err, ErrCodeNotFound)
}

func TestConcurrentAppendsLoseNothingAndKeepOrder(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()

	sess, _ := createPending(t, repo, domain.RoleAdmin)

	const perRole = 50
	var wg sync.WaitGroup
	for _, role := range []domain.Role{domain.RoleAdmin, domain.RoleClient} {
		wg.Add(1)
		go func(role domain.Role) {
			defer wg.Done()
			for i := 0; i < perRole; i++ {
				candidate := fmt.Sprintf("%s-%d", role, i)
				assert.NoError(t, repo.AppendCandidate(ctx, sess.ID, role, candidate))
			}
		}(role)
	}
	wg.Wait()

	stored, err := repo.GetByID(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, stored.AdminCandidates, perRole)
	require.Len(t, stored.ClientCandidates, perRole)
	for i := 0; i < perRole; i++ {
		assert.Equal(t, fmt.Sprintf("admin-%d", i), stored.AdminCandidates[i])
		assert.Equal(t, fmt.Sprintf("client-%d", i), stored.ClientCandidates[i])
	}
}

func TestResetSignalingClearsAllFourFields(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()

	sess, _ := createPending(t, repo, domain.RoleAdmin)
	require.NoError(t, repo.SetOffer(ctx, sess.ID, "offer"))
	require.NoError(t, repo.SetAnswer(ctx, sess.ID, "answer"))
	require.NoError(t, repo.AppendCandidate(ctx, sess.ID, domain.RoleAdmin, "a"))
	require.NoError(t, repo.AppendCandidate(ctx, sess.ID, domain.RoleClient, "c"))

	require.NoError(t, repo.ResetSignaling(ctx, sess.ID))

	stored, err := repo.GetByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.AdminOffer)
	assert.Empty(t, stored.ClientAnswer)
	assert.Empty(t, stored.AdminCandidates)
	assert.Empty(t, stored.ClientCandidates)
	assert.Equal(t, domain.SessionStatusPending, stored.Status, "reset keeps session identity and status")
	assert.Equal(t, sess.Code, stored.Code)
}

func TestHeartbeatUpdatesLivenessFields(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()

	sess, _ := createPending(t, repo, domain.RoleAdmin)
	at := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, repo.Heartbeat(ctx, sess.ID, domain.RoleClient, at))

	stored, err := repo.GetByID(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastHeartbeatAt)
	assert.Equal(t, at, *stored.LastHeartbeatAt)
	assert.Equal(t, domain.RoleClient, stored.LastHeartbeatBy)

	assert.ErrorIs(t, repo.Heartbeat(ctx, uuid.New(), domain.RoleClient, at), ErrSessionNotFound)
}

func TestListLiveExcludesEndedSessions(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()

	a, _ := createPending(t, repo, domain.RoleAdmin)
	b, _ := createPending(t, repo, domain.RoleClient)
	require.NoError(t, repo.End(ctx, a.ID))

	live, err := repo.ListLive(ctx)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, b.ID, live[0].ID)
}

func TestMutationsPublishSnapshots(t *testing.T) {
	repo, feed := newRepo(t)
	ctx := context.Background()

	sess, _ := createPending(t, repo, domain.RoleAdmin)

	events, cancel := feed.SubscribeSession(sess.ID)
	defer cancel()

	require.NoError(t, repo.SetOffer(ctx, sess.ID, "offer"))

	select {
	case ev := <-events:
		assert.Equal(t, "offer", ev.Session.AdminOffer)
		// Snapshots are copies; mutating one must not leak into the store.
		ev.Session.AdminOffer = "tampered"
		stored, err := repo.GetByID(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, "offer", stored.AdminOffer)
	case <-time.After(time.Second):
		t.Fatal("no snapshot published")
	}
}
