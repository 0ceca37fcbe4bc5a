package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/truckdesk/screenshare/internal/domain"
	"github.com/truckdesk/screenshare/internal/repository"
)

type countingHeartbeatRepo struct {
	repository.SessionRepository
	mu    sync.Mutex
	calls int
	err   error
}

func (r *countingHeartbeatRepo) Heartbeat(ctx context.Context, id uuid.UUID, by domain.Role, at time.Time) error {
	r.mu.Lock()
	r.calls++
	err := r.err
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.SessionRepository.Heartbeat(ctx, id, by, at)
}

func (r *countingHeartbeatRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestHeartbeatWritesImmediatelyBeforeFirstTick(t *testing.T) {
	feed := repository.NewFeed()
	repo := repository.NewInMemorySessionRepository(feed)
	sess := newActiveSession(t, repo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// An hour-long interval: any write observed below happened before the
	// first tick.
	writer := NewHeartbeatWriter(repo, sess.ID, domain.RoleClient, time.Hour, discardLogger())
	go writer.Run(ctx)

	require.Eventually(t, func() bool {
		stored, err := repo.GetByID(ctx, sess.ID)
		return err == nil && stored.LastHeartbeatAt != nil
	}, time.Second, 5*time.Millisecond, "first heartbeat must not wait for the ticker")

	stored, err := repo.GetByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleClient, stored.LastHeartbeatBy)
}

func TestHeartbeatKeepsWritingOnInterval(t *testing.T) {
	feed := repository.NewFeed()
	repo := repository.NewInMemorySessionRepository(feed)
	sess := newActiveSession(t, repo)
	counting := &countingHeartbeatRepo{SessionRepository: repo}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writer := NewHeartbeatWriter(counting, sess.ID, domain.RoleAdmin, 5*time.Millisecond, discardLogger())
	go writer.Run(ctx)

	require.Eventually(t, func() bool { return counting.count() >= 3 }, time.Second, time.Millisecond)
}

func TestHeartbeatFailuresAreBestEffort(t *testing.T) {
	feed := repository.NewFeed()
	repo := repository.NewInMemorySessionRepository(feed)
	sess := newActiveSession(t, repo)
	counting := &countingHeartbeatRepo{SessionRepository: repo, err: assert.AnError}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writer := NewHeartbeatWriter(counting, sess.ID, domain.RoleClient, 5*time.Millisecond, discardLogger())
	go writer.Run(ctx)

	// Failed writes keep the loop alive instead of killing it.
	require.Eventually(t, func() bool { return counting.count() >= 3 }, time.Second, time.Millisecond)

	stored, err := repo.GetByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.LastHeartbeatAt)
}
