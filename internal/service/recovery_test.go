package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/truckdesk/screenshare/internal/domain"
	"github.com/truckdesk/screenshare/internal/media"
	"github.com/truckdesk/screenshare/internal/repository"
)

type failingResetRepo struct {
	repository.SessionRepository
	resetErr error
}

func (r *failingResetRepo) ResetSignaling(ctx context.Context, id uuid.UUID) error {
	if r.resetErr != nil {
		return r.resetErr
	}
	return r.SessionRepository.ResetSignaling(ctx, id)
}

func TestReshareResetsSignalingThenRenegotiates(t *testing.T) {
	feed := repository.NewFeed()
	repo := repository.NewInMemorySessionRepository(feed)
	sess := newActiveSession(t, repo)
	ctx := context.Background()

	peers := &fakePeers{}
	capturer := &fakeCapturer{surface: media.SurfaceInfo{Kind: media.SurfaceMonitor}}
	sharer := NewNegotiationEngine(sess.ID, domain.RoleClient, repo, peers.factory(), capturer, discardLogger())
	viewerPeers := &fakePeers{}
	viewer := NewNegotiationEngine(sess.ID, domain.RoleAdmin, repo, viewerPeers.factory(), nil, discardLogger())

	require.NoError(t, sharer.StartSharing(ctx))
	snapshot, err := repo.GetByID(ctx, sess.ID)
	require.NoError(t, err)
	require.NoError(t, viewer.HandleSessionUpdate(ctx, snapshot))
	firstCapture := capturer.last
	firstPeer := peers.last()

	monitor := NewHealthMonitor(time.Second, discardLogger())
	recovery := NewRecoveryController(repo, sharer, monitor, discardLogger())

	// Observe the intermediate store state: the reset must land before the
	// new offer does.
	events, cancel := feed.SubscribeSession(sess.ID)
	defer cancel()

	require.NoError(t, recovery.Reshare(ctx))

	assert.True(t, firstCapture.isStopped())
	assert.True(t, firstPeer.isClosed())
	assert.Equal(t, 2, capturer.startCount())
	assert.Equal(t, 2, peers.count())

	var delivered []*domain.Session
drain:
	for {
		select {
		case ev := <-events:
			delivered = append(delivered, ev.Session)
		default:
			break drain
		}
	}
	require.NotEmpty(t, delivered)

	sawEmptyOffer := false
	for _, snap := range delivered {
		if snap.AdminOffer == "" && snap.ClientAnswer == "" &&
			len(snap.AdminCandidates) == 0 && len(snap.ClientCandidates) == 0 {
			sawEmptyOffer = true
		}
	}
	require.True(t, sawEmptyOffer, "all four signaling fields must transit through empty")

	final := delivered[len(delivered)-1]
	assert.Equal(t, "v=0 offer 1", final.AdminOffer)
	assert.Equal(t, domain.SessionStatusActive, final.Status)

	// The viewer sees the emptied fields, resets its own peer connection and
	// renegotiates against the fresh offer through the ordinary engine logic.
	for _, snap := range delivered {
		require.NoError(t, viewer.HandleSessionUpdate(ctx, snap.Clone()))
	}
	stored, err := repo.GetByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "v=0 answer 1", stored.ClientAnswer)
	assert.Equal(t, 2, viewerPeers.count())
}

func TestReshareAbortsWhenResetFails(t *testing.T) {
	feed := repository.NewFeed()
	repo := repository.NewInMemorySessionRepository(feed)
	sess := newActiveSession(t, repo)
	ctx := context.Background()

	peers := &fakePeers{}
	capturer := &fakeCapturer{surface: media.SurfaceInfo{Kind: media.SurfaceMonitor}}
	failing := &failingResetRepo{SessionRepository: repo, resetErr: assert.AnError}
	sharer := NewNegotiationEngine(sess.ID, domain.RoleClient, failing, peers.factory(), capturer, discardLogger())

	require.NoError(t, sharer.StartSharing(ctx))
	require.Equal(t, 1, capturer.startCount())

	recovery := NewRecoveryController(failing, sharer, nil, discardLogger())
	err := recovery.Reshare(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)

	// Capture must not restart against inconsistent signaling state.
	assert.Equal(t, 1, capturer.startCount())
	assert.Equal(t, StateIdle, sharer.State())
}
