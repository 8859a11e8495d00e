package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"calmmap/internal/events"

	"github.com/9ssi7/exponent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSender struct {
	sent [][]*exponent.Message
	err  error
}

func (f *fakeSender) Publish(_ context.Context, msgs []*exponent.Message) ([]*exponent.MessageResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, msgs)
	return nil, nil
}

type fakeTokens struct {
	byUser map[int64][]string
	err    error
}

func (f *fakeTokens) Upsert(context.Context, int64, string, json.RawMessage) error { return nil }
func (f *fakeTokens) Remove(context.Context, int64, string) error                  { return nil }
func (f *fakeTokens) PruneStale(context.Context, time.Duration) (int64, error)     { return 0, nil }

func (f *fakeTokens) ForUsers(_ context.Context, ids []int64) (map[int64][]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := map[int64][]string{}
	for _, id := range ids {
		out[id] = f.byUser[id]
	}
	return out, nil
}

func TestNotifyApproved(t *testing.T) {
	push := &fakeSender{}
	n := NewSubmissionNotifier(push, &fakeTokens{byUser: map[int64][]string{
		501: {"ExponentPushToken[a]", "ExponentPushToken[a]", "", "ExponentPushToken[b]"},
	}}, zap.NewNop().Sugar())

	e := events.New(events.VenueApproved, time.Now())
	e.SubmitterID, e.SubmissionID, e.VenueID = 501, 3, 44
	require.NoError(t, n.Handle(context.Background(), e))

	require.Len(t, push.sent, 1)
	msgs := push.sent[0]
	require.Len(t, msgs, 2)
	assert.Equal(t, exponent.Token("ExponentPushToken[a]"), *msgs[0].To[0])
	assert.Equal(t, "submission_approved", msgs[0].Data["type"])
	assert.Equal(t, "venues/44", msgs[0].Data["screen"])
}

func TestNotifyRejectedUsesReason(t *testing.T) {
	push := &fakeSender{}
	n := NewSubmissionNotifier(push, &fakeTokens{byUser: map[int64][]string{501: {"t"}}}, zap.NewNop().Sugar())

	e := events.New(events.SubmissionRejected, time.Now())
	e.SubmitterID, e.SubmissionID, e.Reason = 501, 3, "duplicate of an existing venue"
	require.NoError(t, n.Handle(context.Background(), e))

	require.Len(t, push.sent, 1)
	assert.Equal(t, "duplicate of an existing venue", push.sent[0][0].Body)
	assert.Equal(t, "submissions/3", push.sent[0][0].Data["screen"])
}

func TestNotifySkips(t *testing.T) {
	ctx := context.Background()
	push := &fakeSender{}
	n := NewSubmissionNotifier(push, &fakeTokens{}, zap.NewNop().Sugar())

	other := events.New(events.ReviewCreated, time.Now())
	other.SubmitterID = 501
	require.NoError(t, n.Handle(ctx, other))

	anonymous := events.New(events.VenueApproved, time.Now())
	require.NoError(t, n.Handle(ctx, anonymous))

	noDevices := events.New(events.VenueApproved, time.Now())
	noDevices.SubmitterID = 501
	require.NoError(t, n.Handle(ctx, noDevices))

	assert.Empty(t, push.sent)
}

func TestNotifyErrors(t *testing.T) {
	ctx := context.Background()
	e := events.New(events.VenueApproved, time.Now())
	e.SubmitterID = 501

	down := errors.New("down")
	n := NewSubmissionNotifier(&fakeSender{}, &fakeTokens{err: down}, zap.NewNop().Sugar())
	assert.ErrorIs(t, n.Handle(ctx, e), down)

	n = NewSubmissionNotifier(&fakeSender{err: down}, &fakeTokens{byUser: map[int64][]string{501: {"t"}}}, zap.NewNop().Sugar())
	assert.ErrorIs(t, n.Handle(ctx, e), down)
}

func TestBatches(t *testing.T) {
	items := make([]int, 250)
	got := batches(items, maxBatch)
	require.Len(t, got, 3)
	assert.Len(t, got[0], 100)
	assert.Len(t, got[2], 50)

	assert.Empty(t, batches([]int{}, maxBatch))
	assert.Len(t, batches(make([]int, 100), maxBatch), 1)
}
