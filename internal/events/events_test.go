package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewStampsIDAndUTCTime(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+2", 2*60*60)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, loc)

	a := New(VenueApproved, at)
	b := New(VenueApproved, at)

	_, err := uuid.Parse(a.ID)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, VenueApproved, a.Type)
	assert.Equal(t, time.UTC, a.OccurredAt.Location())
	assert.True(t, a.OccurredAt.Equal(at))
}

func TestConsumerHandleDecodesEvent(t *testing.T) {
	t.Parallel()

	e := New(SubmissionRejected, time.Now())
	e.SubmissionID = 7
	e.SubmitterID = 42
	e.Reason = "duplicate"
	body, err := json.Marshal(e)
	require.NoError(t, err)

	var got Event
	c := &Consumer{
		Logger: zap.NewNop().Sugar(),
		Handler: func(_ context.Context, ev Event) error {
			got = ev
			return nil
		},
	}
	require.NoError(t, c.handle(context.Background(), body))
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, int64(7), got.SubmissionID)
	assert.Equal(t, int64(42), got.SubmitterID)
	assert.Equal(t, "duplicate", got.Reason)
}

func TestConsumerHandleErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	c := &Consumer{
		Logger:  zap.NewNop().Sugar(),
		Handler: func(context.Context, Event) error { return boom },
	}

	err := c.handle(context.Background(), []byte("{not json"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, boom)

	err = c.handle(context.Background(), []byte(`{"type":"review.deleted"}`))
	assert.ErrorIs(t, err, boom)
}

func TestSleepStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, sleep(ctx, time.Hour))
	assert.True(t, sleep(context.Background(), time.Millisecond))
}

func TestNopPublisher(t *testing.T) {
	t.Parallel()
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(context.Background(), New(ReviewDeleted, time.Now())))
}

func TestPublisherFailsFastWhileBrokerIsDown(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var dials int
	p := NewAMQPPublisher("amqp://broker.invalid", "", zap.NewNop().Sugar())
	p.now = func() time.Time { return now }
	p.dial = func(_ string, cfg amqp.Config) (*amqp.Connection, error) {
		dials++
		assert.NotNil(t, cfg.Dial)
		return nil, errors.New("connection refused")
	}

	ctx := context.Background()
	e := New(VenueApproved, now)

	err := p.Publish(ctx, e)
	assert.ErrorIs(t, err, errBrokerDown)
	assert.Equal(t, 1, dials)

	err = p.Publish(ctx, e)
	assert.ErrorIs(t, err, errBrokerDown)
	assert.Equal(t, 1, dials, "no redial inside the backoff window")

	now = now.Add(redialBackoff + time.Second)
	err = p.Publish(ctx, e)
	assert.ErrorIs(t, err, errBrokerDown)
	assert.Equal(t, 2, dials)
}

func TestDialTimeoutFollowsContextDeadline(t *testing.T) {
	t.Parallel()

	now := time.Now()
	assert.Equal(t, dialTimeout, dialTimeoutFor(context.Background(), now))

	ctx, cancel := context.WithDeadline(context.Background(), now.Add(time.Second))
	defer cancel()
	assert.Equal(t, time.Second, dialTimeoutFor(ctx, now))

	late, cancelLate := context.WithDeadline(context.Background(), now.Add(time.Minute))
	defer cancelLate()
	assert.Equal(t, dialTimeout, dialTimeoutFor(late, now))
}
