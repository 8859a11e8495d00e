package notifications

import (
	"context"
	"fmt"

	"github.com/9ssi7/exponent"
)

// maxBatch is the most messages Expo accepts in one request.
const maxBatch = 100

// PushSender is the part of the Expo client the notifier needs.
type PushSender interface {
	Publish(ctx context.Context, msgs []*exponent.Message) ([]*exponent.MessageResponse, error)
}

// ExpoAdapter sends through the Expo push service in batches of at most
// maxBatch messages.
type ExpoAdapter struct {
	client *exponent.Client
}

func NewExpoAdapter(c *exponent.Client) *ExpoAdapter {
	return &ExpoAdapter{client: c}
}

func (a *ExpoAdapter) Publish(ctx context.Context, msgs []*exponent.Message) ([]*exponent.MessageResponse, error) {
	var out []*exponent.MessageResponse
	for i, batch := range batches(msgs, maxBatch) {
		res, err := a.client.Publish(ctx, batch)
		if err != nil {
			return out, fmt.Errorf("batch %d: %w", i, err)
		}
		out = append(out, res...)
	}
	return out, nil
}

func batches[T any](items []T, size int) [][]T {
	var out [][]T
	for len(items) > size {
		out = append(out, items[:size:size])
		items = items[size:]
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}
