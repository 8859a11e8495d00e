package notifications

import (
	"context"
	"fmt"
	"strconv"

	"calmmap/internal/domain/pushtokens"
	"calmmap/internal/events"

	"github.com/9ssi7/exponent"
	"go.uber.org/zap"
)

// SubmissionNotifier tells submitters what happened to their venue
// submissions. It is an events.Handler fed by the moderation queue.
type SubmissionNotifier struct {
	push   PushSender
	tokens pushtokens.Store
	logger *zap.SugaredLogger
}

func NewSubmissionNotifier(push PushSender, tokens pushtokens.Store, logger *zap.SugaredLogger) *SubmissionNotifier {
	return &SubmissionNotifier{push: push, tokens: tokens, logger: logger}
}

// Keys lists the event types Handle cares about.
func (n *SubmissionNotifier) Keys() []events.Type {
	return []events.Type{events.VenueApproved, events.SubmissionRejected}
}

func (n *SubmissionNotifier) Handle(ctx context.Context, e events.Event) error {
	if e.SubmitterID == 0 {
		return nil
	}

	var (
		title, body string
		data        map[string]string
	)
	switch e.Type {
	case events.VenueApproved:
		title = "Your venue is live"
		body = "Thanks! Your submission was approved."
		data = map[string]string{
			"type":          "submission_approved",
			"submission_id": strconv.FormatInt(e.SubmissionID, 10),
			"venue_id":      strconv.FormatInt(e.VenueID, 10),
			"screen":        fmt.Sprintf("venues/%d", e.VenueID),
		}
	case events.SubmissionRejected:
		title = "Your submission was not approved"
		body = "A moderator reviewed your submission and could not accept it."
		if e.Reason != "" {
			body = e.Reason
		}
		data = map[string]string{
			"type":          "submission_rejected",
			"submission_id": strconv.FormatInt(e.SubmissionID, 10),
			"screen":        fmt.Sprintf("submissions/%d", e.SubmissionID),
		}
	default:
		return nil
	}

	byUser, err := n.tokens.ForUsers(ctx, []int64{e.SubmitterID})
	if err != nil {
		return fmt.Errorf("load push tokens: %w", err)
	}
	tokens := dedupe(byUser[e.SubmitterID])
	if len(tokens) == 0 {
		n.logger.Infow("no push tokens", "user_id", e.SubmitterID, "event", e.Type)
		return nil
	}

	msgs := make([]*exponent.Message, 0, len(tokens))
	for _, t := range tokens {
		token := exponent.Token(t)
		msgs = append(msgs, &exponent.Message{
			To:    []*exponent.Token{&token},
			Title: title,
			Body:  body,
			Data:  data,
		})
	}
	if _, err := n.push.Publish(ctx, msgs); err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	n.logger.Infow("submitter notified", "user_id", e.SubmitterID, "event", e.Type, "devices", len(msgs))
	return nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
