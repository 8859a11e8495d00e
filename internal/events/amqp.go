package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const DefaultExchange = "moderation"

const (
	// dialTimeout bounds connecting to the broker.
	dialTimeout = 3 * time.Second
	// redialBackoff is how long the publisher fails fast after a failed dial.
	redialBackoff = 15 * time.Second
)

var errBrokerDown = errors.New("amqp broker unavailable")

type dialFunc func(url string, cfg amqp.Config) (*amqp.Connection, error)

func dialConfig(timeout time.Duration) amqp.Config {
	return amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(timeout),
	}
}

// AMQPPublisher publishes events to a durable topic exchange, routed by event
// type. The connection is opened lazily and reopened after it drops. After a
// failed dial it returns errBrokerDown without dialing until redialBackoff
// has passed.
type AMQPPublisher struct {
	url      string
	exchange string
	logger   *zap.SugaredLogger
	dial     dialFunc
	now      func() time.Time

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	nextDial time.Time
}

func NewAMQPPublisher(url, exchange string, logger *zap.SugaredLogger) *AMQPPublisher {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &AMQPPublisher{url: url, exchange: exchange, logger: logger, dial: amqp.DialConfig, now: time.Now}
}

// dialTimeoutFor is dialTimeout shortened to the context deadline, if any.
func dialTimeoutFor(ctx context.Context, now time.Time) time.Duration {
	timeout := dialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, deadline.Sub(now))
	}
	return timeout
}

func declareExchange(ch *amqp.Channel, exchange string) error {
	return ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	)
}

// channel returns an open channel, dialing if needed. Caller holds mu.
func (p *AMQPPublisher) channel(ctx context.Context) (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() && p.conn != nil && !p.conn.IsClosed() {
		return p.ch, nil
	}
	p.closeLocked()

	now := p.now()
	if now.Before(p.nextDial) {
		return nil, errBrokerDown
	}
	timeout := dialTimeoutFor(ctx, now)
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}

	conn, err := p.dial(p.url, dialConfig(timeout))
	if err != nil {
		p.nextDial = now.Add(redialBackoff)
		return nil, fmt.Errorf("amqp dial: %w: %w", errBrokerDown, err)
	}
	p.nextDial = time.Time{}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := declareExchange(ch, p.exchange); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp exchange declare: %w", err)
	}

	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel(ctx)
	if err != nil {
		p.logger.Warnw("event publish skipped", "type", e.Type, "error", err)
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ID,
		Type:         string(e.Type),
		Timestamp:    e.OccurredAt,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, p.exchange, string(e.Type), false, false, pub); err != nil {
		p.logger.Warnw("event publish failed", "type", e.Type, "id", e.ID, "error", err)
		p.closeLocked()
		return err
	}
	return nil
}

func (p *AMQPPublisher) closeLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	return nil
}

// Consumer binds a durable queue to the exchange and feeds deliveries to a
// Handler, reconnecting with backoff until its context is cancelled.
type Consumer struct {
	URL      string
	Exchange string
	Queue    string
	Keys     []Type
	Handler  Handler
	Logger   *zap.SugaredLogger
}

func (c *Consumer) Run(ctx context.Context) error {
	exchange := c.Exchange
	if exchange == "" {
		exchange = DefaultExchange
	}

	backoff := time.Second
	for {
		conn, err := amqp.DialConfig(c.URL, dialConfig(dialTimeout))
		if err != nil {
			c.Logger.Warnw("event consumer dial failed", "queue", c.Queue, "retry_in", backoff, "error", err)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn, exchange)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.Logger.Warnw("event consumer loop ended, reconnecting", "queue", c.Queue, "error", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection, exchange string) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.Logger.Warnw("event consumer set QoS failed", "error", err)
	}
	if err := declareExchange(ch, exchange); err != nil {
		return fmt.Errorf("exchange declare: %w", err)
	}
	if _, err := ch.QueueDeclare(c.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	for _, key := range c.Keys {
		if err := ch.QueueBind(c.Queue, string(key), exchange, false, nil); err != nil {
			return fmt.Errorf("queue bind %s: %w", key, err)
		}
	}

	msgs, err := ch.Consume(c.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.handle(ctx, d.Body); err != nil {
				c.Logger.Errorw("event handler failed", "queue", c.Queue, "error", err)
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, body []byte) error {
	var e Event
	if err := json.Unmarshal(body, &e); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return c.Handler(ctx, e)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
