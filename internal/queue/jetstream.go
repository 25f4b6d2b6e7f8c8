package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// JetStream runs the queue on a NATS JetStream work-queue stream per topic.
// Messages stay in the stream until acknowledged, so a crashed worker's
// deliveries are redelivered after AckWait.
type JetStream struct {
	nc *nats.Conn
	js nats.JetStreamContext

	// AckWait is how long a delivery may stay unacknowledged before redelivery.
	AckWait time.Duration
	// RetryDelay is the Nak delay for a failed attempt.
	RetryDelay func(attempt int) time.Duration

	mu      sync.Mutex
	streams map[string]bool
}

func ConnectJetStream(url string, opts ...nats.Option) (*JetStream, error) {
	opts = append([]nats.Option{
		nats.Name("prodsync"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	}, opts...)

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return NewJetStream(nc)
}

func NewJetStream(nc *nats.Conn) (*JetStream, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	return &JetStream{
		nc:         nc,
		js:         js,
		AckWait:    5 * time.Minute,
		RetryDelay: defaultRetryDelay,
		streams:    map[string]bool{},
	}, nil
}

func defaultRetryDelay(attempt int) time.Duration {
	d := time.Duration(attempt) * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

// StreamName maps a topic to its stream name. Stream names may not contain dots.
func StreamName(topic string) string {
	return strings.ToUpper(sanitize(topic))
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '/', '\\':
			return '_'
		}
		return r
	}, s)
}

// EnsureStream creates the work-queue stream for topic if it does not exist.
func (j *JetStream) EnsureStream(ctx context.Context, topic string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.streams[topic] {
		return nil
	}

	name := StreamName(topic)
	_, err := j.js.StreamInfo(name, nats.Context(ctx))
	if errors.Is(err, nats.ErrStreamNotFound) {
		_, err = j.js.AddStream(&nats.StreamConfig{
			Name:      name,
			Subjects:  []string{topic},
			Storage:   nats.FileStorage,
			Retention: nats.WorkQueuePolicy,
		}, nats.Context(ctx))
		if errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			err = nil
		}
	}
	if err != nil {
		return fmt.Errorf("ensuring stream %s: %w", name, err)
	}
	j.streams[topic] = true
	slog.InfoContext(ctx, "jetstream stream ready", "stream", name, "subject", topic)
	return nil
}

func (j *JetStream) Publish(ctx context.Context, topic string, body []byte) error {
	if err := j.EnsureStream(ctx, topic); err != nil {
		return err
	}
	if _, err := j.js.Publish(topic, body, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

type jsSubscription struct {
	sub *nats.Subscription
	wg  *sync.WaitGroup
}

func (s *jsSubscription) Stop() {
	if err := s.sub.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		slog.Warn("jetstream drain failed", "subject", s.sub.Subject, "error", err)
	}
	s.wg.Wait()
}

func (j *JetStream) Subscribe(ctx context.Context, cfg SubscribeConfig, h Handler) (Subscription, error) {
	cfg = cfg.withDefaults()
	if err := j.EnsureStream(ctx, cfg.Topic); err != nil {
		return nil, err
	}

	durable := sanitize(cfg.Channel + "-" + cfg.Topic)
	sem := make(chan struct{}, cfg.Concurrency)
	wg := &sync.WaitGroup{}

	cb := func(m *nats.Msg) {
		attempt := 1
		if md, err := m.Metadata(); err == nil {
			attempt = int(md.NumDelivered)
		}
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer func() {
				<-sem
				wg.Done()
			}()
			j.dispatch(ctx, cfg.Topic, h, m, attempt)
		}()
	}

	sub, err := j.js.QueueSubscribe(cfg.Topic, durable, cb,
		nats.Durable(durable),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.MaxAckPending(cfg.MaxInFlight),
		nats.AckWait(j.AckWait),
		nats.DeliverAll(),
	)
	if err != nil {
		return nil, fmt.Errorf("subscribing %s/%s: %w", cfg.Topic, cfg.Channel, err)
	}

	slog.InfoContext(ctx, "jetstream consumer connected", "topic", cfg.Topic, "durable", durable, "max_in_flight", cfg.MaxInFlight)
	return &jsSubscription{sub: sub, wg: wg}, nil
}

func (j *JetStream) dispatch(ctx context.Context, topic string, h Handler, m *nats.Msg, attempt int) {
	if err := safeCall(ctx, h, topic, m.Data, attempt); err != nil {
		if nakErr := m.NakWithDelay(j.RetryDelay(attempt)); nakErr != nil {
			slog.WarnContext(ctx, "jetstream nak failed", "topic", topic, "error", nakErr)
		}
		return
	}
	if err := m.Ack(); err != nil {
		// Unacked messages come back after AckWait; handlers are idempotent.
		slog.WarnContext(ctx, "jetstream ack failed", "topic", topic, "error", err)
	}
}

func (j *JetStream) Close() {
	j.nc.Close()
}
