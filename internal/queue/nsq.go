package queue

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nsqio/go-nsq"
)

// NSQPublisher publishes through one nsqd.
type NSQPublisher struct {
	producer *nsq.Producer
}

func NewNSQPublisher(nsqdAddr string) (*NSQPublisher, error) {
	producer, err := nsq.NewProducer(nsqdAddr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("nsq producer error: %w", err)
	}
	producer.SetLogger(slogAdapter{}, nsq.LogLevelWarning)
	return &NSQPublisher{producer: producer}, nil
}

func (p *NSQPublisher) Publish(ctx context.Context, topic string, body []byte) error {
	done := make(chan *nsq.ProducerTransaction, 1)
	if err := p.producer.PublishAsync(topic, body, done); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	select {
	case t := <-done:
		if t.Error != nil {
			return fmt.Errorf("publishing to %s: %w", topic, t.Error)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publishing to %s: %w", topic, ctx.Err())
	}
}

func (p *NSQPublisher) Stop() {
	p.producer.Stop()
}

// DefaultTouchInterval keeps a delivery alive well inside nsqd's default
// 60s msg-timeout.
const DefaultTouchInterval = 20 * time.Second

// NSQSubscriber connects consumers through nsqlookupd, or straight to nsqd
// when no lookupd address is set.
type NSQSubscriber struct {
	LookupdAddr string
	NSQDAddr    string
	// RequeueDelay overrides go-nsq's base requeue delay when set.
	RequeueDelay time.Duration
	// TouchInterval is how often a running handler resets the message timeout.
	// Zero means DefaultTouchInterval.
	TouchInterval time.Duration
}

type nsqSubscription struct {
	consumer *nsq.Consumer
}

func (s *nsqSubscription) Stop() {
	s.consumer.Stop()
	<-s.consumer.StopChan
}

func (s *NSQSubscriber) Subscribe(ctx context.Context, cfg SubscribeConfig, h Handler) (Subscription, error) {
	cfg = cfg.withDefaults()

	consumer, err := nsq.NewConsumer(cfg.Topic, cfg.Channel, s.consumerConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("nsq consumer error: %w", err)
	}
	consumer.SetLogger(slogAdapter{}, nsq.LogLevelWarning)
	consumer.AddConcurrentHandlers(nsqHandler(ctx, cfg.Topic, h, s.touchInterval()), cfg.Concurrency)

	if s.LookupdAddr != "" {
		err = consumer.ConnectToNSQLookupd(s.LookupdAddr)
	} else {
		err = consumer.ConnectToNSQD(s.NSQDAddr)
	}
	if err != nil {
		consumer.Stop()
		return nil, fmt.Errorf("connecting consumer %s/%s: %w", cfg.Topic, cfg.Channel, err)
	}

	slog.InfoContext(ctx, "nsq consumer connected", "topic", cfg.Topic, "channel", cfg.Channel, "max_in_flight", cfg.MaxInFlight)
	return &nsqSubscription{consumer: consumer}, nil
}

// consumerConfig disables go-nsq's attempt limit. Past MaxAttempts go-nsq
// finishes a message without calling the handler, which would drop it before
// the handler's own dead-letter cap is reached.
func (s *NSQSubscriber) consumerConfig(cfg SubscribeConfig) *nsq.Config {
	nsqCfg := nsq.NewConfig()
	nsqCfg.MaxInFlight = cfg.MaxInFlight
	nsqCfg.MaxAttempts = 0
	if s.RequeueDelay > 0 {
		nsqCfg.DefaultRequeueDelay = s.RequeueDelay
		nsqCfg.MaxBackoffDuration = s.RequeueDelay
	}
	return nsqCfg
}

func (s *NSQSubscriber) touchInterval() time.Duration {
	if s.TouchInterval > 0 {
		return s.TouchInterval
	}
	return DefaultTouchInterval
}

// nsqHandler adapts h. go-nsq finishes the message on a nil return and
// requeues it with backoff otherwise.
func nsqHandler(ctx context.Context, topic string, h Handler, touchEvery time.Duration) nsq.HandlerFunc {
	return func(m *nsq.Message) error {
		var t toucher
		if m.Delegate != nil {
			t = m
		}
		defer keepAlive(t, touchEvery)()
		return safeCall(ctx, h, topic, m.Body, int(m.Attempts))
	}
}

type toucher interface {
	Touch()
}

// keepAlive touches t every interval until the returned stop func is called.
// go-nsq does not touch on its own, so a slow handler would otherwise see its
// message redelivered while still running.
func keepAlive(t toucher, interval time.Duration) (stop func()) {
	if t == nil || interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				t.Touch()
			}
		}
	}()
	return func() {
		close(done)
		<-exited
	}
}

// CreateTopics registers topics on nsqd so consumers do not wait for the
// first publish to discover them.
func CreateTopics(ctx context.Context, nsqdHTTP string, topics ...string) error {
	for _, topic := range topics {
		u := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, url.QueryEscape(topic))
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("creating topic %s: %w", topic, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("creating topic %s: nsqd returned %d", topic, resp.StatusCode)
		}
		slog.InfoContext(ctx, "nsq topic ready", "topic", topic)
	}
	return nil
}

// slogAdapter routes go-nsq's internal logging into slog.
type slogAdapter struct{}

func (slogAdapter) Output(_ int, s string) error {
	switch {
	case strings.HasPrefix(s, "ERR"):
		slog.Error("nsq", "msg", s)
	case strings.HasPrefix(s, "WRN"):
		slog.Warn("nsq", "msg", s)
	default:
		slog.Debug("nsq", "msg", s)
	}
	return nil
}
