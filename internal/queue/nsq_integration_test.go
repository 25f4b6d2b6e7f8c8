package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prodsync/apps/backend/internal/config"
	"prodsync/apps/backend/internal/queue"
	"prodsync/apps/backend/internal/testutils"
)

func TestNSQ_RoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	ctx := context.Background()
	require.NoError(t, queue.CreateTopics(ctx, s.NSQDHTTPAddr, config.TopicIngestRecord))

	pub, err := queue.NewNSQPublisher(s.NSQDAddr)
	require.NoError(t, err)
	defer pub.Stop()

	attempts := make(chan int, 4)
	sub := &queue.NSQSubscriber{NSQDAddr: s.NSQDAddr, RequeueDelay: 100 * time.Millisecond}
	subscription, err := sub.Subscribe(ctx, queue.SubscribeConfig{Topic: config.TopicIngestRecord, Channel: config.ChannelIngestWorker},
		func(ctx context.Context, body []byte, attempt int) error {
			attempts <- attempt
			if attempt == 1 {
				return assert.AnError
			}
			return nil
		})
	require.NoError(t, err)
	defer subscription.Stop()

	require.NoError(t, pub.Publish(ctx, config.TopicIngestRecord, []byte(`{"id":"r1"}`)))

	var seen []int
	timeout := time.After(30 * time.Second)
	for len(seen) < 2 {
		select {
		case a := <-attempts:
			seen = append(seen, a)
		case <-timeout:
			t.Fatalf("saw attempts %v", seen)
		}
	}
	assert.Equal(t, []int{1, 2}, seen)
}
