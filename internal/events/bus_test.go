package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiskasyela/braintheria-backend/internal/domain"
	"github.com/fiskasyela/braintheria-backend/internal/telemetry"
)

func TestPublishFansOutInOrder(t *testing.T) {
	bus := NewBus(8, nil)
	ctx := context.Background()
	a := bus.Subscribe(ctx)
	b := bus.Subscribe(ctx)
	defer a.Close()
	defer b.Close()

	bus.Publish(domain.LifecycleEvent{Kind: domain.EventQuestionCreated, QuestionID: 1})
	bus.Publish(domain.LifecycleEvent{Kind: domain.EventAnswerCreated, QuestionID: 1, AnswerID: 2})

	for _, sub := range []*Subscription{a, b} {
		first := <-sub.Events()
		second := <-sub.Events()
		assert.Equal(t, domain.EventQuestionCreated, first.Kind)
		assert.Equal(t, domain.EventAnswerCreated, second.Kind)
		assert.NotEmpty(t, first.ID)
		assert.NotEmpty(t, first.At)
	}
}

func TestPublishWithoutSubscribersDoesNotBlock(t *testing.T) {
	bus := NewBus(1, nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(domain.LifecycleEvent{Kind: domain.EventQuestionCreated})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked")
	}
}

func TestFullQueueDropsForSlowSubscriberOnly(t *testing.T) {
	m := telemetry.New()
	bus := NewBus(2, m)
	ctx := context.Background()
	slow := bus.Subscribe(ctx)
	fast := bus.Subscribe(ctx)
	defer slow.Close()
	defer fast.Close()

	var wg sync.WaitGroup
	var received int
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 5 {
			<-fast.Events()
			received++
		}
	}()
	for i := 0; i < 5; i++ {
		bus.Publish(domain.LifecycleEvent{Kind: domain.EventQuestionCreated, QuestionID: int64(i)})
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()

	assert.Equal(t, 5, received)
	assert.Len(t, slow.Events(), 2)
	assert.Equal(t, float64(3), testutil.ToFloat64(m.EventsDropped))
	assert.Equal(t, float64(5), testutil.ToFloat64(m.EventsPublished))
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	bus := NewBus(4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	sub := bus.Subscribe(ctx)
	require.Equal(t, 1, bus.Len())
	cancel()
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed")
	}
	assert.Equal(t, 0, bus.Len())
	bus.Publish(domain.LifecycleEvent{Kind: domain.EventQuestionCreated})
	assert.Len(t, sub.Events(), 0)
}

func TestNoReplayForLateSubscriber(t *testing.T) {
	bus := NewBus(4, nil)
	bus.Publish(domain.LifecycleEvent{Kind: domain.EventQuestionCreated})
	sub := bus.Subscribe(context.Background())
	defer sub.Close()
	assert.Len(t, sub.Events(), 0)
	sub.Close()
	sub.Close()
	assert.Equal(t, 0, bus.Len())
}
