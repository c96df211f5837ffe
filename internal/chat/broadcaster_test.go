// ABOUTME: Tests for the change Broadcaster fan-out pub/sub system
// ABOUTME: Covers subscribe, publish, unsubscribe, context cancellation, concurrency

package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBroadcaster_SingleSubscriberReceivesChange(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), TopicConversation("dm:a:b"))

	b.Publish(TopicConversation("dm:a:b"), Change{Kind: ChangeMessages, ConversationID: "dm:a:b"})

	select {
	case received := <-ch:
		assert.Equal(t, ChangeMessages, received.Kind)
		assert.Equal(t, "dm:a:b", received.ConversationID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change")
	}
}

func TestBroadcaster_MultipleSubscribersReceiveSameChange(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx := t.Context()

	ch1, _ := b.Subscribe(ctx, TopicUser("alice"))
	ch2, _ := b.Subscribe(ctx, TopicUser("alice"))
	ch3, _ := b.Subscribe(ctx, TopicUser("alice"))

	b.Publish(TopicUser("alice"), Change{Kind: ChangeConversations, ConversationID: "dm:alice:bob"})

	for i, ch := range []<-chan Change{ch1, ch2, ch3} {
		select {
		case received := <-ch:
			assert.Equal(t, ChangeConversations, received.Kind, "subscriber %d got wrong change", i)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestBroadcaster_TopicsAreIsolated(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx := t.Context()

	ch1, _ := b.Subscribe(ctx, TopicUser("alice"))
	ch2, _ := b.Subscribe(ctx, TopicUser("bob"))

	b.Publish(TopicUser("alice"), Change{Kind: ChangeConversations})

	select {
	case <-ch1:
		// Expected
	case <-time.After(time.Second):
		t.Fatal("subscriber for alice timed out")
	}

	select {
	case <-ch2:
		t.Fatal("subscriber for bob should not receive alice's changes")
	case <-time.After(100 * time.Millisecond):
		// Expected: no change
	}
}

func TestBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, subID := b.Subscribe(context.Background(), TopicUser("alice"))
	b.Unsubscribe(TopicUser("alice"), subID)

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}

	// Publishing after unsubscribe must not panic
	b.Publish(TopicUser("alice"), Change{Kind: ChangeConversations})
}

func TestBroadcaster_ContextCancellationCleansUp(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, TopicUser("alice"))

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after context cancel")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancel")
	}
}

func TestBroadcaster_SlowSubscriberDropsNotBlocks(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	// Nobody drains this channel; fill past the buffer
	b.Subscribe(t.Context(), TopicUser("alice"))

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBufferSize*2; i++ {
			b.Publish(TopicUser("alice"), Change{Kind: ChangeConversations})
		}
		close(done)
	}()

	select {
	case <-done:
		// Publish never blocked
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestBroadcaster_ConcurrentPublishSubscribe(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithCancel(context.Background())
			ch, _ := b.Subscribe(ctx, TopicUser("alice"))
			// Cancellation closes the channel and ends the drain loop
			go func() {
				time.Sleep(20 * time.Millisecond)
				cancel()
			}()
			for range ch {
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Publish(TopicUser("alice"), Change{Kind: ChangeConversations})
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("concurrent publish/subscribe deadlocked")
	}
}
