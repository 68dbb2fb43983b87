package events

import (
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan any) any {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
		return nil
	}
}

func TestPublishReachesTopicSubscribers(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	ch1, cancel1 := b.Subscribe("generation:1")
	defer cancel1()
	ch2, cancel2 := b.Subscribe("generation:1")
	defer cancel2()
	other, cancelOther := b.Subscribe("generation:2")
	defer cancelOther()

	b.Publish("generation:1", "hello")

	if got := recv(t, ch1); got != "hello" {
		t.Errorf("subscriber 1 got %v", got)
	}
	if got := recv(t, ch2); got != "hello" {
		t.Errorf("subscriber 2 got %v", got)
	}
	select {
	case v := <-other:
		t.Errorf("other topic received %v", v)
	default:
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	_, cancel := b.Subscribe("t")
	defer cancel()

	// Far more events than the subscriber buffer holds; extras are
	// dropped rather than blocking the publisher.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*10; i++ {
			b.Publish("t", i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a slow subscriber")
	}
}

func TestCancelClosesChannel(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	ch, cancel := b.Subscribe("t")
	cancel()
	if _, ok := <-ch; ok {
		t.Errorf("cancelled subscription channel should be closed")
	}
	// Cancel twice is safe.
	cancel()
	// Publishing after cancel reaches nobody but must not panic.
	b.Publish("t", "x")
}

func TestCloseShutsDownSubscribers(t *testing.T) {
	b := NewBroker()
	ch, _ := b.Subscribe("t")
	b.Close()
	if _, ok := <-ch; ok {
		t.Errorf("close should close subscriber channels")
	}

	// Subscribing after close yields a closed channel.
	ch2, cancel2 := b.Subscribe("t")
	if _, ok := <-ch2; ok {
		t.Errorf("subscribe after close should yield a closed channel")
	}
	cancel2()
}
