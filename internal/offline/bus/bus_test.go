package bus

import (
	"testing"
	"time"
)

func TestBus_FanOut(t *testing.T) {
	b := New()
	a := b.Subscribe(1)
	c := b.Subscribe(1)

	b.Publish(Message{Type: TypeSynced, Count: 2})

	for _, ch := range []chan Message{a, c} {
		select {
		case msg := <-ch:
			if msg.Type != TypeSynced || msg.Count != 2 {
				t.Errorf("unexpected message %+v", msg)
			}
			if msg.Timestamp.IsZero() {
				t.Error("expected timestamp to be filled in")
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive message")
		}
	}
}

func TestBus_FullSubscriberDoesNotBlock(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)

	done := make(chan struct{})
	go func() {
		b.Publish(Message{Type: TypeQueued})
		b.Publish(Message{Type: TypeQueued})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	b.Unsubscribe(ch)
	if _, ok := <-ch; !ok {
		t.Fatal("expected the buffered message before close")
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed")
	}
}

func TestBus_NilIsNoop(t *testing.T) {
	var b *Bus
	b.Publish(Message{Type: TypeQueued})
}
