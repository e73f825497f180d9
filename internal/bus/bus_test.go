package bus

import "testing"

func TestSubscribeFilter(t *testing.T) {
	b := New()
	sub := b.Subscribe(TypeSyncFinished)
	defer sub.Cancel()

	b.Publish(Event{Type: TypeLogin})
	b.Publish(Event{Type: TypeSyncFinished, Data: "report"})

	ev := <-sub.C
	if ev.Type != TypeSyncFinished {
		t.Fatalf("got %s, want %s", ev.Type, TypeSyncFinished)
	}
	if ev.Data != "report" {
		t.Fatalf("data = %v", ev.Data)
	}
	select {
	case ev := <-sub.C:
		t.Fatalf("unexpected second event %s", ev.Type)
	default:
	}
}

func TestSubscribeAll(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	defer sub.Cancel()

	b.Publish(Event{Type: TypeLogin})
	b.Publish(Event{Type: TypeQueueChanged})

	if ev := <-sub.C; ev.Type != TypeLogin {
		t.Fatalf("first = %s", ev.Type)
	}
	if ev := <-sub.C; ev.Type != TypeQueueChanged {
		t.Fatalf("second = %s", ev.Type)
	}
}

func TestCancelIdempotent(t *testing.T) {
	b := New()
	sub := b.Subscribe(TypeLogout)
	if n := b.SubscriberCount(); n != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", n)
	}

	sub.Cancel()
	sub.Cancel() // must not panic on double cancel

	if n := b.SubscriberCount(); n != 0 {
		t.Fatalf("SubscriberCount after cancel = %d, want 0", n)
	}
	// Publishing after cancel must not panic or deliver.
	b.Publish(Event{Type: TypeLogout})
	if _, ok := <-sub.C; ok {
		t.Fatal("received on cancelled subscription")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := New()
	sub := b.Subscribe(TypeQueueChanged)
	defer sub.Cancel()

	// Overflow the buffer with nobody draining. Publish must drop the
	// oldest and keep the newest rather than block.
	for i := 0; i < subscriberBuffer*2; i++ {
		b.Publish(Event{Type: TypeQueueChanged, Data: i})
	}

	var last int
	for {
		select {
		case ev := <-sub.C:
			last = ev.Data.(int)
			continue
		default:
		}
		break
	}
	if last != subscriberBuffer*2-1 {
		t.Fatalf("newest delivered event = %d, want %d", last, subscriberBuffer*2-1)
	}
}
