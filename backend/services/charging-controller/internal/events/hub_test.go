package events

import "testing"

func TestHubRoutesBySession(t *testing.T) {
	hub := NewHub()
	a := hub.Subscribe("s-a")
	b := hub.Subscribe("s-b")

	hub.Publish(Event{Type: TypeNotice, SessionID: "s-a", Notice: "hello"})

	got := <-a.C
	if got.Notice != "hello" {
		t.Fatalf("expected hello got %q", got.Notice)
	}
	select {
	case e := <-b.C:
		t.Fatalf("unexpected event for other session: %#v", e)
	default:
	}
	hub.Unsubscribe(a)
	if _, ok := <-a.C; ok {
		t.Fatalf("expected channel closed after unsubscribe")
	}
}

func TestHubCloseAndLateUnsubscribe(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("s-1")
	hub.Close()
	if _, ok := <-sub.C; ok {
		t.Fatalf("expected channel closed")
	}
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("panic on Unsubscribe after Close: %v", r)
		}
	}()
	hub.Unsubscribe(sub)
	hub.Publish(Event{SessionID: "s-1"})

	late := hub.Subscribe("s-1")
	if _, ok := <-late.C; ok {
		t.Fatalf("expected closed channel from closed hub")
	}
}

func TestHubDropsWhenFull(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("s-1")
	for i := 0; i < subscriberBuffer+5; i++ {
		hub.Publish(Event{SessionID: "s-1"})
	}
	if len(sub.C) != subscriberBuffer {
		t.Fatalf("expected %d buffered events got %d", subscriberBuffer, len(sub.C))
	}
}
