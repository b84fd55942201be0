package sse

import (
	"strings"
	"testing"
)

func TestBroadcastIsTenantScoped(t *testing.T) {
	h := NewHub(nil)
	a := &Client{ID: "c1", TenantID: "t1", Events: make(chan Event, 1)}
	b := &Client{ID: "c2", TenantID: "t2", Events: make(chan Event, 1)}
	h.Register(a)
	h.Register(b)

	h.PublishAssignmentUpdate("t1", "asg-1", "stage_transitioned")

	select {
	case ev := <-a.Events:
		if ev.EventType != "assignment_update" || !strings.Contains(ev.Data, "asg-1") {
			t.Fatalf("unexpected event %+v", ev)
		}
	default:
		t.Fatal("tenant t1 client got nothing")
	}
	select {
	case ev := <-b.Events:
		t.Fatalf("tenant t2 client should not receive %+v", ev)
	default:
	}
}

func TestBroadcastSkipsFullClient(t *testing.T) {
	h := NewHub(nil)
	c := &Client{ID: "c1", TenantID: "t1", Events: make(chan Event, 1)}
	h.Register(c)

	h.PublishReportUpdate("t1", "rr-1", "queued")
	h.PublishReportUpdate("t1", "rr-1", "finalized") // 缓冲区已满，丢弃

	if got := len(c.Events); got != 1 {
		t.Fatalf("expected 1 buffered event, got %d", got)
	}
	h.Unregister("c1")
	if h.ClientCount() != 0 {
		t.Fatal("client not removed")
	}
	if _, ok := <-c.Events; !ok {
		t.Fatal("buffered event should still be readable after close")
	}
}
