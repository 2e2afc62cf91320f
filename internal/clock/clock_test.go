package clock

import (
	"testing"
	"time"
)

func TestFakeFiresInDeadlineOrder(t *testing.T) {
	clk := NewFake(time.Unix(0, 0))
	var order []string
	clk.AfterFunc(2*time.Minute, func() { order = append(order, "late") })
	clk.AfterFunc(time.Minute, func() { order = append(order, "early") })
	stopped := clk.AfterFunc(time.Minute, func() { order = append(order, "stopped") })
	if !stopped.Stop() {
		t.Fatalf("expected stop to report true")
	}

	clk.Advance(30 * time.Second)
	if len(order) != 0 {
		t.Fatalf("nothing should fire yet, got %v", order)
	}
	clk.Advance(2 * time.Minute)
	if len(order) != 2 || order[0] != "early" || order[1] != "late" {
		t.Fatalf("unexpected order %v", order)
	}
	if clk.Pending() != 0 {
		t.Fatalf("expected no pending timers")
	}
	if stopped.Stop() {
		t.Fatalf("second stop should report false")
	}
}
