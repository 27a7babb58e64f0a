package bridge

import (
	"testing"
	"time"
)

func TestRestartBudget_ExhaustsWithinWindow(t *testing.T) {
	b := newRestartBudget(3, 60*time.Second)
	now := time.Now()

	for i := 0; i < 3; i++ {
		if exhausted := b.record(now.Add(time.Duration(i) * time.Second)); exhausted {
			t.Fatalf("restart %d should not exhaust a budget of 3", i+1)
		}
	}

	if exhausted := b.record(now.Add(4 * time.Second)); !exhausted {
		t.Fatal("4th restart within the window should exhaust the budget")
	}
}

func TestRestartBudget_OldEventsAgeOutOfWindow(t *testing.T) {
	b := newRestartBudget(1, 10*time.Second)
	now := time.Now()

	if exhausted := b.record(now); exhausted {
		t.Fatal("first restart should not exhaust a budget of 1")
	}
	if exhausted := b.record(now.Add(20 * time.Second)); exhausted {
		t.Fatal("restart after the window elapsed should not see the earlier event")
	}
}
