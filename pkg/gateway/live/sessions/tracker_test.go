package sessions

import (
	"context"
	"testing"
	"time"
)

func TestTrackerRegisterAndCount(t *testing.T) {
	tr := NewTracker()
	if tr.Count() != 0 {
		t.Fatalf("Count = %d, want 0", tr.Count())
	}

	un1 := tr.Register("a", Handle{})
	un2 := tr.Register("b", Handle{})
	if tr.Count() != 2 {
		t.Fatalf("Count = %d, want 2", tr.Count())
	}

	un1()
	un1() // unregister is idempotent
	if tr.Count() != 1 {
		t.Fatalf("Count = %d, want 1", tr.Count())
	}
	un2()
	if tr.Count() != 0 {
		t.Fatalf("Count = %d, want 0", tr.Count())
	}
}

func TestTrackerReplaceStopsOldSession(t *testing.T) {
	tr := NewTracker()

	stopped := 0
	tr.Register("a", Handle{Stop: func() { stopped++ }})
	un := tr.Register("a", Handle{})

	if stopped != 1 {
		t.Fatalf("old session stopped %d times, want 1", stopped)
	}
	if tr.Count() != 1 {
		t.Fatalf("Count = %d, want 1", tr.Count())
	}

	un()
	if !tr.Wait(nil) {
		t.Fatal("Wait did not complete after replacement")
	}
}

func TestTrackerStopAll(t *testing.T) {
	tr := NewTracker()

	stopped := 0
	tr.Register("a", Handle{Stop: func() { stopped++ }})
	tr.Register("b", Handle{Stop: func() { stopped++ }})
	tr.Register("c", Handle{})

	if n := tr.StopAll(); n != 2 {
		t.Fatalf("StopAll = %d, want 2", n)
	}
	if stopped != 2 {
		t.Fatalf("stopped = %d, want 2", stopped)
	}
}

func TestTrackerWaitTimesOut(t *testing.T) {
	tr := NewTracker()
	un := tr.Register("a", Handle{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if tr.Wait(ctx) {
		t.Fatal("Wait completed with a live session")
	}

	un()
	if !tr.Wait(context.Background()) {
		t.Fatal("Wait did not complete after unregister")
	}
}
