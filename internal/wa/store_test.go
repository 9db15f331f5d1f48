package wa

import (
	"sync"
	"testing"
	"time"
)

func TestStore_GetUnknown(t *testing.T) {
	s := NewStore()
	if got := s.Get("main"); got.Phase != PhaseUnstarted {
		t.Errorf("Get(unknown) = %+v, want unstarted", got)
	}
}

func TestStore_ApplyWakesWaiters(t *testing.T) {
	s := NewStore()
	changed := s.Changed("main")

	prev, next := s.Apply("main", func(st Status) Status { return st.Start(time.Now()) })
	if prev.Phase != PhaseUnstarted || next.Phase != PhaseStarting {
		t.Errorf("Apply = %v -> %v", prev.Phase, next.Phase)
	}
	select {
	case <-changed:
	default:
		t.Fatal("change channel not closed after Apply")
	}
}

func TestStore_ApplyNoChangeDoesNotWake(t *testing.T) {
	s := NewStore()
	now := time.Now()
	s.Apply("main", func(st Status) Status { return st.Connect(now) })
	changed := s.Changed("main")

	s.Apply("main", func(st Status) Status { return st.QRUpdated("ignored", now) })
	select {
	case <-changed:
		t.Fatal("change channel closed although status did not change")
	default:
	}
}

func TestStore_KeysAreIndependent(t *testing.T) {
	s := NewStore()
	other := s.Changed("other")
	s.Apply("main", func(st Status) Status { return st.Start(time.Now()) })
	select {
	case <-other:
		t.Fatal("change on main woke waiters on other")
	default:
	}
	if s.Get("other").Phase != PhaseUnstarted {
		t.Error("other session changed")
	}
}

func TestStore_ResetForgetsAndWakes(t *testing.T) {
	s := NewStore()
	s.Apply("main", func(st Status) Status { return st.Start(time.Now()) })
	changed := s.Changed("main")

	s.Reset("main")
	select {
	case <-changed:
	default:
		t.Fatal("Reset did not wake waiters")
	}
	if s.Get("main").Phase != PhaseUnstarted {
		t.Error("status survived Reset")
	}
	s.Reset("never-seen")
}

func TestStore_SnapshotSkipsUnstarted(t *testing.T) {
	s := NewStore()
	s.Changed("waiting-only")
	s.Apply("main", func(st Status) Status { return st.Connect(time.Now()) })

	snap := s.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("Snapshot has %d entries, want 1: %v", len(snap), snap)
	}
	if !snap["main"].Connected() {
		t.Errorf("snapshot main = %+v", snap["main"])
	}
}

func TestStore_ConcurrentApply(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			now := time.Now()
			if i%2 == 0 {
				s.Apply("main", func(st Status) Status { return st.QRUpdated("qr", now) })
			} else {
				s.Apply("main", func(st Status) Status { return st.Start(now) })
			}
			_ = s.Get("main")
			_ = s.Snapshot()
		}(i)
	}
	wg.Wait()
}
