package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/AMD-melliott/mcp-amdsmi/pkg/clock"
)

const testTimeout = time.Hour

func newTestRegistry(t *testing.T) (*Registry, *clock.FakeClock) {
	t.Helper()
	fakeClock := clock.NewFakeClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	r := NewRegistry(Config{
		Timeout:       testTimeout,
		SweepInterval: 5 * time.Minute,
		Clock:         fakeClock,
	}, nil)
	return r, fakeClock
}

func TestRegistry_Create(t *testing.T) {
	r, fakeClock := newTestRegistry(t)

	s := r.Create(ClientInfo{Name: "claude-desktop", Version: "1.0"})
	if s.ID == "" {
		t.Fatal("session has no id")
	}
	if !s.CreatedAt.Equal(fakeClock.Now()) || !s.LastActivity().Equal(fakeClock.Now()) {
		t.Errorf("timestamps = %v / %v, want %v", s.CreatedAt, s.LastActivity(), fakeClock.Now())
	}
	if s.Timeout != testTimeout {
		t.Errorf("Timeout = %v, want %v", s.Timeout, testTimeout)
	}
	if r.Count() != 1 {
		t.Errorf("Count = %d, want 1", r.Count())
	}

	other := r.Create(ClientInfo{})
	if other.ID == s.ID {
		t.Error("two sessions share an id")
	}
}

func TestRegistry_Create_RetriesCollidingID(t *testing.T) {
	r, _ := newTestRegistry(t)
	ids := []string{"same", "same", "different"}
	r.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	first := r.Create(ClientInfo{})
	second := r.Create(ClientInfo{})
	if first.ID != "same" || second.ID != "different" {
		t.Errorf("ids = %q, %q", first.ID, second.ID)
	}
}

func TestRegistry_ExpiryBoundary(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		valid   bool
	}{
		{"just before timeout", testTimeout - time.Millisecond, true},
		{"at timeout", testTimeout, true},
		{"just after timeout", testTimeout + time.Millisecond, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, fakeClock := newTestRegistry(t)
			s := r.Create(ClientInfo{})

			fakeClock.Advance(tt.elapsed)
			_, err := r.Touch(s.ID)
			if tt.valid && err != nil {
				t.Errorf("Touch() error = %v, want valid", err)
			}
			if !tt.valid {
				if !errors.Is(err, ErrSessionInvalid) {
					t.Errorf("Touch() error = %v, want ErrSessionInvalid", err)
				}
				if r.Count() != 0 {
					t.Error("expired session was not removed")
				}
				if !s.Terminated() {
					t.Error("expired session not marked terminated")
				}
			}
		})
	}
}

func TestRegistry_TouchExtendsSession(t *testing.T) {
	r, fakeClock := newTestRegistry(t)
	s := r.Create(ClientInfo{})

	for i := 0; i < 3; i++ {
		fakeClock.Advance(45 * time.Minute)
		if _, err := r.Touch(s.ID); err != nil {
			t.Fatalf("Touch %d: %v", i, err)
		}
	}
	if !s.LastActivity().Equal(fakeClock.Now()) {
		t.Errorf("LastActivity = %v, want %v", s.LastActivity(), fakeClock.Now())
	}
}

func TestRegistry_GetDoesNotRefresh(t *testing.T) {
	r, fakeClock := newTestRegistry(t)
	s := r.Create(ClientInfo{})
	created := s.LastActivity()

	fakeClock.Advance(time.Minute)
	if _, err := r.Get(s.ID); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !s.LastActivity().Equal(created) {
		t.Error("Get refreshed the session")
	}
}

func TestRegistry_UnknownSession(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Create(ClientInfo{})
	before := r.Stats()

	if _, err := r.Touch("abc"); !errors.Is(err, ErrSessionInvalid) {
		t.Errorf("Touch(abc) error = %v, want ErrSessionInvalid", err)
	}
	if _, err := r.Get(""); !errors.Is(err, ErrSessionInvalid) {
		t.Errorf("Get(\"\") error = %v, want ErrSessionInvalid", err)
	}

	if after := r.Stats(); after != before {
		t.Errorf("stats changed: %+v -> %+v", before, after)
	}
}

func TestRegistry_Terminate(t *testing.T) {
	r, _ := newTestRegistry(t)
	s := r.Create(ClientInfo{})

	if !r.Terminate(s.ID) {
		t.Error("Terminate() = false, want true")
	}
	if r.Terminate(s.ID) {
		t.Error("second Terminate() = true, want false")
	}
	if !s.Terminated() {
		t.Error("session not marked terminated")
	}
	if _, err := r.Touch(s.ID); !errors.Is(err, ErrSessionInvalid) {
		t.Errorf("Touch after terminate error = %v, want ErrSessionInvalid", err)
	}
	if got := r.Stats().Terminated; got != 1 {
		t.Errorf("Terminated = %d, want 1", got)
	}
}

func TestRegistry_ConcurrentRefreshKeepsLatest(t *testing.T) {
	r, fakeClock := newTestRegistry(t)
	s := r.Create(ClientInfo{})
	base := fakeClock.Now()

	const n = 64
	var wg sync.WaitGroup
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(offset time.Duration) {
			defer wg.Done()
			if _, err := r.lookup(s.ID, base.Add(offset), true); err != nil {
				t.Errorf("lookup: %v", err)
			}
		}(time.Duration(i) * time.Second)
	}
	wg.Wait()

	want := base.Add(n * time.Second)
	if got := s.LastActivity(); !got.Equal(want) {
		t.Errorf("LastActivity = %v, want %v", got, want)
	}
}

func TestRegistry_ConcurrentCreateAndTerminate(t *testing.T) {
	r, _ := newTestRegistry(t)

	const n = 50
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := r.Create(ClientInfo{})
			if _, err := r.Touch(s.ID); err != nil {
				t.Errorf("Touch: %v", err)
			}
			ids <- s.ID
		}()
	}
	wg.Wait()
	close(ids)

	if r.Count() != n {
		t.Fatalf("Count = %d, want %d", r.Count(), n)
	}

	for id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			r.Terminate(id)
		}(id)
	}
	wg.Wait()

	if r.Count() != 0 {
		t.Errorf("Count = %d, want 0", r.Count())
	}
}

func TestRegistry_Sweep(t *testing.T) {
	r, fakeClock := newTestRegistry(t)
	stale := r.Create(ClientInfo{Name: "stale"})

	fakeClock.Advance(30 * time.Minute)
	fresh := r.Create(ClientInfo{Name: "fresh"})

	fakeClock.Advance(45 * time.Minute)
	if removed := r.Sweep(); removed != 1 {
		t.Errorf("Sweep() = %d, want 1", removed)
	}
	if _, err := r.Get(stale.ID); !errors.Is(err, ErrSessionInvalid) {
		t.Error("stale session survived sweep")
	}
	if _, err := r.Get(fresh.ID); err != nil {
		t.Errorf("fresh session removed: %v", err)
	}

	stats := r.Stats()
	if stats.Active != 1 || stats.Created != 2 || stats.Expired != 1 {
		t.Errorf("Stats = %+v", stats)
	}
}

func TestRegistry_List(t *testing.T) {
	r, fakeClock := newTestRegistry(t)
	first := r.Create(ClientInfo{Name: "a"})
	fakeClock.Advance(time.Second)
	second := r.Create(ClientInfo{Name: "b"})

	infos := r.List()
	if len(infos) != 2 || infos[0].ID != first.ID || infos[1].ID != second.ID {
		t.Fatalf("List() = %+v", infos)
	}
	if !infos[0].ExpiresAt.Equal(first.CreatedAt.Add(testTimeout)) {
		t.Errorf("ExpiresAt = %v", infos[0].ExpiresAt)
	}
}

func TestRegistry_SweepLoop(t *testing.T) {
	defer goleak.VerifyNone(t)

	r, fakeClock := newTestRegistry(t)
	r.Create(ClientInfo{})

	r.Start(context.Background())
	fakeClock.BlockUntilWaiters(1)

	fakeClock.Advance(testTimeout + 5*time.Minute)

	deadline := time.Now().Add(2 * time.Second)
	for r.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("sweep loop did not remove the expired session")
		}
		time.Sleep(5 * time.Millisecond)
	}

	r.Stop()
	r.Stop()
}

func TestRegistry_Defaults(t *testing.T) {
	r := NewRegistry(Config{}, nil)
	if r.Timeout() != time.Hour {
		t.Errorf("Timeout = %v, want 1h", r.Timeout())
	}
	if r.config.SweepInterval != 5*time.Minute {
		t.Errorf("SweepInterval = %v, want 5m", r.config.SweepInterval)
	}
}
