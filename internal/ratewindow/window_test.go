package ratewindow

import (
	"sync"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	tests := []struct {
		spec    string
		want    Rate
		wantErr bool
	}{
		{"10/s", Rate{10, time.Second}, false},
		{"10/sec", Rate{10, time.Second}, false},
		{"10/second", Rate{10, time.Second}, false},
		{"60/m", Rate{60, time.Minute}, false},
		{"60/min", Rate{60, time.Minute}, false},
		{"100/h", Rate{100, time.Hour}, false},
		{"100/hr", Rate{100, time.Hour}, false},
		{"5 / s", Rate{5, time.Second}, false},
		{"10", Rate{}, true},
		{"0/s", Rate{}, true},
		{"-1/s", Rate{}, true},
		{"x/s", Rate{}, true},
		{"10/day", Rate{}, true},
	}
	for _, tt := range tests {
		got, err := Parse(tt.spec)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Parse(%q): expected error", tt.spec)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q): %v", tt.spec, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %+v, want %+v", tt.spec, got, tt.want)
		}
	}
}

func TestStore_FixedWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	s := NewStoreWithClock(func() time.Time { return now })
	r := Rate{Limit: 2, Window: time.Second}

	if d := s.Allow("user:alice", r); !d.Allowed || d.Remaining != 1 {
		t.Fatalf("first call: %+v", d)
	}
	if d := s.Allow("user:alice", r); !d.Allowed || d.Remaining != 0 {
		t.Fatalf("second call: %+v", d)
	}
	if d := s.Allow("user:alice", r); d.Allowed {
		t.Fatalf("third call should be denied: %+v", d)
	}

	// Another scope is unaffected.
	if d := s.Allow("user:bob", r); !d.Allowed {
		t.Fatalf("other scope denied: %+v", d)
	}

	// A new window resets the counter.
	now = now.Add(time.Second)
	if d := s.Allow("user:alice", r); !d.Allowed || d.Remaining != 1 {
		t.Fatalf("after window reset: %+v", d)
	}
}

func TestStore_IndependentWindowLengths(t *testing.T) {
	now := time.Unix(2000, 0)
	s := NewStoreWithClock(func() time.Time { return now })

	perSecond := Rate{Limit: 1, Window: time.Second}
	perMinute := Rate{Limit: 1, Window: time.Minute}

	if d := s.Allow("u", perSecond); !d.Allowed {
		t.Fatal("per-second denied")
	}
	// Same scope, different window length: its own counter.
	if d := s.Allow("u", perMinute); !d.Allowed {
		t.Fatal("per-minute denied")
	}
	if s.Len() != 2 {
		t.Errorf("got %d windows, want 2", s.Len())
	}
}

func TestStore_ConcurrentAdmitTotal(t *testing.T) {
	s := NewStore()
	r := Rate{Limit: 50, Window: time.Hour}

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Allow("shared", r).Allowed {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 50 {
		t.Errorf("admitted %d requests, want exactly %d", admitted, r.Limit)
	}
}

func TestStore_SweepsExpiredAtCapacity(t *testing.T) {
	now := time.Unix(3000, 0)
	s := NewStoreWithClock(func() time.Time { return now })
	s.maxEntries = 3
	r := Rate{Limit: 1, Window: time.Second}

	s.Allow("a", r)
	s.Allow("b", r)
	s.Allow("c", r)

	// All three windows are elapsed; a new scope triggers the sweep.
	now = now.Add(2 * time.Second)
	s.Allow("d", r)
	if s.Len() != 1 {
		t.Errorf("got %d windows after sweep, want 1", s.Len())
	}
}
