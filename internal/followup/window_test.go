package followup

import (
	"math/rand"
	"testing"
	"time"
)

func testWindow(t *testing.T) Window {
	t.Helper()
	w, err := ParseWindow("08:00", "19:00", "UTC")
	if err != nil {
		t.Fatalf("ParseWindow: %v", err)
	}
	return w
}

func TestParseWindowRejectsBadInput(t *testing.T) {
	tests := []struct {
		name             string
		start, end, zone string
	}{
		{"garbage start", "eight", "19:00", "UTC"},
		{"hour out of range", "25:00", "19:00", "UTC"},
		{"end before start", "19:00", "08:00", "UTC"},
		{"end equals start", "08:00", "08:00", "UTC"},
		{"bad timezone", "08:00", "19:00", "Mars/Olympus"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseWindow(tc.start, tc.end, tc.zone); err == nil {
				t.Fatalf("ParseWindow(%q, %q, %q) expected error", tc.start, tc.end, tc.zone)
			}
		})
	}
}

func TestWindowContains(t *testing.T) {
	w := testWindow(t)

	tests := []struct {
		at   string
		want bool
	}{
		{"2026-01-05T08:00:00Z", true},
		{"2026-01-05T12:30:00Z", true},
		{"2026-01-05T19:00:00Z", true},
		{"2026-01-05T07:59:59Z", false},
		{"2026-01-05T19:00:01Z", false},
		{"2026-01-05T02:00:00Z", false},
	}
	for _, tc := range tests {
		at, _ := time.Parse(time.RFC3339, tc.at)
		if got := w.Contains(at); got != tc.want {
			t.Errorf("Contains(%s) = %v, want %v", tc.at, got, tc.want)
		}
	}
}

func TestWindowClamp(t *testing.T) {
	w := testWindow(t)

	tests := []struct {
		name, at, want string
	}{
		{"inside stays put", "2026-01-05T14:00:00Z", "2026-01-05T14:00:00Z"},
		{"before start snaps to start", "2026-01-05T06:15:00Z", "2026-01-05T08:00:00Z"},
		{"after end snaps to next day start", "2026-01-05T21:00:00Z", "2026-01-06T08:00:00Z"},
		{"at exact end stays", "2026-01-05T19:00:00Z", "2026-01-05T19:00:00Z"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			at, _ := time.Parse(time.RFC3339, tc.at)
			want, _ := time.Parse(time.RFC3339, tc.want)
			if got := w.Clamp(at); !got.Equal(want) {
				t.Fatalf("Clamp(%s) = %s, want %s", tc.at, got, tc.want)
			}
		})
	}
}

func TestWindowClampNeverMovesBackward(t *testing.T) {
	w := testWindow(t)
	at, _ := time.Parse(time.RFC3339, "2026-01-05T00:00:00Z")
	for i := 0; i < 48; i++ {
		got := w.Clamp(at)
		if got.Before(at) {
			t.Fatalf("Clamp(%s) = %s moved backward", at, got)
		}
		if !w.Contains(got) {
			t.Fatalf("Clamp(%s) = %s is outside the window", at, got)
		}
		at = at.Add(30 * time.Minute)
	}
}

func TestJitterAfterStaysInWindowAndNeverBeforeInput(t *testing.T) {
	w := testWindow(t)
	rnd := rand.New(rand.NewSource(7))

	cases := []string{
		"2026-01-05T14:00:00Z", // mid-window
		"2026-01-05T05:00:00Z", // before window opens
		"2026-01-05T22:00:00Z", // past window, must land next day
	}
	for _, c := range cases {
		at, _ := time.Parse(time.RFC3339, c)
		for i := 0; i < 200; i++ {
			got := w.JitterAfter(at, rnd)
			if got.Before(at) {
				t.Fatalf("JitterAfter(%s) = %s moved backward", c, got)
			}
			if !w.Contains(got) {
				t.Fatalf("JitterAfter(%s) = %s outside window", c, got)
			}
		}
	}
}

func TestJitterAfterMidWindowLowerBound(t *testing.T) {
	w := testWindow(t)
	rnd := rand.New(rand.NewSource(42))

	at, _ := time.Parse(time.RFC3339, "2026-01-05T14:00:00Z")
	end, _ := time.Parse(time.RFC3339, "2026-01-05T19:00:00Z")
	for i := 0; i < 500; i++ {
		got := w.JitterAfter(at, rnd)
		if got.Before(at) || got.After(end) {
			t.Fatalf("JitterAfter must stay in [14:00, 19:00], got %s", got)
		}
	}
}
