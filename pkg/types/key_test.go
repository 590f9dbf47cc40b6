package types

import (
	"testing"
	"time"
)

func TestFormatKey(t *testing.T) {
	if got := FormatKey("abc", "123456789"); got != "abc:::123456789" {
		t.Errorf("FormatKey: got %q, want abc:::123456789", got)
	}
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		in      string
		want    Key
		wantErr bool
	}{
		{in: "abc:::123456789", want: Key{Namespace: "abc", SlotID: "123456789"}},
		{in: ":::123456789", want: Key{Namespace: "", SlotID: "123456789"}},
		{in: "a:::b:::123456789", want: Key{Namespace: "a:::b", SlotID: "123456789"}},
		{in: "abc", wantErr: true},
		{in: "abc:::", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseKey(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseKey(%q): expected error, got %+v", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseKey(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseKey(%q): got %+v, want %+v", tt.in, got, tt.want)
		}
		if got.String() != tt.in {
			t.Errorf("round trip: got %q, want %q", got.String(), tt.in)
		}
	}
}

func TestLiveness_Remaining(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if r := Inactive.Remaining(now); r != -1 {
		t.Errorf("inactive: got %d, want -1", r)
	}
	l := Liveness{Active: true, ExpireAt: now.Add(299500 * time.Millisecond)}
	if r := l.Remaining(now); r != 300 {
		t.Errorf("rounded up: got %d, want 300", r)
	}
	l = Liveness{Active: true, ExpireAt: now.Add(-time.Second)}
	if r := l.Remaining(now); r != 0 {
		t.Errorf("past expiry: got %d, want 0", r)
	}
	if l.Claimable() {
		t.Error("active liveness must not be claimable")
	}
	if !Inactive.Claimable() {
		t.Error("inactive liveness must be claimable")
	}
}

func TestNewExpiryMessage(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewExpiryMessage("abc:::1", now.Add(300*time.Second), now)
	if m.Event != EventExpiry {
		t.Errorf("event: got %q, want %q", m.Event, EventExpiry)
	}
	if m.Data.RemainingSeconds != 300 {
		t.Errorf("remaining: got %d, want 300", m.Data.RemainingSeconds)
	}
	if want := float64(now.Unix() + 300); m.Data.ExpireAtUnix != want {
		t.Errorf("expire_at_unix: got %v, want %v", m.Data.ExpireAtUnix, want)
	}
}
