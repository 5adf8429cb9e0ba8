package bus

import (
	"strings"
	"testing"
)

// TestSessionKeys tests session-scoped key generation
func TestSessionKeys(t *testing.T) {
	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"session log", SessionLogKey("lab", 3), "redwood:lab:3:log"},
		{"period log", PeriodLogKey("lab", 3, 2), "redwood:lab:3:period:2"},
		{"period pattern", PeriodLogPattern("lab", 3), "redwood:lab:3:period:*"},
		{"seq", SeqKey("lab", 3), "redwood:lab:3:seq"},
		{"periods", PeriodsKey("lab", 3), "redwood:lab:3:periods"},
		{"groups", GroupsKey("lab", 3), "redwood:lab:3:groups"},
		{"pages", PagesKey("lab", 3), "redwood:lab:3:pages"},
		{"config", ConfigKey("lab", 3), "redwood:lab:3:config"},
		{"events", EventsChannel("lab", 3), "redwood:lab:3:events"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %q, expected %q", tt.got, tt.expected)
			}
			if !strings.HasPrefix(tt.got, "redwood:") {
				t.Error("key should start with 'redwood:'")
			}
		})
	}
}

// TestSessionIsolation verifies that keys of different sessions never collide
func TestSessionIsolation(t *testing.T) {
	if SessionLogKey("lab", 1) == SessionLogKey("lab", 11) {
		t.Error("sessions 1 and 11 share a log key")
	}
	if EventsChannel("lab", 1) == EventsChannel("lab2", 1) {
		t.Error("instances share an events channel")
	}
	if SessionMember("lab", 1) != "lab:1" {
		t.Errorf("SessionMember() = %q", SessionMember("lab", 1))
	}
}
