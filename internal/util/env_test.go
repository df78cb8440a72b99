package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected bool
	}{
		{"true word", "true", true},
		{"one", "1", true},
		{"yes uppercase", "YES", true},
		{"on with spaces", " on ", true},
		{"false word", "false", false},
		{"zero", "0", false},
		{"off", "off", false},
		{"invalid falls back", "maybe", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GIFTFLOW_TEST_BOOL", tt.value)
			if got := ParseBoolEnv("GIFTFLOW_TEST_BOOL", false); got != tt.expected {
				t.Errorf("ParseBoolEnv(%q) = %v, want %v", tt.value, got, tt.expected)
			}
		})
	}
}

func TestParseBoolEnvUnset(t *testing.T) {
	if got := ParseBoolEnv("GIFTFLOW_TEST_BOOL_UNSET", true); !got {
		t.Error("Unset variable should return the default")
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("GIFTFLOW_TEST_DURATION", "45m")
	if got := ParseDurationEnv("GIFTFLOW_TEST_DURATION", time.Hour); got != 45*time.Minute {
		t.Errorf("ParseDurationEnv = %v, want 45m", got)
	}

	t.Setenv("GIFTFLOW_TEST_DURATION", "soonish")
	if got := ParseDurationEnv("GIFTFLOW_TEST_DURATION", time.Hour); got != time.Hour {
		t.Errorf("Invalid duration should return the default, got %v", got)
	}
}

func TestParseDurationEnvUnset(t *testing.T) {
	if got := ParseDurationEnv("GIFTFLOW_TEST_DURATION_UNSET", 24*time.Hour); got != 24*time.Hour {
		t.Errorf("Unset variable should return the default, got %v", got)
	}
}
