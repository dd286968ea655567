package util

import "testing"

func TestBoolEnv(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		fallback bool
		expected bool
	}{
		{"true literal", "true", false, true},
		{"numeric one", "1", false, true},
		{"yes", "yes", false, true},
		{"on", "on", false, true},
		{"mixed case", "TRUE", false, true},
		{"padded", "  on  ", false, true},
		{"false literal", "false", true, false},
		{"numeric zero", "0", true, false},
		{"no", "no", true, false},
		{"off", "off", true, false},
		{"blank keeps fallback true", "", true, true},
		{"blank keeps fallback false", "", false, false},
		{"garbage keeps fallback", "banana", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			const key = "FLOWKEEPER_TEST_BOOL"
			t.Setenv(key, tt.value)
			if got := BoolEnv(key, tt.fallback); got != tt.expected {
				t.Errorf("BoolEnv(%q, %v) = %v, want %v", tt.value, tt.fallback, got, tt.expected)
			}
		})
	}
}

func TestStringEnv(t *testing.T) {
	const key = "FLOWKEEPER_TEST_STRING"

	t.Setenv(key, "  /srv/flowkeeper  ")
	if got := StringEnv(key, "/var/lib/flowkeeper"); got != "/srv/flowkeeper" {
		t.Errorf("StringEnv trimmed = %q, want %q", got, "/srv/flowkeeper")
	}

	t.Setenv(key, "   ")
	if got := StringEnv(key, "/var/lib/flowkeeper"); got != "/var/lib/flowkeeper" {
		t.Errorf("StringEnv blank = %q, want fallback", got)
	}

	t.Setenv(key, "")
	if got := StringEnv(key, "fallback"); got != "fallback" {
		t.Errorf("StringEnv unset = %q, want fallback", got)
	}
}
