package util

import "testing"

func TestParseBool(t *testing.T) {
	tests := []struct {
		in     string
		want   bool
		wantOK bool
	}{
		{"true", true, true},
		{" YES ", true, true},
		{"1", true, true},
		{"On", true, true},
		{"false", false, true},
		{"0", false, true},
		{"no", false, true},
		{"OFF", false, true},
		{"maybe", false, false},
		{"", false, false},
	}
	for _, tt := range tests {
		got, ok := ParseBool(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseBool(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestParseBoolEnv(t *testing.T) {
	const key = "DENGUECAST_TEST_BOOL"

	t.Setenv(key, "")
	if !ParseBoolEnv(key, true) {
		t.Error("empty value should return the default")
	}

	t.Setenv(key, "yes")
	if !ParseBoolEnv(key, false) {
		t.Error("expected yes to parse as true")
	}

	t.Setenv(key, "nope")
	if ParseBoolEnv(key, false) {
		t.Error("invalid value should return the default")
	}
}
