package logging

import "testing"

func TestNew(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		l, err := New("debug", format)
		if err != nil {
			t.Fatalf("New(debug, %s) error: %v", format, err)
		}
		l.Debug("ok")
	}

	if _, err := New("loud", "json"); err == nil {
		t.Error("expected error for unknown level")
	}
	if OrNop(nil) == nil {
		t.Error("OrNop(nil) returned nil")
	}
}
