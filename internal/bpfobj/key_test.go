package bpfobj

import "testing"

func TestNewComm16RoundTrip(t *testing.T) {
	c := NewComm16("bash")
	if c.String() != "bash" {
		t.Errorf("got %q, want %q", c.String(), "bash")
	}
	for i := 4; i < 16; i++ {
		if c[i] != 0 {
			t.Errorf("expected zero padding at byte %d, got %d", i, c[i])
		}
	}
}

func TestNewComm16Truncates(t *testing.T) {
	c := NewComm16("a-very-long-process-name-that-overflows")
	if len(c.String()) != 16 {
		t.Errorf("expected truncation to 16 bytes, got %q (%d)", c.String(), len(c.String()))
	}
}
