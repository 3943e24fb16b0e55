package openmon

import "testing"

func TestOperationString(t *testing.T) {
	cases := []struct {
		op   operation
		want string
	}{
		{opOpen, "OPEN"},
		{opOpenat, "OPENAT"},
		{operation(99), "UNKNOWN"},
	}
	for _, c := range cases {
		if got := c.op.String(); got != c.want {
			t.Errorf("operation(%d).String() = %q, want %q", c.op, got, c.want)
		}
	}
}

func TestPathString(t *testing.T) {
	var k statsKey
	copy(k.Path[:], "/etc/passwd")
	if got := k.pathString(); got != "/etc/passwd" {
		t.Errorf("pathString() = %q, want /etc/passwd", got)
	}

	var full statsKey
	for i := range full.Path {
		full.Path[i] = 'a'
	}
	if got := full.pathString(); len(got) != pathMax {
		t.Errorf("pathString() with no NUL terminator: len = %d, want %d", len(got), pathMax)
	}
}
