package pagefaultmon

import (
	"reflect"
	"testing"
)

func TestParseCPUList(t *testing.T) {
	cases := []struct {
		in   string
		want []uint32
	}{
		{"0-3", []uint32{0, 1, 2, 3}},
		{"0,2,4", []uint32{0, 2, 4}},
		{"0-1,4-5", []uint32{0, 1, 4, 5}},
		{"", nil},
	}
	for _, c := range cases {
		got := parseCPUList(c.in)
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("parseCPUList(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestFaultTypeString(t *testing.T) {
	if got := faultTypeString(faultMinor | faultWrite | faultUser); got != "minor|write|user" {
		t.Errorf("got %q", got)
	}
	if got := faultTypeString(0); got != "major|read|kernel" {
		t.Errorf("got %q", got)
	}
}
