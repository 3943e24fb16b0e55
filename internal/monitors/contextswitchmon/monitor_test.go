package contextswitchmon

import "testing"

func TestPassesMinSwitches(t *testing.T) {
	m := &Monitor{MinSwitches: 10}
	if m.passesMinSwitches(statsValue{SwitchIn: 3, SwitchOut: 4}) {
		t.Error("expected row below threshold to be filtered")
	}
	if !m.passesMinSwitches(statsValue{SwitchIn: 6, SwitchOut: 5}) {
		t.Error("expected row above threshold to pass")
	}

	zero := &Monitor{}
	if !zero.passesMinSwitches(statsValue{}) {
		t.Error("zero threshold must disable filtering")
	}
}
