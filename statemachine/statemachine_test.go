package statemachine

import "testing"

func TestNextHappyPath(t *testing.T) {
	cases := []struct {
		current State
		event   Event
		want    State
	}{
		{Populating, ScanDone, Populating},
		{Populating, FlipOK, Online},
		{Populating, FlipFail, Failed},
		{Failed, FlipFail, Failed},
		{AwaitingConstraintOwner, FlipOK, Online},
	}
	for _, c := range cases {
		got, err := Next(c.current, c.event)
		if err != nil {
			t.Fatalf("Next(%v, %v) unexpected error: %v", c.current, c.event, err)
		}
		if got != c.want {
			t.Errorf("Next(%v, %v) = %v, want %v", c.current, c.event, got, c.want)
		}
	}
}

func TestNextDropIsErrDropped(t *testing.T) {
	for _, s := range []State{Online, Failed} {
		_, err := Next(s, Drop)
		if err != ErrDropped {
			t.Errorf("Next(%v, Drop) error = %v, want ErrDropped", s, err)
		}
	}
}

func TestNextRecoverOrphanIsErrDropped(t *testing.T) {
	_, err := Next(AwaitingConstraintOwner, RecoverOrphan)
	if err != ErrDropped {
		t.Errorf("Next(AwaitingConstraintOwner, RecoverOrphan) error = %v, want ErrDropped", err)
	}
}

func TestNextForbiddenTransitions(t *testing.T) {
	forbidden := []struct {
		current State
		event   Event
	}{
		{Populating, Drop},
		{Online, FlipOK},
		{Online, FlipFail},
		{AwaitingConstraintOwner, Drop},
	}
	for _, c := range forbidden {
		if _, err := Next(c.current, c.event); err == nil || err == ErrDropped {
			t.Errorf("Next(%v, %v) = nil/ErrDropped, want a rejection error", c.current, c.event)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []State{Online, Failed} {
		if !IsTerminal(s) {
			t.Errorf("IsTerminal(%v) = false, want true", s)
		}
	}
	for _, s := range []State{Populating, AwaitingConstraintOwner} {
		if IsTerminal(s) {
			t.Errorf("IsTerminal(%v) = true, want false", s)
		}
	}
}
