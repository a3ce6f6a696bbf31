package inventory

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusShipped, false},
		{StatusPending, StatusDelivered, false},
		{StatusConfirmed, StatusProcessing, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusConfirmed, StatusDelivered, false},
		{StatusProcessing, StatusShipped, true},
		{StatusProcessing, StatusCancelled, false},
		{StatusShipped, StatusDelivered, true},
		{StatusShipped, StatusCancelled, false},
		{StatusDelivered, StatusPending, false},
		{StatusCancelled, StatusPending, false},
		{StatusCancelled, StatusConfirmed, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	for _, terminal := range []Status{StatusDelivered, StatusCancelled} {
		for to := range validNext {
			if CanTransition(terminal, to) {
				t.Errorf("terminal status %s allows transition to %s", terminal, to)
			}
		}
	}
}

func TestParseStatus(t *testing.T) {
	if s, ok := ParseStatus("confirmed"); !ok || s != StatusConfirmed {
		t.Errorf("ParseStatus(confirmed) = %q, %v", s, ok)
	}
	if _, ok := ParseStatus("CONFIRMED"); ok {
		t.Error("status parsing should be case-sensitive")
	}
	if _, ok := ParseStatus("refunded"); ok {
		t.Error("unknown status accepted")
	}
}

func TestInvalidTransitionErrorNamesBothStatuses(t *testing.T) {
	err := &InvalidTransitionError{From: StatusPending, To: StatusDelivered}
	want := "invalid transition from pending to delivered"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}
