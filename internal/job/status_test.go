package job

import "testing"

func TestTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusCancelled, StatusFailed} {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusExtracting, StatusSegmenting, StatusSynthesizing, StatusAssembling} {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true, want false", s)
		}
	}
}

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusExtracting, true},
		{StatusExtracting, StatusSegmenting, true},
		{StatusSegmenting, StatusSynthesizing, true},
		{StatusSynthesizing, StatusAssembling, true},
		{StatusAssembling, StatusCompleted, true},

		// Cancel and fail are reachable from anywhere live.
		{StatusPending, StatusCancelled, true},
		{StatusSynthesizing, StatusCancelled, true},
		{StatusAssembling, StatusFailed, true},

		// No skipping stages, no going back, no leaving a terminal status.
		{StatusPending, StatusSynthesizing, false},
		{StatusSegmenting, StatusExtracting, false},
		{StatusSynthesizing, StatusCompleted, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusExtracting, false},
		{StatusFailed, StatusFailed, false},
	}
	for _, tt := range tests {
		if got := isValidTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("isValidTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
