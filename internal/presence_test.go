package internal

import "testing"

func TestPresenceTracking(t *testing.T) {
	presence := NewPresenceTracker()

	if got := presence.Increment("K3X9QAB"); got != 1 {
		t.Fatalf("first connection: occupancy %d", got)
	}
	if got := presence.Increment("K3X9QAB"); got != 2 {
		t.Fatalf("second connection: occupancy %d", got)
	}
	presence.Increment("ZZ99ZZ9")

	if got := presence.Occupancy("K3X9QAB"); got != 2 {
		t.Fatalf("Occupancy = %d, want 2", got)
	}
	if got := presence.ActiveRooms(); got != 2 {
		t.Fatalf("ActiveRooms = %d, want 2", got)
	}

	if got := presence.Decrement("K3X9QAB"); got != 1 {
		t.Fatalf("after one disconnect: occupancy %d", got)
	}
	if got := presence.Decrement("K3X9QAB"); got != 0 {
		t.Fatalf("after last disconnect: occupancy %d", got)
	}
	if got := presence.ActiveRooms(); got != 1 {
		t.Fatalf("drained room still counted: ActiveRooms = %d", got)
	}

	// decrementing an unknown room is a no-op
	if got := presence.Decrement("K3X9QAB"); got != 0 {
		t.Fatalf("decrement past zero: %d", got)
	}
	if got := presence.Occupancy("K3X9QAB"); got != 0 {
		t.Fatalf("occupancy of drained room: %d", got)
	}
}
