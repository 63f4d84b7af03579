package vault

import (
	"errors"
	"math"
	"testing"
)

func TestCheckCapacity(t *testing.T) {
	if err := checkCapacity(500, 500, 1000); err != nil {
		t.Errorf("exact fill should pass: %v", err)
	}
	if err := checkCapacity(500, 501, 1000); err == nil {
		t.Error("overfill should fail")
	}
}

func TestCheckCapacity_ReportsAvailable(t *testing.T) {
	err := checkCapacity(900, 200, 1000)
	var capErr *CapacityExceededError
	if !errors.As(err, &capErr) {
		t.Fatalf("got %v, want CapacityExceededError", err)
	}
	if capErr.Available != 100 {
		t.Errorf("available: got %d, want 100", capErr.Available)
	}
	if capErr.Requested != 200 {
		t.Errorf("requested: got %d, want 200", capErr.Requested)
	}
}

func TestCheckCapacity_NoOverflowNearCeiling(t *testing.T) {
	// current + incoming would overflow int64; the subtraction form must
	// still reject cleanly.
	if err := checkCapacity(math.MaxInt64-10, math.MaxInt64, math.MaxInt64); err == nil {
		t.Error("expected rejection near int64 ceiling")
	}
	if err := checkCapacity(math.MaxInt64-10, 10, math.MaxInt64); err != nil {
		t.Errorf("exact fill at int64 ceiling should pass: %v", err)
	}
}

func TestCheckCapacity_TotalAboveLoweredCeiling(t *testing.T) {
	err := checkCapacity(1500, 1, 1000)
	var capErr *CapacityExceededError
	if !errors.As(err, &capErr) {
		t.Fatalf("got %v, want CapacityExceededError", err)
	}
	if capErr.Available != 0 {
		t.Errorf("available: got %d, want 0", capErr.Available)
	}
}
