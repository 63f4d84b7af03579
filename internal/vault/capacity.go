package vault

// checkCapacity verifies that adding incoming USD-6 units keeps the global
// total at or below the ceiling. Written as a subtraction so the comparison
// cannot overflow int64 even near the ceiling.
func checkCapacity(current, incoming, ceiling int64) error {
	if current > ceiling {
		// Valuation drift can leave the total above a lowered ceiling;
		// any further deposit is rejected until withdrawals bring it back.
		return &CapacityExceededError{Requested: incoming, Available: 0}
	}
	if incoming > ceiling-current {
		return &CapacityExceededError{Requested: incoming, Available: ceiling - current}
	}
	return nil
}
