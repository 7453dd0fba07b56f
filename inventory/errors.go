package inventory

import "errors"

// Operation-level failures. All of them abort the surrounding storage
// transaction and leave prior state untouched; the HTTP layer maps them
// to 409/404 responses.
var (
	// ErrCycleActive rejects openCycle while any cycle, at any site, is
	// still active.
	ErrCycleActive = errors.New("an inventory cycle is already active")

	// ErrNoActiveCycle rejects scans and closes without an open cycle.
	ErrNoActiveCycle = errors.New("no active inventory cycle")

	// ErrCardNotFound means the scanned number does not resolve to a
	// card at the operator's site.
	ErrCardNotFound = errors.New("card not found")
)
