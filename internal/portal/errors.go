package portal

import "errors"

var (
	// ErrProtocolAssumption means a response lacked a marker the protocol
	// depends on: the portal's markup no longer matches what the client expects.
	ErrProtocolAssumption = errors.New("protocol assumption violated")

	// ErrSequence means a selection step was attempted before its prerequisite.
	ErrSequence = errors.New("operation out of sequence")

	// ErrPeriodNotFound means the requested period is not in the period list
	// returned for the currently selected product.
	ErrPeriodNotFound = errors.New("period not found")

	// ErrNoPeriods means the period selector was missing or empty.
	ErrNoPeriods = errors.New("no periods available")
)
