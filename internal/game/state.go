package game

// Session status values. A session only ever moves forward through them.
const (
	StatusOpen      = "OPEN"      // zero or one seat taken
	StatusFull      = "FULL"      // both seats taken, scores pending
	StatusCompleted = "COMPLETED" // both scores in, winner decided
)

// Realtime event names emitted by the core
const (
	EventMatchFound = "match_found"
)
