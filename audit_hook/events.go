package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionLetterParked      = "letter.parked"
	ActionLetterDiverted    = "letter.diverted"
	ActionLetterRedelivered = "letter.redelivered"
	ActionRetryFailed       = "letter.retry_failed"
	ActionLetterCleared     = "letter.cleared"
	ActionSequenceCleared   = "sequence.cleared"
	ActionCapacityRejected  = "queue.capacity_rejected"
)

// Audit event categories group related actions.
const (
	CategoryLetter = "sdlq.letter"
	CategoryAdmin  = "sdlq.admin"
	CategoryQueue  = "sdlq.queue"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceLetter   = "letter"
	ResourceSequence = "sequence"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionLetterParked,
		ActionLetterDiverted,
		ActionLetterRedelivered,
		ActionRetryFailed,
		ActionLetterCleared,
		ActionSequenceCleared,
		ActionCapacityRejected,
	}
}
