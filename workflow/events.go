package workflow

// Notification payload vocabulary.
const (
	// StatusTypeStateAction is the type of STATUS_UPDATE events reporting a
	// state plugin run.
	StatusTypeStateAction = "STATE_ACTION_STATUS"

	StatusPending = "PENDING"
	StatusSuccess = "SUCCESS"
	StatusError   = "ERROR"

	// ErrorTypeGeneric and ErrorTypeHTTP are the types of the follow-up
	// STATUS_UPDATE sent when a state plugin fails.
	ErrorTypeGeneric = "ERROR"
	ErrorTypeHTTP    = "HTTP_ERROR"

	// RuleEvaluationFailure is the type of EVALUATION_ERROR events.
	RuleEvaluationFailure = "RULE_EVALUATION_FAILURE"

	// TagFailure marks states that represent a failed process.
	TagFailure = "failure"
)
