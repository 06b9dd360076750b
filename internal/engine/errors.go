package engine

// Error codes carried in the "code" field of error responses.
const (
	CodeBadPayload     = 1 // request payload failed to decode
	CodeStateViolation = 2 // operation illegal in the current lifecycle state
	CodeNotFound       = 3 // referenced user, room or game does not exist
	CodeConflict       = 4 // operation collides with existing state
	CodeDenied         = 5 // blocked by blacklist or ownership rules
)
