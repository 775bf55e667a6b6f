package job

// Status is the lifecycle status of a job run.
type Status string

const (
	StatusWaiting   Status = "WAITING"
	StatusRunning   Status = "RUNNING"
	StatusSuccess   Status = "SUCCESS"
	StatusFail      Status = "FAIL"
	StatusCancelled Status = "CANCELLED"
	StatusTimeout   Status = "TIMEOUT"
)

// Terminal reports whether the status ends a run attempt.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFail, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

// Failed reports whether the status is a failed outcome that blocks
// dependents.
func (s Status) Failed() bool {
	return s == StatusFail || s == StatusCancelled || s == StatusTimeout
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusRunning, StatusSuccess, StatusFail, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

var transitions = map[Status][]Status{
	StatusWaiting: {StatusRunning, StatusCancelled},
	StatusRunning: {StatusSuccess, StatusFail, StatusTimeout, StatusCancelled},
	StatusFail:    {StatusWaiting},
	// A timed out run without retries left ends as FAIL.
	StatusTimeout: {StatusWaiting, StatusFail},
}

// CanTransition reports whether a run may move from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
