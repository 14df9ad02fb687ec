package models

type JobStatus string

const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
)

var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusQueued:  {JobStatusRunning, JobStatusFailed},
	JobStatusRunning: {JobStatusDone, JobStatusFailed},
}

func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusDone, JobStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed out of s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusDone || s == JobStatusFailed
}

// IsActive reports whether the job still occupies a runner slot.
func (s JobStatus) IsActive() bool {
	return s == JobStatusQueued || s == JobStatusRunning
}

func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusCompleted, PaymentStatusFailed:
		return true
	}
	return false
}

// CanTransitionTo allows exactly one move, out of pending.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	return s == PaymentStatusPending && (next == PaymentStatusCompleted || next == PaymentStatusFailed)
}

type EntryType string

const (
	EntryTypeSubscription EntryType = "subscription"
	EntryTypePurchase     EntryType = "purchase"
	EntryTypeGeneration   EntryType = "generation"
	EntryTypeRefund       EntryType = "refund"
)

func (t EntryType) IsValid() bool {
	switch t {
	case EntryTypeSubscription, EntryTypePurchase, EntryTypeGeneration, EntryTypeRefund:
		return true
	}
	return false
}

// Durations a job may request, in seconds. One credit buys five seconds.
var AllowedDurations = []int{5, 10, 15}

const SecondsPerCredit = 5

func ValidDuration(sec int) bool {
	for _, d := range AllowedDurations {
		if d == sec {
			return true
		}
	}
	return false
}

// CreditsForDuration returns the charge for a valid duration.
func CreditsForDuration(sec int) int {
	return sec / SecondsPerCredit
}
