package models

import "time"

type User struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"externalId"`
	Email      string    `json:"email"`
	Plan       string    `json:"plan"`
	Credits    int       `json:"credits"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Job struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId"`
	Prompt       string     `json:"prompt"`
	ImageURL     *string    `json:"imageUrl,omitempty"`
	DurationSec  int        `json:"durationSec"`
	CreditsUsed  int        `json:"creditsUsed"`
	Status       JobStatus  `json:"status"`
	RunnerRef    *string    `json:"runnerRef,omitempty"`
	ArtifactRef  *string    `json:"artifactRef,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	ErrorMessage *string    `json:"errorMessage,omitempty"`
	Seed         *int64     `json:"seed,omitempty"`
	Cfg          *float64   `json:"cfg,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Expired reports whether the job's artifact is past its access window.
func (j *Job) Expired(now time.Time) bool {
	return j.ExpiresAt != nil && !now.Before(*j.ExpiresAt)
}

type Plan struct {
	Name           string   `json:"name"`
	MonthlyCredits int      `json:"monthlyCredits"`
	Price          int      `json:"price"`
	Markup         int      `json:"markup"`
	Features       []string `json:"features"`
	IsActive       bool     `json:"isActive"`
}

type Payment struct {
	ID            string        `json:"id"`
	UserID        string        `json:"userId"`
	ExternalTxnID string        `json:"externalTxnId"`
	Amount        int           `json:"amount"`
	CreditsAdded  int           `json:"creditsAdded"`
	Status        PaymentStatus `json:"status"`
	Timestamp     time.Time     `json:"timestamp"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// LedgerEntry is immutable once written.
type LedgerEntry struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	JobID        *string   `json:"jobId,omitempty"`
	PaymentID    *string   `json:"paymentId,omitempty"`
	Amount       int       `json:"amount"`
	BalanceAfter int       `json:"balanceAfter"`
	Type         EntryType `json:"type"`
	Description  string    `json:"description"`
	Timestamp    time.Time `json:"timestamp"`
}
