package domain

import (
	"context"
	"errors"
	"time"
)

var ErrInvalidFormEvent = errors.New("pledge: invalid form event")

// FormEvent is the inbound pledge-form webhook payload as the service
// sees it. The HTTP handler binds the JSON body into its own request
// type and copies the fields here.
type FormEvent struct {
	DonorName   string
	DonorEmail  string
	Country     string
	Chapter     string
	Affiliation string
	ZakatFlag   bool

	// Duration selects the committed amount via a lookup table ("Month",
	// "Semester", "Year", "Four Years") or, failing that, is parsed
	// directly as a k/m-suffixed amount.
	Duration string

	// PledgeType == "Monthly Recurring" routes to subscription creation
	// instead of a one-time committed amount.
	PledgeType      string
	MonthlyAmount   int64
	MonthlyDuration int
	LinkedStudentIDs []string

	SubmittedAt time.Time
}

// IngestResult is what IngestForm returns. SubscriptionRef
// is set only when the form routed to the recurring branch.
type IngestResult struct {
	PledgeRef       string
	SubscriptionRef string
}

// Service handles the inbound pledge-form webhook.
type Service interface {
	IngestForm(ctx context.Context, event FormEvent) (*IngestResult, error)
}
