package model

import "time"

// SubmissionStatus is the lifecycle state of a regulator filing.
type SubmissionStatus string

// Submission status constants. Acknowledged and failed are terminal.
const (
	SubmissionPending      SubmissionStatus = "pending"
	SubmissionSubmitted    SubmissionStatus = "submitted"
	SubmissionAcknowledged SubmissionStatus = "acknowledged"
	SubmissionFailed       SubmissionStatus = "failed"
)

// IsTerminal reports whether no further attempts will be made.
func (s SubmissionStatus) IsTerminal() bool {
	return s == SubmissionAcknowledged || s == SubmissionFailed
}

// ReportType identifies the kind of regulator filing.
type ReportType string

// Report types.
const (
	ReportSuspiciousActivity ReportType = "suspicious_activity"
	ReportMonthlyAggregate   ReportType = "monthly_aggregate"
)

// ComplianceSubmission records an attempt to report to a regulator.
type ComplianceSubmission struct {
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ID                string
	IdempotencyKey    string
	ReportType        ReportType
	Status            SubmissionStatus
	TransactionID     string
	Period            string
	ExternalReference string
	LastError         string
	Payload           []byte
	RetryCount        int
}
