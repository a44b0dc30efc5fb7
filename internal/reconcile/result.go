package reconcile

import "fmt"

// Outcome classifies what one reconciliation pass did to the ledger.
type Outcome string

const (
	// OutcomeCreated means a new ledger row was written.
	OutcomeCreated Outcome = "created"
	// OutcomeUpdated means an existing row drifted and was corrected.
	OutcomeUpdated Outcome = "updated"
	// OutcomeUnchanged means the stored row already agreed with the provider.
	OutcomeUnchanged Outcome = "unchanged"
	// OutcomeSkipped means the provider object does not belong in the ledger.
	OutcomeSkipped Outcome = "skipped"
)

// ConflictError reports an immutable field disagreeing between the stored
// payment and the provider. The row is left untouched; a human has to look.
type ConflictError struct {
	Field    string
	Stored   string
	Observed string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("reconcile: %s conflict: stored %q, provider reports %q", e.Field, e.Stored, e.Observed)
}

// TooManyPaymentsError reports multiple ledger rows matching one provider
// correlation key. The ledger invariant is one row per provider object, so
// this is unrecoverable without manual cleanup.
type TooManyPaymentsError struct {
	Key   string
	Value string
	Count int
}

func (e *TooManyPaymentsError) Error() string {
	return fmt.Sprintf("reconcile: %d payments match %s %q, expected at most one", e.Count, e.Key, e.Value)
}

// DuplicateCorrelationError reports that a correlation id landed on a row
// that already exists, typically a webhook and a batch sync racing.
type DuplicateCorrelationError struct {
	Key   string
	Value string
}

func (e *DuplicateCorrelationError) Error() string {
	return fmt.Sprintf("reconcile: payment with %s %q already exists", e.Key, e.Value)
}
