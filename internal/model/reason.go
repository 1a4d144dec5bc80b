package model

import "fmt"

// Reason classifies why an input row did not become a fact.
type Reason string

const (
	ReasonMalformedRow  Reason = "malformed_row"
	ReasonMissingAmount Reason = "missing_amount"
	ReasonInvalidAge    Reason = "invalid_age"
	ReasonInvalidDate   Reason = "invalid_date"
	ReasonInvalidField  Reason = "invalid_field"
	ReasonDuplicateID   Reason = "duplicate_id"
	ReasonBatchFailed   Reason = "batch_failed"
)

// Reasons lists every rejection reason in report order.
var Reasons = []Reason{
	ReasonMalformedRow,
	ReasonMissingAmount,
	ReasonInvalidAge,
	ReasonInvalidDate,
	ReasonInvalidField,
	ReasonDuplicateID,
	ReasonBatchFailed,
}

// Rejection records a single rejected row. Every rejected row carries
// exactly one reason.
type Rejection struct {
	Line   int
	Reason Reason
	Detail string
}

func (r Rejection) String() string {
	if r.Detail == "" {
		return fmt.Sprintf("line=%d reason=%s", r.Line, r.Reason)
	}
	return fmt.Sprintf("line=%d reason=%s: %s", r.Line, r.Reason, r.Detail)
}
