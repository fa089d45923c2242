package model

// ReasonCode is a machine-readable rejection or failure reason.
type ReasonCode string

const (
	// Input-level: the whole job fails, no partial processing.
	ReasonUnknownFormat  ReasonCode = "unknown_format"
	ReasonEmptyFile      ReasonCode = "empty_file"
	ReasonUnreadableFile ReasonCode = "unreadable_file"
	ReasonSpecInvalid    ReasonCode = "spec_invalid"
	ReasonTimeout        ReasonCode = "timeout"

	// Record-level: the row is rejected, the job continues.
	ReasonExtractionError ReasonCode = "extraction_error"
	ReasonMissingRequired ReasonCode = "missing_required"
	ReasonBadEAN          ReasonCode = "bad_ean"
	ReasonBadNumber       ReasonCode = "bad_number"
	ReasonBadDate         ReasonCode = "bad_date"
	ReasonMissingDate     ReasonCode = "missing_date"
	ReasonDateOutOfRange  ReasonCode = "date_out_of_range"
	ReasonSignMismatch    ReasonCode = "sign_mismatch"
	ReasonMissingRate     ReasonCode = "missing_rate"

	// Storage-level, surfaced per row by the batch writer fallback.
	ReasonInsertFailed ReasonCode = "insert_failed"
)

// RowError addresses one rejected row: original row index plus reason, so the
// uploader can act on it without re-deriving anything.
type RowError struct {
	Row    int        `json:"row"`
	Store  string     `json:"store,omitempty"`
	Reason ReasonCode `json:"reason"`
	Detail string     `json:"detail,omitempty"`
}

// Outcome tags a normalized record as accepted or rejected. Record-level
// failures travel through the pipeline as these values, never as errors.
type Outcome struct {
	Record   NormalizedRecord
	Accepted bool
	Err      *RowError
}

// Accept wraps a record as accepted.
func Accept(rec NormalizedRecord) Outcome {
	return Outcome{Record: rec, Accepted: true}
}

// Reject wraps a row-level failure.
func Reject(row int, store string, reason ReasonCode, detail string) Outcome {
	return Outcome{Err: &RowError{Row: row, Store: store, Reason: reason, Detail: detail}}
}
