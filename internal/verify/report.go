package verify

import (
	"time"

	"github.com/jmerrifield20/chainledger/internal/diverge"
)

// Outcome values of a Report.
const (
	OutcomeValid   = "valid"
	OutcomeInvalid = "invalid"
)

// Report is the document handed to external report generators.
type Report struct {
	RecordID              string               `json:"record_id"`
	VerifiedAt            time.Time            `json:"verified_at"`
	Outcome               string               `json:"outcome"`
	ElapsedMS             float64              `json:"elapsed_ms"`
	StoredFingerprint     string               `json:"stored_fingerprint"`
	RecomputedFingerprint string               `json:"recomputed_fingerprint"`
	Divergences           []diverge.Divergence `json:"divergences"`
	Metadata              Metadata             `json:"metadata"`
}

// NewReport summarises r as of at.
func NewReport(r *Result, at time.Time) *Report {
	outcome := OutcomeValid
	if !r.Valid {
		outcome = OutcomeInvalid
	}
	return &Report{
		RecordID:              r.RecordID,
		VerifiedAt:            at.UTC(),
		Outcome:               outcome,
		ElapsedMS:             r.ElapsedMS,
		StoredFingerprint:     r.StoredFingerprint,
		RecomputedFingerprint: r.RecomputedFingerprint,
		Divergences:           r.Divergences,
		Metadata:              r.Metadata,
	}
}
