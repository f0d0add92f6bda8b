package ledger

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/jmerrifield20/chainledger/internal/digest"
)

// ExportHeader is the column order of WriteCSV.
var ExportHeader = []string{
	"index", "record_id", "entity_kind", "fingerprint",
	"parent_fingerprint", "actor", "created_at",
}

// ExportRow is the tabular projection of a Block.
type ExportRow struct {
	Index             int       `json:"index"`
	RecordID          string    `json:"record_id"`
	EntityKind        string    `json:"entity_kind"`
	Fingerprint       string    `json:"fingerprint"`
	ParentFingerprint *string   `json:"parent_fingerprint"`
	Actor             string    `json:"actor"`
	CreatedAt         time.Time `json:"created_at"`
}

// Export is a full ordered dump of the chain for reporting.
type Export struct {
	GeneratedAt       time.Time   `json:"generated_at"`
	Blocks            []ExportRow `json:"blocks"`
	GlobalFingerprint string      `json:"global_fingerprint"`
}

// Export dumps every block in order together with the global fingerprint.
func (l *Ledger) Export(ctx context.Context) (*Export, error) {
	out := &Export{GeneratedAt: l.now().UTC(), Blocks: []ExportRow{}}
	var fps []string
	for b, err := range l.All(ctx) {
		if err != nil {
			return nil, err
		}
		out.Blocks = append(out.Blocks, ExportRow{
			Index:             b.Index,
			RecordID:          b.RecordID,
			EntityKind:        b.EntityKind,
			Fingerprint:       b.Fingerprint,
			ParentFingerprint: b.ParentFingerprint,
			Actor:             b.Actor,
			CreatedAt:         b.CreatedAt,
		})
		fps = append(fps, b.Fingerprint)
	}
	out.GlobalFingerprint = digest.Global(fps)
	return out, nil
}

// WriteCSV renders the export as CSV with ExportHeader as the first row.
// The genesis parent is written as an empty cell.
func (e *Export) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ExportHeader); err != nil {
		return err
	}
	for _, r := range e.Blocks {
		parent := ""
		if r.ParentFingerprint != nil {
			parent = *r.ParentFingerprint
		}
		if err := cw.Write([]string{
			strconv.Itoa(r.Index),
			r.RecordID,
			r.EntityKind,
			r.Fingerprint,
			parent,
			r.Actor,
			r.CreatedAt.Format(time.RFC3339Nano),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ProofDescription heads every Proof document.
const ProofDescription = "Simulated signature proof for the demonstration record chain"

// Proof is a one-value summary attestation of the whole chain. It is a
// digest, not a signature.
type Proof struct {
	Description       string    `json:"description"`
	GeneratedAt       time.Time `json:"generated_at"`
	TotalBlocks       int       `json:"total_blocks"`
	GlobalFingerprint string    `json:"global_fingerprint"`
	Watermark         string    `json:"watermark"`
}

// Proof builds the summary attestation of the chain's current state.
func (l *Ledger) Proof(ctx context.Context) (*Proof, error) {
	global, n, err := l.GlobalFingerprint(ctx)
	if err != nil {
		return nil, err
	}
	return &Proof{
		Description:       ProofDescription,
		GeneratedAt:       l.now().UTC(),
		TotalBlocks:       n,
		GlobalFingerprint: global,
		Watermark:         l.watermark,
	}, nil
}
