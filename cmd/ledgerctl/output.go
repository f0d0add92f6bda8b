package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/jmerrifield20/chainledger/pkg/client"
)

var (
	okText   = color.New(color.FgGreen, color.Bold).SprintFunc()
	failText = color.New(color.FgRed, color.Bold).SprintFunc()
	dimText  = color.New(color.FgHiBlack).SprintFunc()
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func verdict(valid bool) string {
	if valid {
		return okText("VALID")
	}
	return failText("INVALID")
}

func printBlock(w io.Writer, b *client.Block) {
	parent := dimText("(genesis)")
	if b.ParentFingerprint != nil {
		parent = *b.ParentFingerprint
	}
	fmt.Fprintf(w, "Reference:   %s\n", b.Reference)
	fmt.Fprintf(w, "Index:       %d\n", b.Index)
	fmt.Fprintf(w, "Record:      %s (%s)\n", b.RecordID, b.EntityKind)
	fmt.Fprintf(w, "Actor:       %s\n", b.Actor)
	fmt.Fprintf(w, "Created:     %s\n", b.CreatedAt.Format(time.RFC3339))
	if b.Reason != "" {
		fmt.Fprintf(w, "Reason:      %s\n", b.Reason)
	}
	fmt.Fprintf(w, "Fingerprint: %s\n", b.Fingerprint)
	fmt.Fprintf(w, "Parent:      %s\n", parent)
	fmt.Fprintf(w, "Watermark:   %s\n", b.Watermark)
}

func printBlockTable(w io.Writer, blocks []client.Block) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tRECORD\tKIND\tACTOR\tCREATED\tFINGERPRINT")
	for _, b := range blocks {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			b.Index, b.RecordID, b.EntityKind, b.Actor,
			b.CreatedAt.Format(time.RFC3339), b.Fingerprint)
	}
	return tw.Flush()
}

func printDivergences(w io.Writer, divs []client.Divergence) error {
	if len(divs) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FIELD\tEXPECTED\tACTUAL")
	for _, d := range divs {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.FieldPath, compact(d.Expected), compact(d.Actual))
	}
	return tw.Flush()
}

// compact renders a decoded JSON value on one line. Absent values print as
// a dash so they are not confused with JSON null.
func compact(v any) string {
	if v == nil {
		return "-"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func printVerify(w io.Writer, res *client.VerifyResult) error {
	fmt.Fprintf(w, "%s  %s  %s  (%.1f ms)\n", verdict(res.Valid), res.Metadata.Reference, res.RecordID, res.ElapsedMS)
	fmt.Fprintf(w, "Stored:      %s\n", res.StoredFingerprint)
	fmt.Fprintf(w, "Recomputed:  %s\n", res.RecomputedFingerprint)
	if res.Metadata.Explanation != "" {
		fmt.Fprintf(w, "Explanation: %s\n", res.Metadata.Explanation)
	}
	return printDivergences(w, res.Divergences)
}
