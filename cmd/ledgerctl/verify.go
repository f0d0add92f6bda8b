package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmerrifield20/chainledger/pkg/client"
)

var errNotValid = errors.New("verification failed")

func (a *app) verifyCmd() *cobra.Command {
	var (
		index   int
		current string
		file    string
		asText  bool
		delay   time.Duration
		reason  string
		strict  bool
	)
	cmd := &cobra.Command{
		Use:   "verify [record-id]",
		Short: "Recompute a record's fingerprint and show what changed",
		Long: `verify re-digests the latest block stored for a record. Without
--current it checks the stored content against itself; with --current it
compares the record as it exists today against what was committed and lists
the fields that diverge.`,
		Example: `  ledgerctl verify META-001
  ledgerctl verify META-001 --current '{"valor":55,"unidad":"%"}'
  ledgerctl verify --index 3`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}

			var res *client.VerifyResult
			switch {
			case len(args) == 1:
				req := client.VerifyRequest{DelayMS: int(delay.Milliseconds()), Reason: reason}
				if current != "" || file != "" {
					if req.CurrentContent, err = readContent(cmd.InOrStdin(), current, file, asText); err != nil {
						return err
					}
				}
				res, err = c.Verify(cmd.Context(), args[0], req)
			case index >= 0:
				res, err = c.VerifyBlock(cmd.Context(), index)
			default:
				return errors.New("give a record id or --index")
			}
			if err != nil {
				return err
			}

			if a.format == "json" {
				err = printJSON(cmd.OutOrStdout(), res)
			} else {
				err = printVerify(cmd.OutOrStdout(), res)
			}
			if err != nil {
				return err
			}
			if strict && !res.Valid {
				return errNotValid
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&index, "index", -1, "self-check the block at this index")
	cmd.Flags().StringVar(&current, "current", "", "current content, JSON or free text")
	cmd.Flags().StringVar(&file, "current-file", "", "read current content from file (- for stdin)")
	cmd.Flags().BoolVar(&asText, "text", false, "treat current content as free text even when it parses as JSON")
	cmd.Flags().DurationVar(&delay, "delay", 0, "artificial server-side verification delay")
	cmd.Flags().StringVar(&reason, "reason", "", "explanation attached to an invalid result")
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when the record is not valid")
	return cmd
}

// argContent reads an explain operand: @path reads a file, anything else is
// taken literally.
func argContent(arg string) (any, error) {
	if path, ok := strings.CutPrefix(arg, "@"); ok {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		arg = string(b)
	}
	return readContent(nil, arg, "", false)
}

func (a *app) explainCmd() *cobra.Command {
	var maxDepth int
	cmd := &cobra.Command{
		Use:   "explain <expected> <actual>",
		Short: "Diff two JSON documents without touching the ledger",
		Example: `  ledgerctl explain '{"a":1,"b":{"c":2}}' '{"a":1,"b":{"c":3}}'
  ledgerctl explain @before.json @after.json --max-depth 3`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			expected, err := argContent(args[0])
			if err != nil {
				return err
			}
			actual, err := argContent(args[1])
			if err != nil {
				return err
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			var depth *int
			if cmd.Flags().Changed("max-depth") {
				depth = &maxDepth
			}
			divs, err := c.Explain(cmd.Context(), expected, actual, depth)
			if err != nil {
				return err
			}
			if a.format == "json" {
				return printJSON(cmd.OutOrStdout(), divs)
			}
			if len(divs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), okText("no differences"))
				return nil
			}
			return printDivergences(cmd.OutOrStdout(), divs)
		},
	}
	cmd.Flags().IntVar(&maxDepth, "max-depth", 2, "how deep to descend into nested objects (server default when unset)")
	return cmd
}
