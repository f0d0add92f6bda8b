package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmerrifield20/chainledger/pkg/client"
)

// readContent resolves the content given on the command line. With file set
// it reads the file ("-" is stdin); otherwise it uses inline. Text that is
// valid JSON is sent as JSON unless asText is set.
func readContent(in io.Reader, inline, file string, asText bool) (any, error) {
	text := inline
	if file != "" {
		var (
			b   []byte
			err error
		)
		if file == "-" {
			b, err = io.ReadAll(in)
		} else {
			b, err = os.ReadFile(file)
		}
		if err != nil {
			return nil, fmt.Errorf("read content: %w", err)
		}
		text = string(b)
	}
	if text == "" {
		return nil, errors.New("content is required (--content or --file)")
	}
	if !asText && json.Valid([]byte(strings.TrimSpace(text))) {
		return json.RawMessage(strings.TrimSpace(text)), nil
	}
	return text, nil
}

func (a *app) commitCmd() *cobra.Command {
	var (
		req     client.CommitRequest
		content string
		file    string
		asText  bool
	)
	cmd := &cobra.Command{
		Use:   "commit <record-id>",
		Short: "Append a record to the ledger",
		Example: `  ledgerctl commit META-001 --kind goal --content '{"valor":10,"unidad":"%"}'
  ledgerctl commit NOTE-7 --kind report --file note.txt --text`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			req.RecordID = args[0]
			if req.Content, err = readContent(cmd.InOrStdin(), content, file, asText); err != nil {
				return err
			}
			b, err := c.Commit(cmd.Context(), req)
			if err != nil {
				return err
			}
			if a.format == "json" {
				return printJSON(cmd.OutOrStdout(), b)
			}
			printBlock(cmd.OutOrStdout(), b)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.EntityKind, "kind", "", "entity kind (goal, sensor_reading, anomaly, report, ...)")
	cmd.Flags().StringVar(&req.Actor, "actor", os.Getenv("USER"), "actor; replaced by the token's actor when the server checks tokens")
	cmd.Flags().StringVar(&req.Reason, "reason", "", "free-text justification")
	cmd.Flags().StringVar(&content, "content", "", "content, JSON or free text")
	cmd.Flags().StringVar(&file, "file", "", "read content from file (- for stdin)")
	cmd.Flags().BoolVar(&asText, "text", false, "commit content as free text even when it parses as JSON")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func (a *app) findCmd() *cobra.Command {
	var index int
	cmd := &cobra.Command{
		Use:   "find [record-id]",
		Short: "Show the latest block for a record, or a block by --index",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			var b *client.Block
			switch {
			case len(args) == 1:
				b, err = c.Find(cmd.Context(), args[0])
			case index >= 0:
				b, err = c.Block(cmd.Context(), index)
			default:
				return errors.New("give a record id or --index")
			}
			if err != nil {
				return err
			}
			if a.format == "json" {
				return printJSON(cmd.OutOrStdout(), b)
			}
			printBlock(cmd.OutOrStdout(), b)
			return nil
		},
	}
	cmd.Flags().IntVar(&index, "index", -1, "look up by block index instead of record id")
	return cmd
}

func (a *app) listCmd() *cobra.Command {
	var from, limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List blocks in chain order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			page, err := c.List(cmd.Context(), from, limit)
			if err != nil {
				return err
			}
			if a.format == "json" {
				return printJSON(cmd.OutOrStdout(), page)
			}
			if err := printBlockTable(cmd.OutOrStdout(), page.Blocks); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", dimText(fmt.Sprintf("%d of %d blocks", len(page.Blocks), page.Total)))
			return nil
		},
	}
	cmd.Flags().IntVar(&from, "from", 0, "first block index")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum blocks to show")
	return cmd
}

func (a *app) reportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report <record-id>",
		Short: "Print the verification report document of a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			r, err := c.Report(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), r)
		},
	}
}
