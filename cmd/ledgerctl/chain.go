package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func (a *app) auditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Walk the whole chain and check every link and fingerprint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			r, err := c.Audit(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if a.format == "json" {
				if err := printJSON(out, r); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "%s  %d blocks\n", verdict(r.Intact), r.Blocks)
				fmt.Fprintf(out, "Root:   %s\n", r.Root)
				fmt.Fprintf(out, "Global: %s\n", r.GlobalFingerprint)
				for _, issue := range r.Issues {
					fmt.Fprintf(out, "  %s #%d %s: %s\n", failText("!"), issue.Index, issue.RecordID, issue.Problem)
				}
			}
			if !r.Intact {
				if r.BrokenAt != nil {
					return fmt.Errorf("chain broken at index %d", *r.BrokenAt)
				}
				return errors.New("chain broken")
			}
			return nil
		},
	}
}

func (a *app) exportCmd() *cobra.Command {
	var (
		csvOut bool
		output string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Dump the chain as JSON or CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if csvOut {
				global, err := c.ExportCSV(cmd.Context(), w)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "global fingerprint: %s\n", global)
				return nil
			}
			e, err := c.Export(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(w, e)
		},
	}
	cmd.Flags().BoolVar(&csvOut, "csv", false, "write CSV instead of JSON")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func (a *app) proofCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "proof",
		Short: "Print the global fingerprint proof document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			p, err := c.Proof(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}
}

func (a *app) clearCmd() *cobra.Command {
	var (
		secret string
		yes    bool
	)
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every block (administrative reset)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to clear the ledger without --yes")
			}
			if secret == "" {
				secret = a.v.GetString("admin_secret")
			}
			if secret == "" {
				return errors.New("admin secret required (--admin-secret or LEDGERCTL_ADMIN_SECRET)")
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			if err := c.Clear(cmd.Context(), secret); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ledger cleared")
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "admin-secret", "", "plaintext admin secret")
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}
