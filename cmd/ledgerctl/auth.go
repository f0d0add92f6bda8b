package main

import (
	"bufio"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmerrifield20/chainledger/internal/identity"
	"github.com/jmerrifield20/chainledger/pkg/client"
)

func (a *app) tokenCmd() *cobra.Command {
	var (
		secret string
		issuer string
		ttl    time.Duration
		admin  bool
		save   bool
	)
	cmd := &cobra.Command{
		Use:   "token <actor>",
		Short: "Issue an actor token signed with the server's JWT secret",
		Long: `token mints an HS256 actor token offline. It needs the same secret the
server reads from auth.jwt_secret. With --save the token is written to
~/.ledgerctl/token and used by later commands.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = a.v.GetString("jwt_secret")
			}
			if secret == "" {
				return errors.New("JWT secret required (--jwt-secret or LEDGERCTL_JWT_SECRET)")
			}
			ti, err := identity.NewActorTokenIssuer([]byte(secret), issuer, ttl)
			if err != nil {
				return err
			}
			var tok string
			if admin {
				tok, err = ti.IssueAdmin(args[0], ttl)
			} else {
				tok, err = ti.Issue(args[0])
			}
			if err != nil {
				return err
			}
			if save {
				path := filepath.Join(configDir(), client.TokenFile)
				if err := client.SaveToken(path, tok); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "token saved to %s\n", path)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "jwt-secret", "", "HS256 secret (default: config jwt_secret)")
	cmd.Flags().StringVar(&issuer, "issuer", "ledgerd", "token issuer; must match the server's auth.issuer")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.Flags().BoolVar(&admin, "admin", false, "issue a short-lived admin token")
	cmd.Flags().BoolVar(&save, "save", false, "save the token to ~/.ledgerctl/token")
	return cmd
}

func hashSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-secret [secret]",
		Short: "Print the bcrypt hash to use as ledger.admin_secret_hash",
		Long: `hash-secret hashes an admin secret for the server config. Without an
argument the secret is read from the first line of stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var secret string
			if len(args) == 1 {
				secret = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return errors.New("no secret given")
				}
				secret = strings.TrimRight(line, "\r\n")
			}
			hash, err := identity.HashSecret(secret)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
