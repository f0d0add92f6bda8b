// Command ledgerctl is the command-line client for ledgerd.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmerrifield20/chainledger/pkg/client"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

const defaultServer = "http://localhost:8080"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the state shared by every subcommand.
type app struct {
	server  string
	cfgFile string
	token   string
	format  string
	timeout time.Duration

	v *viper.Viper
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Command-line client for the ledgerd record ledger",
		Long: `ledgerctl commits records to a ledgerd server, looks them up, verifies
them against their current content, and exports chain-wide proofs.

Settings are read from ~/.ledgerctl/config.yaml and LEDGERCTL_* environment
variables; flags take precedence.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.loadConfig,
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default ~/.ledgerctl/config.yaml)")
	root.PersistentFlags().StringVar(&a.server, "server", "", "ledgerd base URL (default "+defaultServer+")")
	root.PersistentFlags().StringVar(&a.token, "token", "", "actor token (default: config, then ~/.ledgerctl/token)")
	root.PersistentFlags().StringVar(&a.format, "format", "text", "Output format: text or json")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", 30*time.Second, "request timeout")

	root.AddCommand(
		a.commitCmd(),
		a.findCmd(),
		a.listCmd(),
		a.verifyCmd(),
		a.explainCmd(),
		a.reportCmd(),
		a.auditCmd(),
		a.exportCmd(),
		a.proofCmd(),
		a.clearCmd(),
		a.tokenCmd(),
		hashSecretCmd(),
		versionCmd(),
	)
	return root
}

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ledgerctl"
	}
	return filepath.Join(home, ".ledgerctl")
}

func (a *app) loadConfig(cmd *cobra.Command, _ []string) error {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else {
		a.v.AddConfigPath(configDir())
		a.v.SetConfigName("config")
		a.v.SetConfigType("yaml")
	}
	a.v.SetEnvPrefix("ledgerctl")
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	a.v.AutomaticEnv()
	if err := a.v.ReadInConfig(); err != nil && a.cfgFile != "" {
		return fmt.Errorf("read config %s: %w", a.cfgFile, err)
	}

	if a.server == "" {
		a.server = a.v.GetString("server")
	}
	if a.server == "" {
		a.server = defaultServer
	}
	if a.token == "" {
		a.token = a.v.GetString("token")
	}
	if a.token == "" {
		tok, err := client.LoadToken(filepath.Join(configDir(), client.TokenFile))
		if err != nil {
			return err
		}
		a.token = tok
	}
	if a.format != "text" && a.format != "json" {
		return fmt.Errorf("unknown --format %q (want text or json)", a.format)
	}
	return nil
}

func (a *app) client() (*client.Client, error) {
	opts := []client.Option{client.WithTimeout(a.timeout)}
	if a.token != "" {
		opts = append(opts, client.WithBearerToken(a.token))
	}
	return client.New(a.server, opts...)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the ledgerctl version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ledgerctl %s\n", version)
		},
	}
}
