// Package cli implements the chemviz command-line client.
package cli

import (
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/chemviz/equipment-visualizer/internal/client"
)

// Options carries the global flags and the filesystem the commands use
type Options struct {
	ConfigPath string
	ServerURL  string
	TokenFile  string

	fs afero.Fs
}

// NewRootCommand creates the chemviz root command with all subcommands
func NewRootCommand() *cobra.Command {
	return newRootCommand(afero.NewOsFs())
}

func newRootCommand(fs afero.Fs) *cobra.Command {
	opts := &Options{fs: fs}

	rootCmd := &cobra.Command{
		Use:           "chemviz",
		Short:         "Chemical equipment CSV analysis client",
		Long:          "chemviz validates and summarizes chemical equipment CSV files locally or through a chemviz server.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.ConfigPath, "config", "config.yaml", "server config file (prune, hash-password)")
	pf.StringVar(&opts.ServerURL, "server", envOr("CHEMVIZ_SERVER", "http://localhost:8000"), "API server URL")
	pf.StringVar(&opts.TokenFile, "token-file", defaultTokenFile(), "where the login token is kept")

	rootCmd.AddCommand(
		analyzeCommand(opts),
		loginCommand(opts),
		logoutCommand(opts),
		uploadCommand(opts),
		historyCommand(opts),
		summaryCommand(opts),
		reportCommand(opts),
		downloadCommand(opts),
		deleteCommand(opts),
		pruneCommand(opts),
		hashPasswordCommand(),
	)
	return rootCmd
}

// client returns an API client carrying the saved token, if any
func (o *Options) client() (*client.Client, error) {
	c := client.New(o.ServerURL)
	token, err := loadToken(o.fs, o.TokenFile)
	if err != nil {
		return nil, err
	}
	c.SetToken(token)
	return c, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultTokenFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chemviz-token"
	}
	return filepath.Join(home, ".chemviz", "token")
}
