// Package cli provides the r2browser command-line interface: the broker
// entrypoint plus direct credential, bucket and object commands.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/r2browser/r2browser/internal/cloud/r2"
	"github.com/r2browser/r2browser/internal/credentials"
	"github.com/r2browser/r2browser/internal/logging"
	"github.com/r2browser/r2browser/internal/models"
	"github.com/r2browser/r2browser/internal/version"
)

var (
	verbose bool
	quiet   bool

	logger *logging.Logger

	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "r2browser",
		Short: "Cloudflare R2 object storage browser",
		Long: `r2browser ` + version.Version + ` - Built: ` + version.BuildTime + `
Browse, transfer and manage objects in Cloudflare R2 buckets.

Serve mode:
  r2browser serve runs the loopback HTTP broker that desktop and web
  front-ends talk to.

CLI mode:
  credentials, buckets and objects commands drive R2 directly.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.NewDefaultCLILogger()
			if verbose {
				logging.SetGlobalLevelFromString("debug")
			}
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress output")

	rootCmd.Version = version.Version + " (" + version.BuildTime + ")"

	return rootCmd
}

// AddCommands registers all subcommands on the root.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newCredentialsCmd())
	rootCmd.AddCommand(newBucketsCmd())
	rootCmd.AddCommand(newObjectsCmd())
}

// Execute runs the CLI with signal-driven cancellation.
func Execute() error {
	rootContext, cancelFunc = context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range sigChan {
			if sig != nil {
				fmt.Fprintf(os.Stderr, "\nReceived %v, cancelling...\n", sig)
				cancelFunc()
			}
		}
	}()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	err := rootCmd.Execute()

	signal.Stop(sigChan)
	close(sigChan)

	return err
}

// loadClient builds a provider client from the stored credentials.
func loadClient(ctx context.Context) (*r2.Client, *models.Credentials, error) {
	store, err := credentials.NewStore()
	if err != nil {
		return nil, nil, err
	}
	creds, err := store.Load()
	if err != nil {
		return nil, nil, err
	}
	if creds == nil {
		return nil, nil, fmt.Errorf("no credentials configured; run 'r2browser credentials set' first")
	}

	client, err := r2.NewClient(ctx, creds)
	if err != nil {
		return nil, nil, err
	}
	return client, creds, nil
}
