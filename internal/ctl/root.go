// Package ctl implements the aggroctl operator commands.
package ctl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"aggronation/pkg/clients"
	"aggronation/pkg/config"
)

type options struct {
	url        string
	token      string
	adminToken string
	output     string
	timeout    time.Duration
	retry      clients.HTTPRetryConfig
}

func (o *options) client() *Client {
	return NewClient(o.url, o.timeout, o.retry)
}

func (o *options) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), o.timeout)
}

func (o *options) json() bool { return o.output == "json" }

// NewRootCmd returns the root command for aggroctl
func NewRootCmd() *cobra.Command {
	return newRootCmd(clients.DefaultHTTPRetryConfig())
}

func newRootCmd(retry clients.HTTPRetryConfig) *cobra.Command {
	opts := &options{retry: retry}

	rootCmd := &cobra.Command{
		Use:           "aggroctl",
		Short:         "Operator tool for the ingestor",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.output != "" && opts.output != "json" && opts.output != "text" {
				return fmt.Errorf("invalid --output %q: must be json or text", opts.output)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.url, "url", config.GetEnv("AGGRO_URL", "http://localhost:18040"), "ingestor base URL")
	flags.StringVar(&opts.token, "token", config.GetEnv("INGEST_TRIGGER_SECRET", ""), "ingest trigger secret")
	flags.StringVar(&opts.adminToken, "admin-token", config.GetEnv("ADMIN_TOKEN", ""), "admin bearer token")
	flags.StringVar(&opts.output, "output", "text", "output format: json|text")
	flags.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "request timeout")

	rootCmd.AddCommand(newTriggerCmd(opts))
	rootCmd.AddCommand(newEventsCmd(opts))
	rootCmd.AddCommand(newSourcesCmd(opts))
	rootCmd.AddCommand(newSchedulerCmd(opts))
	rootCmd.AddCommand(newRescheduleCmd(opts))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
