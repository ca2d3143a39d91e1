package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/petrijr/prepare"
	"github.com/petrijr/prepare/internal/fetchfile"
	"github.com/petrijr/prepare/pkg/api"
)

// FetchOptions holds flags for the fetch command.
type FetchOptions struct {
	Server  string
	Timeout time.Duration
}

// NewFetchCommand creates the fetch command.
func NewFetchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FetchOptions{}

	cmd := &cobra.Command{
		Use:   "fetch <file.yaml>",
		Short: "Resolve a fetch file against a running server",
		Long: `Resolve the actions declared in a YAML fetch file and print the
results as JSON.

Keys resolve in the order the file declares them. A page block, when
present, is sent along so derived handlers see the same page.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, rootOpts, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.Server, "server", "s", "http://localhost:8080", "base URL of the prepare server")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "request timeout")

	return cmd
}

func runFetch(cmd *cobra.Command, rootOpts *RootOptions, opts *FetchOptions, path string) error {
	file, err := fetchfile.Load(path)
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "read fetch file", Err: err}
	}

	if rootOpts.Verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "resolving %d action(s) against %s\n", file.Fetch.Len(), opts.Server)
	}

	ctx := cmd.Context()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	client := prepare.NewClient(opts.Server)
	props, err := client.Resolve(ctx, file.Fetch, prepare.Ambient{Page: file.Page})
	if err != nil {
		var te *prepare.TransportError
		if errors.As(err, &te) {
			return &ExitError{Code: ExitFailure, Message: "fetch failed", Err: err}
		}
		return &ExitError{Code: ExitCommandError, Message: "resolve", Err: err}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(inOrder(file.Fetch.Keys(), props))
}

// inOrder lays props out in the order the fetch file declared its keys.
func inOrder(keys []string, props prepare.Accumulation) *api.Ordered[any] {
	out := &api.Ordered[any]{}
	for _, key := range keys {
		out.Set(key, props[key])
	}
	return out
}
