// Package cli contains the Cobra commands of sdlqctl.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/xraph/sdlq"
	"github.com/xraph/sdlq/dlq"
	"github.com/xraph/sdlq/store/driver"
)

// Opener opens the queue the commands operate on. The returned func
// releases it.
type Opener func(cmd *cobra.Command) (*dlq.Queue, func() error, error)

// NewRoot constructs the sdlqctl root command. A nil open uses
// [ConfigOpener].
func NewRoot(open Opener) *cobra.Command {
	if open == nil {
		open = ConfigOpener(slog.Default())
	}
	root := &cobra.Command{
		Use:   "sdlqctl",
		Short: "Inspect and administer a sequenced dead letter queue",
		Long: `sdlqctl works directly against the letter store of a queue.

Inspection:
  sequences       List blocked sequences, oldest first
  letters         List the letters of one sequence, front first
  size            Count letters in the queue or one sequence

Eviction:
  clear-letter    Remove one letter; the next one becomes the front
  clear-sequence  Remove every letter of a sequence`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "Path to a YAML config file")
	flags.String("driver", "", "Store driver (memory, pebble, sqlite, postgres, bun, redis, mongo)")
	flags.String("dsn", "", "Store connection string")
	flags.String("data-dir", "", "Store data directory (pebble, sqlite)")
	flags.StringP("output", "o", "table", "Output format: table or json")

	root.AddCommand(
		newSequencesCommand(open),
		newLettersCommand(open),
		newSizeCommand(open),
		newClearLetterCommand(open),
		newClearSequenceCommand(open),
	)
	return root
}

// ConfigOpener loads the config named by --config, applies the store flags
// on top, and opens the store and queue.
func ConfigOpener(logger *slog.Logger) Opener {
	if logger == nil {
		logger = slog.Default()
	}
	return func(cmd *cobra.Command) (*dlq.Queue, func() error, error) {
		path, _ := cmd.Flags().GetString("config")
		cfg, err := sdlq.LoadConfig(path)
		if err != nil {
			return nil, nil, err
		}
		if v, _ := cmd.Flags().GetString("driver"); v != "" {
			cfg.Store.Driver = v
		}
		if v, _ := cmd.Flags().GetString("dsn"); v != "" {
			cfg.Store.DSN = v
		}
		if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
			cfg.Store.DataDir = v
		}
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}

		ctx := cmdContext(cmd)
		s, err := driver.Open(ctx, cfg.Store, logger)
		if err != nil {
			return nil, nil, err
		}
		q, err := dlq.Open(ctx, s, dlq.WithConfig(cfg), dlq.WithLogger(logger))
		if err != nil {
			_ = s.Close()
			return nil, nil, err
		}
		return q, s.Close, nil
	}
}

// withQueue opens the queue for one command and releases it afterwards.
func withQueue(cmd *cobra.Command, open Opener, fn func(ctx context.Context, q *dlq.Queue) error) (err error) {
	q, release, err := open(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := release(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(cmdContext(cmd), q)
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func jsonOutput(cmd *cobra.Command) (bool, error) {
	format, _ := cmd.Flags().GetString("output")
	switch format {
	case "table", "":
		return false, nil
	case "json":
		return true, nil
	}
	return false, fmt.Errorf("invalid --output %q; use table|json", format)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
