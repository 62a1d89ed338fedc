package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/sdlq/dlq"
	"github.com/xraph/sdlq/id"
	"github.com/xraph/sdlq/letter"
)

// newSequencesCommand constructs the `sequences` subcommand.
func newSequencesCommand(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:     "sequences",
		Aliases: []string{"seq"},
		Short:   "List blocked sequences, oldest front letter first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			asJSON, err := jsonOutput(cmd)
			if err != nil {
				return err
			}
			return withQueue(cmd, open, func(_ context.Context, q *dlq.Queue) error {
				seqs := q.Sequences()
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), seqs)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				_, _ = fmt.Fprintln(tw, "SEQUENCE\tLETTERS\tBLOCKED SINCE")
				for _, s := range seqs {
					_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\n", s.SequenceID, s.Size, s.FrontEnqueuedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}
}

type letterView struct {
	ID          string            `json:"id"`
	Index       uint64            `json:"index"`
	EnqueuedAt  time.Time         `json:"enqueued_at"`
	Type        string            `json:"type"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Payload     string            `json:"payload,omitempty"`
	Cause       letter.Cause      `json:"cause"`
	Attempts    int               `json:"attempts"`
	LastTriedAt *time.Time        `json:"last_tried_at,omitempty"`
}

func viewOf(l *letter.Letter, withPayload bool) letterView {
	v := letterView{
		ID:         l.ID.String(),
		Index:      l.Index,
		EnqueuedAt: l.EnqueuedAt,
		Type:       l.Message.Type,
		Metadata:   l.Message.Metadata,
		Cause:      l.Cause,
		Attempts:   l.Diagnostics.Attempts(),
	}
	if t := l.Diagnostics.LastTriedAt(); !t.IsZero() {
		v.LastTriedAt = &t
	}
	if withPayload {
		v.Payload = string(l.Message.Payload)
	}
	return v
}

// newLettersCommand constructs the `letters` subcommand.
func newLettersCommand(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "letters SEQUENCE",
		Short: "List the letters of a sequence, front first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, err := jsonOutput(cmd)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")
			withPayload, _ := cmd.Flags().GetBool("payload")

			return withQueue(cmd, open, func(ctx context.Context, q *dlq.Queue) error {
				ls, err := q.Letters(ctx, args[0], letter.ListOpts{Limit: limit, Offset: offset})
				if err != nil {
					return err
				}
				views := make([]letterView, len(ls))
				for i, l := range ls {
					views[i] = viewOf(l, withPayload)
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), views)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				_, _ = fmt.Fprintln(tw, "ID\tINDEX\tTYPE\tCAUSE\tATTEMPTS\tENQUEUED\tDETAIL")
				for _, v := range views {
					_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%d\t%s\t%s\n",
						v.ID, v.Index, v.Type, v.Cause.Kind, v.Attempts,
						v.EnqueuedAt.Format(time.RFC3339), v.Cause.Description)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().Int("limit", 0, "Maximum letters to list (0 = all)")
	cmd.Flags().Int("offset", 0, "Letters to skip from the front")
	cmd.Flags().Bool("payload", false, "Include payloads in JSON output")
	return cmd
}

// newSizeCommand constructs the `size` subcommand.
func newSizeCommand(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "size [SEQUENCE]",
		Short: "Count letters in the queue, or in one sequence",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd, open, func(_ context.Context, q *dlq.Queue) error {
				n := q.Size()
				if len(args) == 1 {
					n = q.SequenceSize(args[0])
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), n)
				return err
			})
		},
	}
}

// newClearLetterCommand constructs the `clear-letter` subcommand.
func newClearLetterCommand(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-letter LETTER_ID",
		Short: "Remove one letter from its sequence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			letterID, err := id.ParseLetterID(args[0])
			if err != nil {
				return fmt.Errorf("invalid letter id: %w", err)
			}
			return withQueue(cmd, open, func(ctx context.Context, q *dlq.Queue) error {
				if err := q.ClearLetter(ctx, letterID); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "cleared", letterID.String())
				return nil
			})
		},
	}
}

// newClearSequenceCommand constructs the `clear-sequence` subcommand.
func newClearSequenceCommand(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear-sequence SEQUENCE",
		Short: "Remove every letter of a sequence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			yes, _ := cmd.Flags().GetBool("yes")
			if !yes {
				return fmt.Errorf("refusing to clear sequence %s without --yes", args[0])
			}
			return withQueue(cmd, open, func(ctx context.Context, q *dlq.Queue) error {
				n, err := q.ClearSequence(ctx, args[0])
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "cleared %d letters from %s\n", n, args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolP("yes", "y", false, "Confirm the deletion")
	return cmd
}
