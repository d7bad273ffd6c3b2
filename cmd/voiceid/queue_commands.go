package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"voiceid/internal/ledger"
	"voiceid/internal/rebuildqueue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Manage voice print rebuild requests",
	}
	queueCmd.AddCommand(newQueueEnqueueCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueWorkCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	return queueCmd
}

func openQueue(ctx *commandContext) (*rebuildqueue.Store, error) {
	queue, err := rebuildqueue.Open(ctx.config)
	if err != nil {
		return nil, err
	}
	ctx.closers = append(ctx.closers, queue)
	return queue, nil
}

func parseStatuses(values []string) ([]rebuildqueue.Status, error) {
	statuses := make([]rebuildqueue.Status, 0, len(values))
	for _, value := range values {
		status, ok := rebuildqueue.ParseStatus(strings.ToLower(strings.TrimSpace(value)))
		if !ok {
			return nil, fmt.Errorf("unknown status %q (want pending, running, done or failed)", value)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func newQueueEnqueueCommand(ctx *commandContext) *cobra.Command {
	var backendFlag string
	var reason string

	cmd := &cobra.Command{
		Use:   "enqueue <speaker>...",
		Short: "Request a voice print rebuild (for example after adding a sample)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backendID := ctx.backendOrDefault(backendFlag)
			if err := requireKnownBackend(ctx.config, backendID); err != nil {
				return err
			}
			queue, err := openQueue(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, name := range args {
				req, created, err := queue.Enqueue(cmd.Context(), ledger.NormalizeName(name), backendID, reason)
				if err != nil {
					return err
				}
				if created {
					fmt.Fprintf(out, "Queued rebuild #%d for %s on %s\n", req.ID, req.SpeakerID, backendID)
				} else {
					fmt.Fprintf(out, "Rebuild #%d for %s on %s already pending\n", req.ID, req.SpeakerID, backendID)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&backendFlag, "backend", "b", "", "Embedding backend (defaults to identification.active_backend)")
	cmd.Flags().StringVar(&reason, "reason", rebuildqueue.ReasonSampleAdded, "Reason recorded with the request")
	return cmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statusFlags []string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rebuild requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := parseStatuses(statusFlags)
			if err != nil {
				return err
			}
			queue, err := openQueue(ctx)
			if err != nil {
				return err
			}
			requests, err := queue.List(cmd.Context(), statuses...)
			if err != nil {
				return err
			}
			if jsonOutput {
				if requests == nil {
					requests = []*rebuildqueue.Request{}
				}
				return writeJSON(cmd, requests)
			}
			out := cmd.OutOrStdout()
			if len(requests) == 0 {
				fmt.Fprintln(out, "Rebuild queue is empty")
				return nil
			}
			rows := make([][]string, 0, len(requests))
			for _, r := range requests {
				rows = append(rows, []string{
					strconv.FormatInt(r.ID, 10),
					r.SpeakerID,
					r.BackendID,
					string(r.Status),
					strconv.Itoa(r.Attempts),
					r.RequestedAt.Local().Format(time.DateTime),
					r.LastError,
				})
			}
			fmt.Fprintln(out, renderTable(out, []string{"ID", "Speaker", "Backend", "Status", "Attempts", "Requested", "Last error"}, rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft}))
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&statusFlags, "status", "s", nil, "Filter by status (pending, running, done, failed)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newQueueWorkCommand(ctx *commandContext) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "work",
		Short: "Drain the rebuild queue",
		Long: `Drain the rebuild queue, rebuilding each requested voice print from the
speaker's current ledger samples. Runs until interrupted unless --once is set.
Only one worker may run at a time.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.ensureStore()
			if err != nil {
				return err
			}
			led, err := ctx.ensureLedger()
			if err != nil {
				return err
			}
			queue, err := openQueue(ctx)
			if err != nil {
				return err
			}
			worker := rebuildqueue.NewWorker(queue, store, led, rebuildqueue.WorkerOptions{
				LockPath:     filepath.Join(ctx.config.LockDir(), "rebuild-worker.lock"),
				PollInterval: time.Duration(ctx.config.Queue.PollIntervalSeconds) * time.Second,
				MaxAttempts:  ctx.config.Queue.MaxAttempts,
				Logger:       ctx.logger,
			})
			if once {
				processed, err := worker.RunOnce(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Processed %d rebuild requests\n", processed)
				return nil
			}
			return worker.Run(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Process pending requests and exit")
	return cmd
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var statusFlags []string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete rebuild requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := parseStatuses(statusFlags)
			if err != nil {
				return err
			}
			queue, err := openQueue(ctx)
			if err != nil {
				return err
			}
			removed, err := queue.Clear(cmd.Context(), statuses...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d rebuild requests\n", removed)
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&statusFlags, "status", "s", nil, "Only remove requests in these statuses (default all)")
	return cmd
}
