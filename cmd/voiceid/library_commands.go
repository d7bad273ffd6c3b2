package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"voiceid/internal/drift"
	"voiceid/internal/embedding"
	"voiceid/internal/ledger"
	"voiceid/internal/logging"
	"voiceid/internal/rebuildqueue"
	"voiceid/internal/services"
	"voiceid/internal/voiceprint"
)

type printRow struct {
	SpeakerID   string      `json:"speaker_id"`
	ShortName   string      `json:"short_name,omitempty"`
	BackendID   string      `json:"backend_id"`
	Dim         int         `json:"dim"`
	SampleCount int         `json:"sample_count"`
	BuiltAt     string      `json:"built_at"`
	State       drift.State `json:"state,omitempty"`
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var backendFlag string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored voice prints for a backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			backendID := ctx.backendOrDefault(backendFlag)
			if err := requireKnownBackend(ctx.config, backendID); err != nil {
				return err
			}
			store, err := ctx.ensureStore()
			if err != nil {
				return err
			}
			snapshot, err := store.Load(cmd.Context(), backendID)
			if err != nil {
				return err
			}
			states, err := driftStates(ctx, cmd, snapshot)
			if err != nil {
				return err
			}

			rows := make([]printRow, 0, snapshot.Len())
			for _, id := range snapshot.SpeakerIDs() {
				vp := snapshot.Prints[id]
				row := printRow{
					SpeakerID:   id,
					ShortName:   vp.ShortName,
					BackendID:   backendID,
					Dim:         vp.Dim,
					SampleCount: vp.SampleCount,
					BuiltAt:     formatDate(vp.BuiltAt),
				}
				if states != nil {
					row.State = states[id]
					if row.State == "" {
						row.State = drift.StateFresh
					}
				}
				rows = append(rows, row)
			}
			if jsonOutput {
				return writeJSON(cmd, rows)
			}

			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintf(out, "No voice prints stored for %s\n", backendID)
				return nil
			}
			table := make([][]string, 0, len(rows))
			for _, r := range rows {
				state := string(r.State)
				if state == "" {
					state = "-"
				}
				table = append(table, []string{r.SpeakerID, r.ShortName, strconv.Itoa(r.SampleCount), r.BuiltAt, state})
			}
			fmt.Fprintln(out, renderTable(out, []string{"Speaker", "Short", "Samples", "Built", "State"}, table,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft}))
			fmt.Fprintf(out, "%d voice prints, %s, %d-dim\n", snapshot.Len(), backendID, snapshot.Dim)
			if snapshot.Legacy {
				fmt.Fprintln(out, "Store is in the legacy untagged format; the next build migrates it")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&backendFlag, "backend", "b", "", "Embedding backend (defaults to identification.active_backend)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newInfoCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "info <speaker>",
		Short: "Show a speaker's voice prints across every backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			speaker := ledger.NormalizeName(args[0])
			store, err := ctx.ensureStore()
			if err != nil {
				return err
			}
			led, err := ctx.optionalLedger()
			if err != nil {
				return err
			}
			var samples []ledger.SampleRecord
			if led != nil {
				if samples, err = led.Samples(cmd.Context(), speaker); err != nil {
					return err
				}
			}

			var rows []printRow
			for _, backendID := range ctx.config.BackendIDs() {
				snapshot, err := store.Load(cmd.Context(), backendID)
				if err != nil {
					if errors.Is(err, services.ErrCorruptStore) {
						logging.WarnWithContext(ctx.logger, "skipping unreadable store", "store_corrupt",
							logging.Backend(backendID), logging.Error(err),
							logging.String(logging.FieldErrorHint, "restore or delete the backend's store file"),
							logging.String(logging.FieldImpact, "backend missing from info output"),
						)
						continue
					}
					return err
				}
				vp, ok := snapshot.Get(speaker)
				row := printRow{SpeakerID: speaker, BackendID: backendID, Dim: snapshot.Dim, BuiltAt: "-"}
				if ok {
					row.ShortName = vp.ShortName
					row.SampleCount = vp.SampleCount
					row.BuiltAt = formatDate(vp.BuiltAt)
				}
				if led != nil {
					row.State = drift.StateOf(samples, vp, ok)
				}
				rows = append(rows, row)
			}
			if jsonOutput {
				return writeJSON(cmd, map[string]any{
					"speaker_id":     speaker,
					"ledger_samples": len(samples),
					"latest_sample":  formatDate(ledger.Latest(samples)),
					"voice_prints":   rows,
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Speaker: %s\n", speaker)
			if led != nil {
				fmt.Fprintf(out, "Ledger samples: %d (latest %s)\n", len(samples), formatDate(ledger.Latest(samples)))
			}
			table := make([][]string, 0, len(rows))
			for _, r := range rows {
				state := string(r.State)
				if state == "" {
					state = "-"
				}
				table = append(table, []string{r.BackendID, strconv.Itoa(r.Dim), strconv.Itoa(r.SampleCount), r.BuiltAt, state})
			}
			fmt.Fprintln(out, renderTable(out, []string{"Backend", "Dim", "Samples", "Built", "State"}, table,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft, alignLeft}))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newRemoveCommand(ctx *commandContext) *cobra.Command {
	var backendFlag string
	var allBackends bool

	cmd := &cobra.Command{
		Use:   "remove <speaker>",
		Short: "Remove a speaker's voice print",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			speaker := ledger.NormalizeName(args[0])
			backends := []string{ctx.backendOrDefault(backendFlag)}
			if allBackends {
				backends = ctx.config.BackendIDs()
			} else if err := requireKnownBackend(ctx.config, backends[0]); err != nil {
				return err
			}
			store, err := ctx.ensureStore()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			removed := 0
			for _, backendID := range backends {
				ok, err := store.Remove(cmd.Context(), speaker, backendID)
				if err != nil {
					return err
				}
				if ok {
					removed++
					fmt.Fprintf(out, "Removed %s from %s\n", speaker, backendID)
				}
			}
			if removed == 0 {
				return fmt.Errorf("no voice print for %q", speaker)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&backendFlag, "backend", "b", "", "Embedding backend (defaults to identification.active_backend)")
	cmd.Flags().BoolVar(&allBackends, "all-backends", false, "Remove the speaker from every configured backend")
	return cmd
}

func newStaleCommand(ctx *commandContext) *cobra.Command {
	var backendFlag string
	var enqueue bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stale",
		Short: "Report voice prints that are older than their newest samples",
		RunE: func(cmd *cobra.Command, args []string) error {
			backendID := ctx.backendOrDefault(backendFlag)
			if err := requireKnownBackend(ctx.config, backendID); err != nil {
				return err
			}
			store, err := ctx.ensureStore()
			if err != nil {
				return err
			}
			led, err := ctx.ensureLedger()
			if err != nil {
				return err
			}
			snapshot, err := store.Load(cmd.Context(), backendID)
			if err != nil {
				return err
			}
			samples, err := led.All(cmd.Context())
			if err != nil {
				return err
			}
			report := drift.Report(samples, snapshot)

			created := 0
			if enqueue {
				queue, err := rebuildqueue.Open(ctx.config)
				if err != nil {
					return err
				}
				defer queue.Close()
				if created, err = rebuildqueue.EnqueueDrifted(cmd.Context(), queue, backendID, drift.StaleSpeakers(samples, snapshot)); err != nil {
					return err
				}
			}

			if jsonOutput {
				return writeJSON(cmd, map[string]any{"backend_id": backendID, "speakers": report, "enqueued": created})
			}
			out := cmd.OutOrStdout()
			rows := make([][]string, 0, len(report))
			needs := 0
			for _, e := range report {
				if e.State.NeedsRebuild() {
					needs++
				}
				rows = append(rows, []string{e.SpeakerID, string(e.State), strconv.Itoa(e.SampleCount), formatDate(e.LatestSample), formatDate(e.BuiltAt)})
			}
			fmt.Fprintln(out, renderTable(out, []string{"Speaker", "State", "Samples", "Latest sample", "Built"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft}))
			fmt.Fprintf(out, "%d of %d speakers need a rebuild on %s\n", needs, len(report), backendID)
			if enqueue {
				fmt.Fprintf(out, "Enqueued %d rebuild requests\n", created)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&backendFlag, "backend", "b", "", "Embedding backend (defaults to identification.active_backend)")
	cmd.Flags().BoolVar(&enqueue, "enqueue", false, "Queue a rebuild for every speaker that needs one")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newBackendsCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "backends",
		Short: "Check configured embedding backends and their stores",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.ensureStore()
			if err != nil {
				return err
			}
			type backendRow struct {
				embedding.Health
				Kind   string `json:"kind"`
				Active bool   `json:"active"`
				Prints int    `json:"prints"`
				Store  string `json:"store"`
			}
			var rows []backendRow
			for _, h := range ctx.registry.Health(cmd.Context()) {
				row := backendRow{Health: h, Store: "ok", Active: h.Backend == ctx.config.Identification.ActiveBackend}
				if b, ok := ctx.config.Backend(h.Backend); ok {
					row.Kind = b.Kind
				}
				snapshot, err := store.Load(cmd.Context(), h.Backend)
				switch {
				case err == nil:
					row.Prints = snapshot.Len()
					if snapshot.Legacy {
						row.Store = "legacy"
					}
				case errors.Is(err, services.ErrCorruptStore):
					row.Store = "corrupt"
				default:
					return err
				}
				rows = append(rows, row)
			}
			if jsonOutput {
				return writeJSON(cmd, rows)
			}

			table := make([][]string, 0, len(rows))
			for _, r := range rows {
				active := ""
				if r.Active {
					active = "*"
				}
				ready := yesNo(r.Ready)
				if !r.Ready {
					ready = "no: " + r.Detail
				}
				table = append(table, []string{active, r.Backend, r.Kind, strconv.Itoa(r.Dim), strconv.Itoa(r.Prints), r.Store, ready})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(out, []string{"", "Backend", "Kind", "Dim", "Prints", "Store", "Ready"}, table,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft}))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

// driftStates computes drift for snapshot when a ledger is configured, or
// returns nil.
func driftStates(ctx *commandContext, cmd *cobra.Command, snapshot voiceprint.Snapshot) (map[string]drift.State, error) {
	led, err := ctx.optionalLedger()
	if err != nil || led == nil {
		return nil, err
	}
	samples, err := led.All(cmd.Context())
	if err != nil {
		return nil, err
	}
	return drift.StaleSpeakers(samples, snapshot), nil
}
