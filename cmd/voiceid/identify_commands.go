package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"voiceid/internal/compare"
	"voiceid/internal/config"
	"voiceid/internal/identify"
	"voiceid/internal/matching"
	"voiceid/internal/segments"
)

type episodeFlags struct {
	audio string
	date  string
}

func (f *episodeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.audio, "audio", "a", "", "Episode audio file the diarization refers to")
	cmd.Flags().StringVarP(&f.date, "date", "d", "", "Episode date (YYYY-MM-DD) used for voice print decay; defaults to today")
	_ = cmd.MarkFlagRequired("audio")
}

func (f *episodeFlags) load(path string) (identify.Episode, error) {
	segs, err := segments.ReadFile(path)
	if err != nil {
		return identify.Episode{}, err
	}
	audio, err := config.ExpandPath(strings.TrimSpace(f.audio))
	if err != nil {
		return identify.Episode{}, fmt.Errorf("resolve audio path: %w", err)
	}
	ref, err := parseDate(f.date)
	if err != nil {
		return identify.Episode{}, err
	}
	return identify.Episode{AudioPath: audio, ReferenceDate: ref, Segments: segs}, nil
}

func newIdentifier(ctx *commandContext) (*identify.Identifier, error) {
	store, err := ctx.ensureStore()
	if err != nil {
		return nil, err
	}
	led, err := ctx.optionalLedger()
	if err != nil {
		return nil, err
	}
	cfg := ctx.config
	return identify.New(ctx.registry, store, matching.NewEngine(cfg.Identification.DecayDays, ctx.logger), identify.Options{
		Workers: cfg.Identification.Workers,
		Selection: segments.Selection{
			MaxPerLabel: cfg.Identification.MaxSegmentsPerLabel,
			MinSeconds:  cfg.Identification.MinSegmentSeconds,
		},
		Ledger: led,
		Logger: ctx.logger,
	}), nil
}

func thresholdOrDefault(cmd *cobra.Command, flag float64, cfg *config.Config) (float64, error) {
	if !cmd.Flags().Changed("threshold") {
		return cfg.Identification.Threshold, nil
	}
	if flag < 0 || flag > 1 {
		return 0, fmt.Errorf("threshold must be between 0 and 1, got %v", flag)
	}
	return flag, nil
}

func newIdentifyCommand(ctx *commandContext) *cobra.Command {
	var ep episodeFlags
	var backendFlag string
	var threshold float64
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "identify <diarization.json>",
		Aliases: []string{"match"},
		Short:   "Name the diarized speakers of an episode",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backendID := ctx.backendOrDefault(backendFlag)
			if err := requireKnownBackend(ctx.config, backendID); err != nil {
				return err
			}
			limit, err := thresholdOrDefault(cmd, threshold, ctx.config)
			if err != nil {
				return err
			}
			episode, err := ep.load(args[0])
			if err != nil {
				return err
			}
			identifier, err := newIdentifier(ctx)
			if err != nil {
				return err
			}
			outcomes, err := identifier.Identify(cmd.Context(), episode, backendID, limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, identifyJSON(backendID, episode.ReferenceDate, outcomes))
			}

			out := cmd.OutOrStdout()
			if len(outcomes) == 0 {
				fmt.Fprintln(out, "No identifiable speaker labels in the diarization")
				return nil
			}
			rows := make([][]string, 0, len(outcomes))
			for _, o := range outcomes {
				speaker := "-"
				if o.Decision.SpeakerID != "" {
					speaker = o.Decision.SpeakerID
				}
				decision := string(o.Decision.Kind)
				if o.Err != nil {
					decision = "error: " + o.Status()
				}
				rows = append(rows, []string{o.Label, speaker, formatScore(o.Decision.Confidence), decision, yesNo(o.Decision.Stale)})
			}
			fmt.Fprintln(out, renderTable(out, []string{"Label", "Speaker", "Confidence", "Decision", "Stale"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft}))
			fmt.Fprintf(out, "Backend %s, threshold %.2f, reference date %s\n", backendID, limit, formatDate(episode.ReferenceDate))
			return nil
		},
	}
	ep.register(cmd)
	cmd.Flags().StringVarP(&backendFlag, "backend", "b", "", "Embedding backend (defaults to identification.active_backend)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Auto-assign threshold (defaults to identification.threshold)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

type labelJSON struct {
	Label      string            `json:"label"`
	Assigned   *string           `json:"assigned"`
	Confidence float64           `json:"confidence"`
	Decision   string            `json:"decision"`
	Stale      bool              `json:"stale"`
	Reason     string            `json:"reason"`
	Candidates []matching.Result `json:"candidates"`
	Error      string            `json:"error,omitempty"`
}

func identifyJSON(backendID string, ref time.Time, outcomes []identify.LabelOutcome) map[string]any {
	labels := make([]labelJSON, 0, len(outcomes))
	for _, o := range outcomes {
		entry := labelJSON{
			Label:      o.Label,
			Confidence: o.Decision.Confidence,
			Decision:   string(o.Decision.Kind),
			Stale:      o.Decision.Stale,
			Reason:     o.Decision.Reason,
			Candidates: o.Results,
		}
		if o.Decision.Assigned() {
			name := o.Decision.SpeakerID
			entry.Assigned = &name
		}
		if o.Err != nil {
			entry.Error = o.Err.Error()
		}
		labels = append(labels, entry)
	}
	return map[string]any{
		"backend_id":     backendID,
		"reference_date": formatDate(ref),
		"labels":         labels,
	}
}

func newCompareCommand(ctx *commandContext) *cobra.Command {
	var ep episodeFlags
	var backendsFlag []string
	var threshold float64
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "compare <diarization.json>",
		Short: "Identify an episode under several backends side by side",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backends := backendsFlag
			if len(backends) == 0 {
				backends = ctx.config.BackendIDs()
			}
			for _, id := range backends {
				if err := requireKnownBackend(ctx.config, id); err != nil {
					return err
				}
			}
			limit, err := thresholdOrDefault(cmd, threshold, ctx.config)
			if err != nil {
				return err
			}
			episode, err := ep.load(args[0])
			if err != nil {
				return err
			}
			identifier, err := newIdentifier(ctx)
			if err != nil {
				return err
			}
			table, err := compare.New(identifier, 0, ctx.logger).Compare(cmd.Context(), episode, backends, limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, table.Summaries())
			}

			out := cmd.OutOrStdout()
			headers := append([]string{"Label"}, table.Backends...)
			rows := make([][]string, 0, len(table.Labels))
			for _, label := range table.Labels {
				row := []string{label}
				for _, backendID := range table.Backends {
					cell, _ := table.Cell(label, backendID)
					row = append(row, compareCell(cell))
				}
				rows = append(rows, row)
			}
			fmt.Fprintln(out, renderTable(out, headers, rows, nil))
			return nil
		},
	}
	ep.register(cmd)
	cmd.Flags().StringSliceVarP(&backendsFlag, "backends", "b", nil, "Backends to compare (defaults to every configured backend)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Auto-assign threshold (defaults to identification.threshold)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func compareCell(cell compare.Cell) string {
	switch cell.Status {
	case compare.StatusUnavailable:
		return "unavailable"
	case compare.StatusFailed:
		return "error"
	}
	score := formatScore(cell.Decision.Confidence)
	if cell.Decision.Stale {
		score += ", stale"
	}
	if name := cell.AssignedName(); name != nil {
		return fmt.Sprintf("%s (%s)", *name, score)
	}
	if cell.Decision.SpeakerID != "" {
		return fmt.Sprintf("- (%s %s)", cell.Decision.SpeakerID, score)
	}
	return "-"
}
