package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"voiceid/internal/ledger"
	"voiceid/internal/voiceprint"
)

func newBuildCommand(ctx *commandContext) *cobra.Command {
	var backendFlag string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "build [speaker...]",
		Short: "Build voice prints from the sample ledger",
		Long: `Build voice prints from the sample ledger.

With no speakers, every speaker in the ledger is rebuilt. Each print is the
mean of the speaker's sample embeddings under one backend and replaces the
previous print atomically.`,
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
			samples, err := selectSamples(cmd.Context(), led, args)
			if err != nil {
				return err
			}
			if len(samples) == 0 {
				return fmt.Errorf("no usable samples in the ledger")
			}

			report := store.BuildAll(cmd.Context(), backendID, samples)
			if jsonOutput {
				if err := writeJSON(cmd, newBuildReportJSON(report)); err != nil {
					return err
				}
			} else {
				printBuildReport(cmd, report)
			}
			if report.Aborted != nil {
				return fmt.Errorf("build aborted: %w", report.Aborted)
			}
			if failures := report.Failures(); len(failures) > 0 && report.Built() == 0 {
				return fmt.Errorf("no voice prints built (%d failures)", len(failures))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&backendFlag, "backend", "b", "", "Embedding backend (defaults to identification.active_backend)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

// selectSamples returns the ledger samples of the named speakers, or of
// everyone when names is empty.
func selectSamples(ctx context.Context, led ledger.Ledger, names []string) (map[string][]ledger.SampleRecord, error) {
	if len(names) == 0 {
		return led.All(ctx)
	}
	out := make(map[string][]ledger.SampleRecord, len(names))
	for _, name := range names {
		speaker := ledger.NormalizeName(name)
		recs, err := led.Samples(ctx, speaker)
		if err != nil {
			return nil, err
		}
		// Kept even when empty so the report shows the speaker as failed.
		out[speaker] = recs
	}
	return out, nil
}

type buildOutcomeJSON struct {
	SpeakerID   string `json:"speaker_id"`
	SampleCount int    `json:"sample_count"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
}

type buildReportJSON struct {
	BackendID string             `json:"backend_id"`
	Built     int                `json:"built"`
	Outcomes  []buildOutcomeJSON `json:"outcomes"`
	Aborted   string             `json:"aborted,omitempty"`
}

func newBuildReportJSON(report voiceprint.BatchReport) buildReportJSON {
	out := buildReportJSON{BackendID: report.BackendID, Built: report.Built(), Outcomes: []buildOutcomeJSON{}}
	for _, o := range report.Outcomes {
		entry := buildOutcomeJSON{SpeakerID: o.SpeakerID, SampleCount: o.SampleCount, Status: o.Status()}
		if o.Err != nil {
			entry.Error = o.Err.Error()
		}
		out.Outcomes = append(out.Outcomes, entry)
	}
	if report.Aborted != nil {
		out.Aborted = report.Aborted.Error()
	}
	return out
}

func printBuildReport(cmd *cobra.Command, report voiceprint.BatchReport) {
	out := cmd.OutOrStdout()
	rows := make([][]string, 0, len(report.Outcomes))
	for _, o := range report.Outcomes {
		detail := ""
		if o.Err != nil {
			detail = o.Err.Error()
		}
		rows = append(rows, []string{o.SpeakerID, strconv.Itoa(o.SampleCount), o.Status(), detail})
	}
	fmt.Fprintln(out, renderTable(out, []string{"Speaker", "Samples", "Status", "Detail"}, rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft}))
	fmt.Fprintf(out, "Built %d of %d voice prints for %s\n", report.Built(), len(report.Outcomes), report.BackendID)
}
