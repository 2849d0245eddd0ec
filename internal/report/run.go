package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vidmatrix/internal/cost"
	"vidmatrix/internal/model"
	"vidmatrix/internal/runstore"
)

const (
	SuccessFile      = "SUCCESS.md"
	FailureFile      = "FAILURE.md"
	CostReportFile   = "cost_report.md"
	AdjustmentsFile  = "ADJUSTMENTS.md"
	SummaryFile      = "summary.json"
	CostEstimateFile = "cost_estimate.md"
)

// Failure describes the cell that aborted a run.
type Failure struct {
	Cell     string `json:"cell,omitempty"`
	SourceID string `json:"source_id,omitempty"`
	Profile  string `json:"profile,omitempty"`
	Stage    string `json:"stage,omitempty"`
	Message  string `json:"message"`
}

type summaryDoc struct {
	model.RunSummary
	Failed      int      `json:"failed"`
	GeneratedAt string   `json:"generated_at"`
	Failure     *Failure `json:"failure,omitempty"`
}

// WriteRun writes the run-level documents. It returns the paths written.
func WriteRun(now time.Time, summary model.RunSummary, failure *Failure) ([]string, error) {
	dir := summary.OutputDir
	var written []string
	write := func(name string, data []byte) error {
		path := filepath.Join(dir, name)
		if err := runstore.WriteBytes(path, data); err != nil {
			return err
		}
		written = append(written, path)
		return nil
	}

	statusFile, staleFile, statusBody := SuccessFile, FailureFile, renderSuccess(now, summary)
	if failure != nil || summary.Success < summary.Total {
		statusFile, staleFile, statusBody = FailureFile, SuccessFile, renderFailure(now, summary, failure)
	}
	// A resumed run replaces the outcome of the previous attempt.
	if err := removeIfExists(filepath.Join(dir, staleFile)); err != nil {
		return written, err
	}
	if err := write(statusFile, []byte(statusBody)); err != nil {
		return written, err
	}
	if err := write(CostReportFile, []byte(renderCostReport(now, summary))); err != nil {
		return written, err
	}
	if len(summary.Adjustments) > 0 {
		if err := write(AdjustmentsFile, []byte(renderAdjustments(summary))); err != nil {
			return written, err
		}
	} else if err := removeIfExists(filepath.Join(dir, AdjustmentsFile)); err != nil {
		return written, err
	}

	doc := summaryDoc{
		RunSummary:  summary,
		Failed:      summary.Total - summary.Success,
		GeneratedAt: now.UTC().Format(time.RFC3339),
		Failure:     failure,
	}
	if doc.Adjustments == nil {
		doc.Adjustments = []model.Adjustment{}
	}
	path := filepath.Join(dir, SummaryFile)
	if err := runstore.WriteJSON(path, doc); err != nil {
		return written, err
	}
	return append(written, path), nil
}

func avgCost(s model.RunSummary) float64 {
	if s.Success == 0 {
		return 0
	}
	return s.Cost / float64(s.Success)
}

func renderSummaryBlock(b *strings.Builder, now time.Time, s model.RunSummary) {
	b.WriteString("## Summary\n")
	fmt.Fprintf(b, "- **Date**: %s\n", now.Format("2006-01-02 15:04:05"))
	if s.RunID != "" {
		fmt.Fprintf(b, "- **Run ID**: %s\n", s.RunID)
	}
	fmt.Fprintf(b, "- **Total Videos**: %d\n", s.Total)
	fmt.Fprintf(b, "- **Successful**: %d\n", s.Success)
	fmt.Fprintf(b, "- **Failed or Not Attempted**: %d\n", s.Total-s.Success)
	fmt.Fprintf(b, "- **Total Cost**: $%.2f\n\n", s.Cost)
	b.WriteString("## Output Location\n")
	b.WriteString(s.OutputDir)
	b.WriteString("\n\n## Cost Breakdown\n")
	fmt.Fprintf(b, "- Videos generated: %d\n", s.Success)
	fmt.Fprintf(b, "- Average cost per video: $%.2f\n", avgCost(s))
	fmt.Fprintf(b, "- Total cost: $%.2f\n\n", s.Cost)
}

func renderSuccess(now time.Time, s model.RunSummary) string {
	var b strings.Builder
	b.WriteString("# Video Generation Report - SUCCESS\n\n")
	renderSummaryBlock(&b, now, s)
	b.WriteString("## Status\nAll videos generated successfully.\n")
	return b.String()
}

func renderFailure(now time.Time, s model.RunSummary, f *Failure) string {
	var b strings.Builder
	b.WriteString("# Video Generation Report - FAILURE\n\n")
	renderSummaryBlock(&b, now, s)
	b.WriteString("## Status\n")
	fmt.Fprintf(&b, "%d/%d videos were not generated. The run stopped at the first failing cell.\n\n", s.Total-s.Success, s.Total)
	if f != nil {
		b.WriteString("## Failure\n")
		if f.Cell != "" {
			fmt.Fprintf(&b, "- **Cell**: %s\n", f.Cell)
			fmt.Fprintf(&b, "- **Job**: %s\n", f.SourceID)
			fmt.Fprintf(&b, "- **Profile**: %s\n", f.Profile)
		}
		if f.Stage != "" {
			fmt.Fprintf(&b, "- **Stage**: %s\n", f.Stage)
		}
		fmt.Fprintf(&b, "- **Error**: %s\n\n", f.Message)
	}
	b.WriteString("## Next Steps\n")
	b.WriteString("1. Check run.log and the failing cell's generation.log\n")
	b.WriteString("2. Verify the profile configuration\n")
	b.WriteString("3. Confirm API access and quotas\n")
	b.WriteString("4. Re-run with `vidmatrix run --resume " + s.OutputDir + "` to skip completed cells\n")
	return b.String()
}

func renderCostReport(now time.Time, s model.RunSummary) string {
	var b strings.Builder
	b.WriteString("# Cost Report\n\n")
	b.WriteString("## Video Generation Costs\n\n")
	b.WriteString("| Metric | Value |\n|--------|-------|\n")
	fmt.Fprintf(&b, "| Videos Generated | %d |\n", s.Success)
	fmt.Fprintf(&b, "| Average Cost per Video | $%.4f |\n", avgCost(s))
	fmt.Fprintf(&b, "| **Total Cost** | **$%.4f** |\n\n", s.Cost)
	b.WriteString("## Generation Time\n")
	fmt.Fprintf(&b, "- Report generated: %s\n\n", now.Format("2006-01-02 15:04:05"))
	b.WriteString("## Notes\n")
	b.WriteString("- Cost is cost_per_second times the billed output duration in whole seconds\n")
	b.WriteString("- Failed attempts are not counted\n")
	b.WriteString("- Costs are in USD\n")
	return b.String()
}

func renderAdjustments(s model.RunSummary) string {
	var frames, seconds []model.Adjustment
	for _, a := range s.Adjustments {
		if a.Type == model.DurationSeconds {
			seconds = append(seconds, a)
		} else {
			frames = append(frames, a)
		}
	}

	var b strings.Builder
	b.WriteString("# Duration Adjustments Report\n\n")
	b.WriteString("## Summary\n")
	fmt.Fprintf(&b, "- Total cells in run: %d\n", s.Total)
	fmt.Fprintf(&b, "- Cells with adjustments: %d\n\n", len(s.Adjustments))
	b.WriteString("## Adjustments Detail\n")
	if len(frames) > 0 {
		b.WriteString("\n### Frame-Based Adjustments\n")
		for _, a := range frames {
			fmt.Fprintf(&b, "\n#### %s\n", a.SourceID)
			fmt.Fprintf(&b, "- Profile: %s\n", a.Profile)
			fmt.Fprintf(&b, "- Original: %d frames\n", a.Original)
			fmt.Fprintf(&b, "- Adjusted: %d frames\n", a.Adjusted)
			fmt.Fprintf(&b, "- Reason: %s\n", a.Reason)
		}
	}
	if len(seconds) > 0 {
		b.WriteString("\n### Second-Based Adjustments\n")
		for _, a := range seconds {
			fmt.Fprintf(&b, "\n#### %s\n", a.SourceID)
			fmt.Fprintf(&b, "- Profile: %s\n", a.Profile)
			fmt.Fprintf(&b, "- Original: %d frames (%ds at %d fps)\n", a.OriginalFrames, a.Original, a.FPS)
			fmt.Fprintf(&b, "- Adjusted: %d seconds\n", a.Adjusted)
			fmt.Fprintf(&b, "- Reason: %s\n", a.Reason)
		}
	}
	return b.String()
}

// WriteEstimate writes cost_estimate.md into dir and returns its path.
func WriteEstimate(dir string, now time.Time, est cost.Estimate, profiles []model.Profile) (string, error) {
	models := map[string]string{}
	for _, p := range profiles {
		models[p.Name] = p.ModelID
	}

	var b strings.Builder
	b.WriteString("# Cost Estimation Report\n\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", now.Format("2006-01-02 15:04:05"))
	b.WriteString("## Input Summary\n\n")
	fmt.Fprintf(&b, "- **Jobs:** %d\n", est.Jobs)
	fmt.Fprintf(&b, "- **Profiles:** %d\n", est.Profiles)
	fmt.Fprintf(&b, "- **Videos:** %d\n", est.Videos)
	fmt.Fprintf(&b, "- **Billed Seconds:** %d\n\n", est.Seconds)

	b.WriteString("## Cells\n\n")
	b.WriteString("| Job | Profile | Frames | Requested | Seconds | Cost | Adjustment |\n")
	b.WriteString("|-----|---------|--------|-----------|---------|------|------------|\n")
	for _, l := range est.Lines {
		fmt.Fprintf(&b, "| %s | %s | %d | %d %s | %d | $%.4f | %s |\n",
			l.SourceID, l.Profile, l.Frames, l.Normalized, l.Unit, l.Seconds, l.Cost, dashIfEmpty(l.Reason))
	}

	b.WriteString("\n## Cost by Profile\n\n")
	b.WriteString("| Profile | Model | Cost/Second | Videos | Seconds | Total Cost | Avg Cost/Video |\n")
	b.WriteString("|---------|-------|-------------|--------|---------|------------|----------------|\n")
	for _, t := range est.Totals {
		avg := 0.0
		if t.Videos > 0 {
			avg = t.Cost / float64(t.Videos)
		}
		fmt.Fprintf(&b, "| %s | %s | $%.4f | %d | %d | **$%.4f** | $%.4f |\n",
			t.Profile, models[t.Profile], t.CostPerSecond, t.Videos, t.Seconds, t.Cost, avg)
	}
	fmt.Fprintf(&b, "| **TOTAL** | | | %d | %d | **$%.4f** | |\n", est.Videos, est.Seconds, est.Cost)

	b.WriteString("\n## Notes\n\n")
	b.WriteString("- Durations are normalized against each profile's bounds before pricing\n")
	b.WriteString("- This is an estimate; failed or retried generations may change the actual cost\n")

	path := filepath.Join(dir, CostEstimateFile)
	if err := runstore.WriteBytes(path, []byte(b.String())); err != nil {
		return "", err
	}
	return path, nil
}

func dashIfEmpty(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}
