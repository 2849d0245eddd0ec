package cli

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"vidmatrix/internal/apperr"
	"vidmatrix/internal/config"
	"vidmatrix/internal/cost"
	"vidmatrix/internal/jobfile"
	"vidmatrix/internal/matrix"
	"vidmatrix/internal/model"
	"vidmatrix/internal/profile"
	"vidmatrix/internal/report"
	"vidmatrix/internal/runstore"
)

// loadInputs parses every job and profile and checks that every cell gets its own name.
// Job errors win over profile errors so a user fixes the input files first.
func loadInputs(inputDir, profilesDir string, only []string) ([]model.Job, []model.Profile, error) {
	jobs, err := jobfile.Discover(strings.TrimSpace(inputDir))
	if err != nil {
		return nil, nil, apperr.Input("load jobs", err)
	}
	profiles, err := profile.Load(strings.TrimSpace(profilesDir))
	if err != nil {
		return nil, nil, apperr.Config("load profiles", err)
	}
	profiles, err = selectProfiles(profiles, only)
	if err != nil {
		return nil, nil, apperr.Config("select profiles", err)
	}
	if err := matrix.CheckCellNames(jobs, profiles); err != nil {
		return nil, nil, apperr.Input("check cell names", err)
	}
	return jobs, profiles, nil
}

// selectProfiles keeps the named profiles in the order given. An empty list keeps all.
func selectProfiles(all []model.Profile, names []string) ([]model.Profile, error) {
	if len(names) == 0 {
		return all, nil
	}
	byName := make(map[string]model.Profile, len(all))
	for _, p := range all {
		byName[p.Name] = p
	}
	out := make([]model.Profile, 0, len(names))
	seen := map[string]bool{}
	for _, n := range names {
		p, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("unknown profile %q", n)
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, p)
	}
	return out, nil
}

func profileNames(profiles []model.Profile) []string {
	names := make([]string, len(profiles))
	for i, p := range profiles {
		names[i] = p.Name
	}
	return names
}

func jobIDs(jobs []model.Job) []string {
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.SourceID
	}
	return ids
}

type validateOutput struct {
	OK       bool     `json:"ok"`
	Jobs     []string `json:"jobs"`
	Profiles []string `json:"profiles"`
	Cells    int      `json:"cells"`
	Error    string   `json:"error,omitempty"`
}

func runValidate(args []string) error {
	cfg := config.Load()
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	inputDir := fs.String("input-dir", cfg.InputDir, "directory of job files (*.md, *.txt)")
	profilesDir := fs.String("profiles-dir", cfg.ProfilesDir, "directory of profile files (*.yaml)")
	only := fs.String("profiles", "", "comma-separated profile names to use (default all)")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	jobs, profiles, err := loadInputs(*inputDir, *profilesDir, splitList(*only))
	if *jsonOut {
		out := validateOutput{OK: err == nil, Jobs: jobIDs(jobs), Profiles: profileNames(profiles), Cells: len(jobs) * len(profiles)}
		if err != nil {
			out.Error = err.Error()
		}
		if printErr := printJSON(out); printErr != nil {
			return printErr
		}
		return err
	}
	if err != nil {
		return err
	}
	fmt.Printf("jobs: %d (%s)\n", len(jobs), strings.Join(jobIDs(jobs), ", "))
	fmt.Printf("profiles: %d (%s)\n", len(profiles), strings.Join(profileNames(profiles), ", "))
	fmt.Printf("cells: %d\n", len(jobs)*len(profiles))
	fmt.Println("validate: all inputs are valid")
	return nil
}

type estimateOutput struct {
	cost.Estimate
	Report string `json:"report,omitempty"`
}

func runEstimate(args []string) error {
	cfg := config.Load()
	fs := flag.NewFlagSet("estimate", flag.ContinueOnError)
	inputDir := fs.String("input-dir", cfg.InputDir, "directory of job files (*.md, *.txt)")
	profilesDir := fs.String("profiles-dir", cfg.ProfilesDir, "directory of profile files (*.yaml)")
	outputDir := fs.String("output-dir", cfg.OutputDir, "directory for cost_estimate.md")
	only := fs.String("profiles", "", "comma-separated profile names to use (default all)")
	noReport := fs.Bool("no-report", false, "do not write cost_estimate.md")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	jobs, profiles, err := loadInputs(*inputDir, *profilesDir, splitList(*only))
	if err != nil {
		return err
	}
	est, err := cost.EstimateMatrix(jobs, profiles)
	if err != nil {
		return apperr.Config("estimate", err)
	}

	out := estimateOutput{Estimate: est}
	if !*noReport {
		dir := strings.TrimSpace(*outputDir)
		if dir == "" {
			return errors.New("--output-dir is required unless --no-report is set")
		}
		if err := runstore.Mkdir(dir); err != nil {
			return err
		}
		path, err := report.WriteEstimate(dir, time.Now(), est, profiles)
		if err != nil {
			return err
		}
		out.Report = path
	}
	if *jsonOut {
		return printJSON(out)
	}

	for _, l := range est.Lines {
		note := ""
		if l.Adjusted {
			note = "  (" + l.Reason + ")"
		}
		fmt.Printf("%s_X_%s: %d frames -> %d %s, %ds, $%.4f%s\n", l.SourceID, l.Profile, l.Frames, l.Normalized, l.Unit, l.Seconds, l.Cost, note)
	}
	fmt.Println("by profile")
	for _, t := range est.Totals {
		fmt.Printf("  %s: %d videos, %ds, $%.4f\n", t.Profile, t.Videos, t.Seconds, t.Cost)
	}
	fmt.Printf("total: %d videos, %ds, $%.4f\n", est.Videos, est.Seconds, est.Cost)
	if out.Report != "" {
		fmt.Printf("report: %s\n", out.Report)
	}
	return nil
}
