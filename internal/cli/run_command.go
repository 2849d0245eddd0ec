package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vidmatrix/internal/apperr"
	"vidmatrix/internal/config"
	"vidmatrix/internal/download"
	"vidmatrix/internal/generation"
	"vidmatrix/internal/logging"
	"vidmatrix/internal/matrix"
	"vidmatrix/internal/model"
	"vidmatrix/internal/replicate"
	"vidmatrix/internal/report"
	"vidmatrix/internal/runstore"
	"vidmatrix/internal/secrets"
)

const runLogFile = "run.log"

type runOutput struct {
	Status  string           `json:"status"`
	RunDir  string           `json:"run_dir"`
	Summary model.RunSummary `json:"summary"`
	Failure *report.Failure  `json:"failure,omitempty"`
	Reports []string         `json:"reports,omitempty"`
}

func runGenerate(ctx context.Context, args []string) error {
	cfg := config.Load()
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	inputDir := fs.String("input-dir", cfg.InputDir, "directory of job files (*.md, *.txt)")
	profilesDir := fs.String("profiles-dir", cfg.ProfilesDir, "directory of profile files (*.yaml)")
	outputDir := fs.String("output-dir", cfg.OutputDir, "root directory for run directories")
	only := fs.String("profiles", "", "comma-separated profile names to use (default all)")
	resume := fs.String("resume", "", "resume an existing run directory (or \"latest\")")
	progress := fs.Bool("progress", stdoutIsTTY(), "show live progress")
	tui := fs.Bool("tui", false, "show the interactive dashboard (requires a TTY)")
	jsonOut := fs.Bool("json", false, "print JSON output")
	pollInterval := fs.Duration("poll-interval", cfg.PollInterval, "delay between status checks")
	maxWait := fs.Duration("max-wait", cfg.MaxWait, "maximum time to wait for one prediction")
	maxRetries := fs.Int("max-retries", cfg.MaxRetries, "submission attempts per cell")
	rateLimitDelay := fs.Duration("rate-limit-delay", cfg.RateLimitDelay, "wait after a rate-limited submission")
	no1Password := fs.Bool("no-1password", false, "skip 1Password and use REPLICATE_API_TOKEN")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *maxRetries < 1 {
		return apperr.Config("run", fmt.Errorf("--max-retries must be >= 1, got %d", *maxRetries))
	}

	jobs, profiles, err := loadInputs(*inputDir, *profilesDir, splitList(*only))
	if err != nil {
		return err
	}

	bootLog := logging.New(logging.Options{Env: cfg.AppEnv, Level: cfg.LogLevel, Console: stderrIsTTY(), Out: os.Stderr})
	token, err := secrets.Resolve(bootLog.WithContext(ctx), secretsOptions(cfg, *no1Password))
	if err != nil {
		return apperr.Auth("resolve api token", err)
	}
	client, err := replicate.NewClient(replicate.Options{Token: token, BaseURL: cfg.ReplicateBase, RequestTimeout: cfg.HTTPTimeout})
	if err != nil {
		return apperr.Auth("replicate client", err)
	}

	now := time.Now()
	runDir, meta, err := openRunDir(strings.TrimSpace(*outputDir), strings.TrimSpace(*resume), now, profiles)
	if err != nil {
		return err
	}
	meta.InputDir = *inputDir
	meta.ProfilesDir = *profilesDir
	meta.Jobs = jobIDs(jobs)
	meta.Profiles = profileNames(profiles)
	meta.Total = len(jobs) * len(profiles)
	meta.Status = runstore.RunStatusRunning
	meta.FinishedAt = ""
	meta.Error = ""

	lock, err := runstore.AcquireRunLock(runDir, meta.RunID)
	if err != nil {
		return err
	}
	defer func() {
		_ = lock.Release()
	}()

	sink, err := logging.OpenFile(filepath.Join(runDir, runLogFile))
	if err != nil {
		return err
	}
	defer sink.Close()
	useTUI := *tui && stdinIsTTY() && stdoutIsTTY() && !*jsonOut
	logOpts := logging.Options{Env: cfg.AppEnv, Level: cfg.LogLevel, Console: stderrIsTTY(), Out: os.Stderr}
	if useTUI {
		logOpts.Out = io.Discard
		logOpts.Console = false
	}
	logWriter := logging.Writer(logOpts, sink)
	log := logging.NewWithWriter(logWriter, logging.Level(logOpts)).With().Str("run_id", meta.RunID).Logger()
	ctx = log.WithContext(ctx)

	if err := runstore.SaveRunMeta(runDir, meta); err != nil {
		return err
	}
	log.Info().Str("run_dir", runDir).Int("jobs", len(jobs)).Int("profiles", len(profiles)).Bool("resume", *resume != "").Msg("starting run")

	runner := &matrix.Runner{
		Generator: &generation.Generator{
			Provider:       client,
			MaxRetries:     *maxRetries,
			RateLimitDelay: *rateLimitDelay,
			PollInterval:   *pollInterval,
			MaxWait:        *maxWait,
		},
		Fetcher: download.New(cfg.DownloadTimeout, nil),
	}
	opts := matrix.Options{
		RunID:     meta.RunID,
		RunDir:    runDir,
		Resume:    *resume != "",
		LogWriter: logWriter,
		LogLevel:  logging.Level(logOpts),
	}

	var dash *matrix.Dashboard
	switch {
	case useTUI:
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		dash = matrix.NewDashboard("vidmatrix "+filepath.Base(runDir), meta.Total, cancel, os.Stdin, os.Stdout)
		dash.Start()
		opts.Reporter = dash
	case *progress && !*jsonOut:
		opts.Reporter = matrix.NewLineReporter(os.Stdout, stdoutIsTTY())
	}

	summary, runErr := runner.Run(ctx, jobs, profiles, opts)
	if dash != nil {
		if err := dash.Stop(); err != nil {
			log.Warn().Err(err).Msg("dashboard exited with an error")
		}
	}
	summary.OutputDir = runDir

	failure := failureFor(runErr)
	reports, reportErr := report.WriteRun(time.Now(), summary, failure)
	if reportErr != nil {
		log.Error().Err(reportErr).Msg("could not write run reports")
	}

	meta.Success = summary.Success
	meta.Cost = summary.Cost
	meta.FinishedAt = time.Now().UTC().Format(time.RFC3339)
	meta.Status = runstore.RunStatusSucceeded
	if runErr != nil {
		meta.Status = runstore.RunStatusFailed
		meta.Error = runErr.Error()
	}
	if err := runstore.SaveRunMeta(runDir, meta); err != nil {
		log.Error().Err(err).Msg("could not save run metadata")
	}

	if *jsonOut {
		if err := printJSON(runOutput{Status: meta.Status, RunDir: runDir, Summary: summary, Failure: failure, Reports: reports}); err != nil {
			return err
		}
	} else {
		printRunSummary(summary, failure, reports)
	}
	if runErr != nil {
		return runErr
	}
	return reportErr
}

func secretsOptions(cfg config.Config, no1Password bool) secrets.Options {
	opts := secrets.Options{
		Use1Password:   cfg.Use1Password && !no1Password,
		AuthConfigPath: cfg.AuthConfigPath,
		EnvToken:       cfg.ReplicateToken,
	}
	if stdinIsTTY() {
		opts.Stdin = os.Stdin
		opts.Stderr = os.Stderr
	}
	return opts
}

// openRunDir creates a new run directory under root, or re-opens resume ("latest" picks
// the newest run under root).
func openRunDir(root, resume string, now time.Time, profiles []model.Profile) (string, runstore.RunMeta, error) {
	if resume == "" {
		if root == "" {
			return "", runstore.RunMeta{}, apperr.Config("run", errors.New("--output-dir is required"))
		}
		dir, err := runstore.CreateRunDir(root, runstore.RunDirName(now, profileNames(profiles)))
		if err != nil {
			return "", runstore.RunMeta{}, err
		}
		return dir, runstore.RunMeta{
			RunID:     runstore.NewRunID(),
			CreatedAt: now.UTC().Format(time.RFC3339),
		}, nil
	}

	dir := resume
	if resume == "latest" {
		latest, err := runstore.LatestRunDir(root)
		if err != nil {
			return "", runstore.RunMeta{}, apperr.Input("resume", err)
		}
		dir = latest
	}
	meta, err := runstore.LoadRunMeta(dir)
	if err != nil {
		return "", runstore.RunMeta{}, apperr.Input("resume", err)
	}
	if meta.RunID == "" {
		meta.RunID = filepath.Base(dir)
	}
	meta.Resumes++
	return dir, meta, nil
}

func failureFor(err error) *report.Failure {
	if err == nil {
		return nil
	}
	f := &report.Failure{Message: err.Error()}
	var cellErr *matrix.CellError
	if errors.As(err, &cellErr) {
		f.Cell = cellErr.Cell
		f.SourceID = cellErr.SourceID
		f.Profile = cellErr.Profile
		f.Stage = cellErr.Stage
		f.Message = cellErr.Err.Error()
	}
	if apperr.KindOf(err) == apperr.KindInterrupted {
		f.Stage = "interrupted"
	}
	return f
}

func printRunSummary(s model.RunSummary, failure *report.Failure, reports []string) {
	state := "SUCCESS"
	if failure != nil || s.Success < s.Total {
		state = "FAILURE"
	}
	fmt.Printf("run %s: %s\n", s.RunID, state)
	fmt.Printf("  videos: %d/%d\n", s.Success, s.Total)
	fmt.Printf("  cost: $%.4f\n", s.Cost)
	if len(s.Adjustments) > 0 {
		fmt.Printf("  duration adjustments: %d\n", len(s.Adjustments))
	}
	fmt.Printf("  output: %s\n", s.OutputDir)
	if failure != nil {
		if failure.Cell != "" {
			fmt.Printf("  failed cell: %s (%s)\n", failure.Cell, failure.Stage)
		}
		fmt.Printf("  error: %s\n", failure.Message)
		fmt.Printf("  resume: vidmatrix run --resume %s\n", s.OutputDir)
	}
	for _, r := range reports {
		fmt.Printf("  report: %s\n", r)
	}
}
