// Package matrix runs every job against every profile, one cell at a time, and stops at
// the first failing cell.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"vidmatrix/internal/apperr"
	"vidmatrix/internal/cost"
	"vidmatrix/internal/download"
	"vidmatrix/internal/duration"
	"vidmatrix/internal/generation"
	"vidmatrix/internal/logging"
	"vidmatrix/internal/model"
	"vidmatrix/internal/report"
	"vidmatrix/internal/runstore"
)

const CellLogFile = "generation.log"

// Stages name the step a cell failed in.
const (
	StagePrepare    = "prepare"
	StageCheckpoint = "checkpoint"
	StageGenerate   = "generate"
	StageDownload   = "download"
	StageReport     = "report"
)

type Generator interface {
	Generate(ctx context.Context, req generation.Request, onProgress generation.ProgressFunc) (generation.Result, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, url, dest string, onProgress download.ProgressFunc) (int64, error)
}

type Runner struct {
	Generator Generator
	Fetcher   Fetcher
	Now       func() time.Time
}

type Options struct {
	RunID  string
	RunDir string
	// Resume re-enters RunDir and skips cells already completed there.
	Resume   bool
	Reporter Reporter
	// LogWriter receives every cell log line in addition to the cell's generation.log.
	LogWriter io.Writer
	LogLevel  zerolog.Level
}

// CellError is returned for the cell that aborted a run.
type CellError struct {
	Cell     string
	SourceID string
	Profile  string
	Stage    string
	Err      error
}

func (e *CellError) Error() string {
	return fmt.Sprintf("cell %s failed at %s: %v", e.Cell, e.Stage, e.Err)
}

func (e *CellError) Unwrap() error { return e.Err }

// Run generates jobs x profiles in job-major order. On failure the summary covers the cells
// completed so far and the error is a *CellError.
func (r *Runner) Run(ctx context.Context, jobs []model.Job, profiles []model.Profile, opts Options) (model.RunSummary, error) {
	summary := model.RunSummary{
		RunID:       opts.RunID,
		Total:       len(jobs) * len(profiles),
		OutputDir:   opts.RunDir,
		Adjustments: []model.Adjustment{},
	}
	if strings.TrimSpace(opts.RunDir) == "" {
		return summary, errors.New("run directory is required")
	}
	if summary.Total == 0 {
		return summary, apperr.Input("run", errors.New("nothing to generate: need at least one job and one profile"))
	}
	if err := CheckCellNames(jobs, profiles); err != nil {
		return summary, apperr.Input("run", err)
	}
	if r.Generator == nil || r.Fetcher == nil {
		return summary, errors.New("matrix runner requires a generator and a fetcher")
	}
	rep := opts.Reporter
	if rep == nil {
		rep = Nop{}
	}
	log := zerolog.Ctx(ctx)

	mf, err := r.openManifest(ctx, jobs, profiles, opts)
	if err != nil {
		return summary, err
	}
	if mf.RunID != "" {
		summary.RunID = mf.RunID
	}

	for i := range mf.Cells {
		cell := &mf.Cells[i]
		job := jobs[i/len(profiles)]
		p := profiles[i%len(profiles)]
		info := CellInfo{
			Index:    i + 1,
			Total:    summary.Total,
			Cell:     cell.CellID,
			SourceID: job.SourceID,
			Profile:  p.Name,
		}

		if cell.Status == model.CellCompleted {
			summary.Success++
			summary.Cost = cost.Round4(summary.Cost + cell.Cost)
			if cell.Adjustment != nil {
				summary.Adjustments = append(summary.Adjustments, *cell.Adjustment)
			}
			rep.CellFinished(info, CellOutcome{Status: OutcomeSkipped, Cost: cell.Cost})
			continue
		}
		if err := ctx.Err(); err != nil {
			return summary, apperr.Wrap(apperr.KindInterrupted, "run", err)
		}

		rep.CellStarted(info)
		started := r.now()
		out, stage, err := r.runCell(ctx, opts, &mf, cell, job, p, rep)
		out.Elapsed = r.now().Sub(started)
		if err != nil {
			err = categorize(stage, err)
			cell.LastError = err.Error()
			if tErr := model.TransitionCellStatus(cell, model.CellFailed, stage); tErr != nil {
				log.Warn().Err(tErr).Str("cell", cell.CellID).Msg("could not mark cell failed")
			}
			if saveErr := saveManifest(opts.RunDir, &mf, r.now()); saveErr != nil {
				log.Warn().Err(saveErr).Msg("could not checkpoint failed cell")
			}
			out.Status = OutcomeFailed
			out.Err = err
			rep.CellFinished(info, out)
			log.Error().Err(err).Str("cell", cell.CellID).Str("stage", stage).Msg("cell failed; stopping run")
			return summary, &CellError{Cell: cell.CellID, SourceID: job.SourceID, Profile: p.Name, Stage: stage, Err: err}
		}

		summary.Success++
		summary.Cost = cost.Round4(summary.Cost + cell.Cost)
		if cell.Adjustment != nil {
			summary.Adjustments = append(summary.Adjustments, *cell.Adjustment)
		}
		out.Status = OutcomeCompleted
		rep.CellFinished(info, out)
	}
	log.Info().Int("success", summary.Success).Int("total", summary.Total).Float64("cost", summary.Cost).Msg("run complete")
	return summary, nil
}

func (r *Runner) openManifest(ctx context.Context, jobs []model.Job, profiles []model.Profile, opts Options) (model.CellsManifest, error) {
	log := zerolog.Ctx(ctx)
	mf := newManifest(opts.RunID, jobs, profiles)
	if opts.Resume {
		prior, found, err := loadManifest(opts.RunDir)
		if err != nil {
			return model.CellsManifest{}, err
		}
		if found {
			if mf, err = mergeManifest(mf, prior); err != nil {
				return model.CellsManifest{}, fmt.Errorf("resume %s: %w", opts.RunDir, err)
			}
			if n := resetStaleRunningCells(&mf); n > 0 {
				log.Warn().Int("cells", n).Msg("reset cells left running by an interrupted run")
			}
			missing, err := reconcileCompletedCells(opts.RunDir, &mf)
			if err != nil {
				return model.CellsManifest{}, err
			}
			if len(missing) > 0 {
				log.Warn().Strs("cells", missing).Msg("completed cells lost their video and will be regenerated")
			}
		} else {
			log.Warn().Str("run_dir", opts.RunDir).Msg("no cells.json to resume from; starting every cell")
		}
	}
	if err := saveManifest(opts.RunDir, &mf, r.now()); err != nil {
		return model.CellsManifest{}, err
	}
	return mf, nil
}

func (r *Runner) runCell(ctx context.Context, opts Options, mf *model.CellsManifest, cell *model.Cell, job model.Job, p model.Profile, rep Reporter) (CellOutcome, string, error) {
	var out CellOutcome
	dir := filepath.Join(opts.RunDir, cell.CellID)
	if err := runstore.Mkdir(dir); err != nil {
		return out, StagePrepare, err
	}
	sink, err := logging.OpenFile(filepath.Join(dir, CellLogFile))
	if err != nil {
		return out, StagePrepare, err
	}
	defer sink.Close()
	var w io.Writer = sink
	if opts.LogWriter != nil {
		w = zerolog.MultiLevelWriter(opts.LogWriter, sink)
	}
	log := logging.NewWithWriter(w, opts.LogLevel).With().
		Str("cell", cell.CellID).
		Str("profile", p.Name).
		Logger()
	ctx = log.WithContext(ctx)

	rep.CellPhase("prepare")
	prompt, err := p.EffectivePrompt(job.Prompt)
	if err != nil {
		return out, StagePrepare, apperr.Input("compose prompt", err)
	}
	norm, err := duration.Normalize(job.FrameCount, p.Duration)
	if err != nil {
		return out, StagePrepare, apperr.Config("normalize duration", err)
	}
	price, seconds, err := cost.ForProfile(p, norm.Value)
	if err != nil {
		return out, StagePrepare, apperr.Config("price cell", err)
	}
	adj := norm.Adjustment(job.SourceID, p.Name)
	if adj != nil {
		log.Info().Int("original", adj.Original).Int("adjusted", adj.Adjusted).Str("reason", adj.Reason).Msg("duration adjusted")
	}
	req := generation.Request{
		ModelID:    p.ModelID,
		ImageParam: p.ImageParam,
		ImageURL:   job.ImageURL,
		Prompt:     prompt,
		Parameters: duration.Parameters(p, norm),
	}

	if err := model.TransitionCellStatus(cell, model.CellRunning, ""); err != nil {
		return out, StageCheckpoint, err
	}
	cell.LastError = ""
	cell.LastAttemptAt = r.now().UTC().Format(time.RFC3339)
	cell.Adjustment = adj
	if err := saveManifest(opts.RunDir, mf, r.now()); err != nil {
		return out, StageCheckpoint, err
	}

	log.Info().Str("model", p.ModelID).Int(p.Duration.OutputParam, norm.Value).Float64("estimated_cost", price).Msg("generating")
	rep.CellPhase("generate")
	res, err := r.Generator.Generate(ctx, req, func(status model.PredictionStatus, pct *float64) {
		rep.CellStatus(string(status), pct)
	})
	cell.Attempts += res.Attempts
	cell.PredictionID = res.Prediction.ID
	if err != nil {
		return out, StageGenerate, err
	}
	cell.ResultURL = res.URL

	rep.CellPhase("download")
	videoRel := filepath.Join(cell.CellID, runstore.SafeName(job.SourceID)+".mp4")
	videoPath := filepath.Join(opts.RunDir, videoRel)
	n, err := r.Fetcher.Fetch(ctx, res.URL, videoPath, func(written, total int64) {
		if total <= 0 {
			return
		}
		pct := float64(written) / float64(total) * 100
		rep.CellStatus("downloading", &pct)
	})
	if err != nil {
		return out, StageDownload, err
	}

	rep.CellPhase("report")
	doc := report.CellDoc{
		GeneratedAt:     r.now(),
		Cell:            cell.CellID,
		Job:             job,
		Profile:         p,
		Prompt:          prompt,
		Payload:         generation.BuildPayload(req),
		Normalized:      norm.Value,
		DurationSeconds: seconds,
		Adjustment:      adj,
		PredictionID:    res.Prediction.ID,
		Attempts:        res.Attempts,
		ResultURL:       res.URL,
		VideoPath:       videoPath,
		VideoBytes:      n,
		Cost:            price,
	}
	if err := report.WriteCell(dir, doc); err != nil {
		return out, StageReport, err
	}

	cell.VideoPath = videoRel
	cell.Cost = price
	cell.CompletedAt = r.now().UTC().Format(time.RFC3339)
	if err := model.TransitionCellStatus(cell, model.CellCompleted, ""); err != nil {
		return out, StageCheckpoint, err
	}
	if err := saveManifest(opts.RunDir, mf, r.now()); err != nil {
		return out, StageCheckpoint, err
	}
	log.Info().Str("video", videoPath).Int64("bytes", n).Float64("cost", price).Msg("cell complete")

	out.Cost = price
	out.Bytes = n
	out.VideoPath = videoPath
	return out, "", nil
}

// categorize tags provider and download failures as generation errors unless a more
// specific category is already attached.
func categorize(stage string, err error) error {
	var tagged *apperr.Error
	if errors.As(err, &tagged) {
		return err
	}
	switch stage {
	case StageGenerate, StageDownload:
		return apperr.Generation(stage, err)
	default:
		return err
	}
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}
