package matrix

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vidmatrix/internal/model"
	"vidmatrix/internal/runstore"
)

const cellsSchemaVersion = 1

// CellName is "{source_id}_X_{profile}", made safe for use as a directory name.
func CellName(sourceID, profile string) string {
	return runstore.SafeName(sourceID + "_X_" + profile)
}

// CheckCellNames fails when two cells of the matrix would get the same name, and so the
// same output directory.
func CheckCellNames(jobs []model.Job, profiles []model.Profile) error {
	seen := make(map[string]string, len(jobs)*len(profiles))
	var errs []error
	for _, job := range jobs {
		for _, p := range profiles {
			name := CellName(job.SourceID, p.Name)
			pair := fmt.Sprintf("job %q x profile %q", job.SourceID, p.Name)
			if prev, ok := seen[name]; ok {
				errs = append(errs, fmt.Errorf("cell name %q is shared by %s and %s; rename the job file or profile", name, prev, pair))
				continue
			}
			seen[name] = pair
		}
	}
	return errors.Join(errs...)
}

func newManifest(runID string, jobs []model.Job, profiles []model.Profile) model.CellsManifest {
	mf := model.CellsManifest{
		SchemaVersion: cellsSchemaVersion,
		RunID:         runID,
		Cells:         make([]model.Cell, 0, len(jobs)*len(profiles)),
	}
	for _, job := range jobs {
		for _, p := range profiles {
			cell := model.Cell{
				CellID:   CellName(job.SourceID, p.Name),
				Index:    len(mf.Cells),
				SourceID: job.SourceID,
				Profile:  p.Name,
			}
			_ = model.TransitionCellStatus(&cell, model.CellPending, "")
			mf.Cells = append(mf.Cells, cell)
		}
	}
	recomputeCellCounts(&mf)
	return mf
}

// mergeManifest carries the recorded state of cells that still exist in fresh over from
// prior. Cells that are no longer part of the matrix are dropped.
func mergeManifest(fresh, prior model.CellsManifest) (model.CellsManifest, error) {
	byID := make(map[string]model.Cell, len(prior.Cells))
	for _, c := range prior.Cells {
		byID[c.CellID] = c
	}
	for i := range fresh.Cells {
		old, ok := byID[fresh.Cells[i].CellID]
		if !ok {
			continue
		}
		if !model.IsKnownCellStatus(old.Status) || old.Status == "" {
			return model.CellsManifest{}, fmt.Errorf("cell %s has unknown status %q", old.CellID, old.Status)
		}
		old.Index = fresh.Cells[i].Index
		fresh.Cells[i] = old
	}
	if prior.RunID != "" {
		fresh.RunID = prior.RunID
	}
	recomputeCellCounts(&fresh)
	return fresh, nil
}

func resetStaleRunningCells(mf *model.CellsManifest) int {
	n := 0
	for i := range mf.Cells {
		c := &mf.Cells[i]
		if c.Status != model.CellRunning {
			continue
		}
		_ = model.TransitionCellStatus(c, model.CellFailed, "interrupted_previous_run")
		if c.LastError == "" {
			c.LastError = "previous run interrupted while this cell was running"
		}
		n++
	}
	return n
}

// VideoPath resolves a cell's recorded video against its run directory. Cells store the
// path relative to the run so a run directory can be moved or resumed from anywhere.
func VideoPath(runDir string, c model.Cell) string {
	p := strings.TrimSpace(c.VideoPath)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(runDir, p)
}

// reconcileCompletedCells sends completed cells whose video is gone back to pending.
func reconcileCompletedCells(runDir string, mf *model.CellsManifest) ([]string, error) {
	var missing []string
	for i := range mf.Cells {
		c := &mf.Cells[i]
		if c.Status != model.CellCompleted {
			continue
		}
		if p := VideoPath(runDir, *c); p != "" {
			if _, err := os.Stat(p); err == nil {
				continue
			}
		}
		if err := model.TransitionCellStatus(c, model.CellPending, "missing_local_video"); err != nil {
			return nil, err
		}
		c.CompletedAt = ""
		c.Cost = 0
		c.LastError = "previously completed but the video file is missing"
		missing = append(missing, c.CellID)
	}
	return missing, nil
}

func recomputeCellCounts(mf *model.CellsManifest) {
	pending, running, completed, failed := 0, 0, 0, 0
	for _, c := range mf.Cells {
		switch c.Status {
		case model.CellPending:
			pending++
		case model.CellRunning:
			running++
		case model.CellCompleted:
			completed++
		case model.CellFailed:
			failed++
		}
	}
	mf.Total = len(mf.Cells)
	mf.Pending = pending
	mf.Running = running
	mf.Completed = completed
	mf.Failed = failed
}

func saveManifest(runDir string, mf *model.CellsManifest, now time.Time) error {
	recomputeCellCounts(mf)
	mf.UpdatedAt = now.UTC().Format(time.RFC3339)
	return runstore.WriteJSON(runstore.CellsPath(runDir), mf)
}

func loadManifest(runDir string) (model.CellsManifest, bool, error) {
	path := runstore.CellsPath(runDir)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return model.CellsManifest{}, false, nil
	}
	var mf model.CellsManifest
	if err := runstore.ReadJSON(path, &mf); err != nil {
		return model.CellsManifest{}, false, err
	}
	if mf.SchemaVersion > cellsSchemaVersion {
		return model.CellsManifest{}, false, fmt.Errorf("%s: unsupported schema version %d", path, mf.SchemaVersion)
	}
	return mf, true, nil
}
