package model

import "fmt"

type PredictionStatus string

const (
	PredictionStarting   PredictionStatus = "starting"
	PredictionProcessing PredictionStatus = "processing"
	PredictionSucceeded  PredictionStatus = "succeeded"
	PredictionFailed     PredictionStatus = "failed"
	PredictionCanceled   PredictionStatus = "canceled"
)

// IsTerminal reports whether no further status change is expected.
func (s PredictionStatus) IsTerminal() bool {
	switch s {
	case PredictionSucceeded, PredictionFailed, PredictionCanceled:
		return true
	default:
		return false
	}
}

var predictionTransitions = map[PredictionStatus]map[PredictionStatus]bool{
	"": {
		PredictionStarting:   true,
		PredictionProcessing: true,
		PredictionSucceeded:  true,
		PredictionFailed:     true,
		PredictionCanceled:   true,
	},
	PredictionStarting: {
		PredictionStarting:   true,
		PredictionProcessing: true,
		PredictionSucceeded:  true,
		PredictionFailed:     true,
		PredictionCanceled:   true,
	},
	PredictionProcessing: {
		PredictionProcessing: true,
		PredictionSucceeded:  true,
		PredictionFailed:     true,
		PredictionCanceled:   true,
	},
	PredictionSucceeded: {PredictionSucceeded: true},
	PredictionFailed:    {PredictionFailed: true},
	PredictionCanceled:  {PredictionCanceled: true},
}

func IsKnownPredictionStatus(s PredictionStatus) bool {
	_, ok := predictionTransitions[s]
	return ok && s != ""
}

func CanTransitionPrediction(from, to PredictionStatus) bool {
	next, ok := predictionTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

const (
	CellPending   = "pending"
	CellRunning   = "running"
	CellCompleted = "completed"
	CellFailed    = "failed"
)

var cellTransitions = map[string]map[string]bool{
	"": {
		CellPending: true,
	},
	CellPending: {
		CellPending: true,
		CellRunning: true,
	},
	CellRunning: {
		CellRunning:   true,
		CellCompleted: true,
		CellFailed:    true, // also used to reset cells left running by an interrupted run
	},
	CellCompleted: {
		CellCompleted: true,
		CellPending:   true, // video file missing on resume
	},
	CellFailed: {
		CellFailed:  true,
		CellRunning: true, // resumed run retries the cell
		CellPending: true,
	},
}

func IsKnownCellStatus(status string) bool {
	_, ok := cellTransitions[status]
	return ok
}

func CanTransitionCell(from, to string) bool {
	next, ok := cellTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

func TransitionCellStatus(cell *Cell, toStatus string, reason string) error {
	from := cell.Status
	if !CanTransitionCell(from, toStatus) {
		return fmt.Errorf("invalid cell status transition: %q -> %q (cell_id=%s)", from, toStatus, cell.CellID)
	}
	cell.Status = toStatus
	cell.Reason = reason
	return nil
}
