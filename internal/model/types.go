package model

// Job is one parsed input file: a prompt, a source image and the author's frame count.
type Job struct {
	SourceID   string `json:"source_id"`
	SourcePath string `json:"source_path,omitempty"`
	Prompt     string `json:"prompt"`
	FrameCount int    `json:"frame_count"`
	ImageURL   string `json:"image_url"`
}

type DurationType string

const (
	DurationFrames  DurationType = "frames"
	DurationSeconds DurationType = "seconds"
)

// DurationRule describes the unit and bounds a profile's model accepts.
type DurationRule struct {
	Type        DurationType `json:"duration_type"`
	FPS         int          `json:"fps"`
	Min         int          `json:"duration_min"`
	Max         int          `json:"duration_max"`
	OutputParam string       `json:"duration_param_name"`
}

type Pricing struct {
	CostPerSecond float64 `json:"cost_per_second"`
}

// Profile is a validated generation configuration. Parameters is shared and must be
// copied before it is modified.
type Profile struct {
	Name         string         `json:"name"`
	Nickname     string         `json:"nickname,omitempty"`
	SourcePath   string         `json:"source_path,omitempty"`
	ModelID      string         `json:"model_id"`
	Pricing      Pricing        `json:"pricing"`
	Duration     DurationRule   `json:"duration"`
	Parameters   map[string]any `json:"params"`
	ImageParam   string         `json:"image_param_name"`
	PromptPrefix string         `json:"prompt_prefix,omitempty"`
	PromptSuffix string         `json:"prompt_suffix,omitempty"`
}

// Adjustment records that normalization changed the requested duration of a cell.
type Adjustment struct {
	SourceID       string       `json:"source_id"`
	Profile        string       `json:"profile_name"`
	Type           DurationType `json:"type"`
	OriginalFrames int          `json:"original_frames"`
	Original       int          `json:"original"`
	Adjusted       int          `json:"adjusted"`
	FPS            int          `json:"fps,omitempty"`
	Reason         string       `json:"reason"`
}

// Prediction is the provider's view of a remote generation job.
type Prediction struct {
	ID       string           `json:"id"`
	Status   PredictionStatus `json:"status"`
	Output   any              `json:"output,omitempty"`
	Error    string           `json:"error,omitempty"`
	Logs     string           `json:"logs,omitempty"`
	Progress *float64         `json:"progress,omitempty"` // fraction in [0,1] when the provider reports one
}

// RunSummary is the contract between the orchestrator and the reporting layer.
type RunSummary struct {
	RunID       string       `json:"run_id,omitempty"`
	Total       int          `json:"total"`
	Success     int          `json:"success"`
	Cost        float64      `json:"cost"`
	OutputDir   string       `json:"output_dir"`
	Adjustments []Adjustment `json:"adjustments"`
}

// CellsManifest is the per-run checkpoint written after every cell transition.
type CellsManifest struct {
	SchemaVersion int    `json:"schema_version"`
	RunID         string `json:"run_id"`
	UpdatedAt     string `json:"updated_at"`
	Total         int    `json:"total"`
	Pending       int    `json:"pending"`
	Running       int    `json:"running"`
	Completed     int    `json:"completed"`
	Failed        int    `json:"failed"`
	Cells         []Cell `json:"cells"`
}

type Cell struct {
	CellID        string      `json:"cell_id"`
	Index         int         `json:"index"`
	SourceID      string      `json:"source_id"`
	Profile       string      `json:"profile"`
	Status        string      `json:"status"`
	Reason        string      `json:"reason,omitempty"`
	Attempts      int         `json:"attempts,omitempty"`
	PredictionID  string      `json:"prediction_id,omitempty"`
	ResultURL     string      `json:"result_url,omitempty"`
	VideoPath     string      `json:"video_path,omitempty"`
	Cost          float64     `json:"cost,omitempty"`
	Adjustment    *Adjustment `json:"adjustment,omitempty"`
	LastError     string      `json:"last_error,omitempty"`
	LastAttemptAt string      `json:"last_attempt_at,omitempty"`
	CompletedAt   string      `json:"completed_at,omitempty"`
}
