// Package report writes the per-cell and per-run documentation of a generation run.
package report

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"vidmatrix/internal/model"
	"vidmatrix/internal/runstore"
)

const (
	CellPayloadFile = "generation_payload.json"
	CellReportFile  = "VIDEO_REPORT.md"
)

type CellDoc struct {
	GeneratedAt     time.Time
	Cell            string
	Job             model.Job
	Profile         model.Profile
	Prompt          string
	Payload         map[string]any
	Normalized      int
	DurationSeconds int
	Adjustment      *model.Adjustment
	PredictionID    string
	Attempts        int
	ResultURL       string
	VideoPath       string
	VideoBytes      int64
	Cost            float64
}

type cellPayload struct {
	Timestamp      string             `json:"timestamp"`
	Cell           string             `json:"cell"`
	Model          string             `json:"model"`
	ProfileName    string             `json:"profile_name"`
	DurationConfig model.DurationRule `json:"duration_config"`
	Request        map[string]any     `json:"request"`
	Response       cellResponse       `json:"response"`
	Source         cellSource         `json:"source"`
	Cost           float64            `json:"cost"`
	Adjustment     *model.Adjustment  `json:"duration_adjustment,omitempty"`
}

type cellResponse struct {
	PredictionID string `json:"prediction_id"`
	Attempts     int    `json:"attempts"`
	VideoURL     string `json:"video_url"`
	LocalPath    string `json:"local_path"`
	Bytes        int64  `json:"bytes"`
}

type cellSource struct {
	SourceID   string `json:"source_id"`
	File       string `json:"file,omitempty"`
	FrameCount int    `json:"frame_count"`
	ImageURL   string `json:"image_url"`
}

// WriteCell writes generation_payload.json and VIDEO_REPORT.md into dir.
func WriteCell(dir string, doc CellDoc) error {
	payload := cellPayload{
		Timestamp:      doc.GeneratedAt.Format(time.RFC3339),
		Cell:           doc.Cell,
		Model:          doc.Profile.ModelID,
		ProfileName:    doc.Profile.Name,
		DurationConfig: doc.Profile.Duration,
		Request:        doc.Payload,
		Response: cellResponse{
			PredictionID: doc.PredictionID,
			Attempts:     doc.Attempts,
			VideoURL:     doc.ResultURL,
			LocalPath:    doc.VideoPath,
			Bytes:        doc.VideoBytes,
		},
		Source: cellSource{
			SourceID:   doc.Job.SourceID,
			File:       doc.Job.SourcePath,
			FrameCount: doc.Job.FrameCount,
			ImageURL:   doc.Job.ImageURL,
		},
		Cost:       doc.Cost,
		Adjustment: doc.Adjustment,
	}
	if err := runstore.WriteJSON(filepath.Join(dir, CellPayloadFile), payload); err != nil {
		return err
	}
	return runstore.WriteBytes(filepath.Join(dir, CellReportFile), []byte(renderCell(doc)))
}

func renderCell(doc CellDoc) string {
	var b strings.Builder
	p := doc.Profile
	rule := p.Duration

	b.WriteString("# Video Generation Report\n\n")
	b.WriteString("## Generation Details\n")
	fmt.Fprintf(&b, "- **Generated**: %s\n", doc.GeneratedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "- **Cell**: %s\n", doc.Cell)
	fmt.Fprintf(&b, "- **Profile**: %s (%s)\n", p.Name, p.Nickname)
	fmt.Fprintf(&b, "- **Model**: %s\n", p.ModelID)
	fmt.Fprintf(&b, "- **Prediction**: %s (%d submission attempt(s))\n", doc.PredictionID, doc.Attempts)
	fmt.Fprintf(&b, "- **Cost**: $%.4f\n\n", doc.Cost)

	b.WriteString("## Input Data\n\n")
	b.WriteString("### Motion Prompt\n```\n")
	b.WriteString(doc.Prompt)
	b.WriteString("\n```\n\n")
	b.WriteString("### Source Image\n")
	fmt.Fprintf(&b, "- **URL**: %s\n\n", doc.Job.ImageURL)

	b.WriteString("### Duration\n")
	fmt.Fprintf(&b, "- **Original Frames**: %d\n", doc.Job.FrameCount)
	if adj := doc.Adjustment; adj != nil {
		switch adj.Type {
		case model.DurationSeconds:
			fmt.Fprintf(&b, "- **Converted to Seconds**: %ds (at %d fps)\n", adj.Original, adj.FPS)
			fmt.Fprintf(&b, "- **Adjusted Duration**: %ds\n", adj.Adjusted)
		default:
			fmt.Fprintf(&b, "- **Adjusted Frames**: %d (was %d)\n", adj.Adjusted, adj.Original)
		}
		fmt.Fprintf(&b, "- **Adjustment Reason**: %s\n", adj.Reason)
	}
	fmt.Fprintf(&b, "- **Requested**: %d %s as `%s`\n", doc.Normalized, rule.Type, rule.OutputParam)
	fmt.Fprintf(&b, "- **Billed Seconds**: %d\n", doc.DurationSeconds)
	fmt.Fprintf(&b, "- **FPS**: %d\n", rule.FPS)
	fmt.Fprintf(&b, "- **Duration Type**: %s\n\n", rule.Type)

	b.WriteString("## Generation Parameters\n\n")
	keys := make([]string, 0, len(doc.Payload))
	for k := range doc.Payload {
		if k == "prompt" || k == p.ImageParam {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		b.WriteString("_none_\n")
	}
	for _, k := range keys {
		fmt.Fprintf(&b, "- **%s**: %v\n", k, doc.Payload[k])
	}

	b.WriteString("\n## Output Files\n")
	fmt.Fprintf(&b, "- **Video**: `%s`\n", filepath.Base(doc.VideoPath))
	fmt.Fprintf(&b, "- **Video Size**: %.2f MB\n", float64(doc.VideoBytes)/(1024*1024))
	fmt.Fprintf(&b, "- **Video URL**: %s\n", doc.ResultURL)
	if doc.Job.SourcePath != "" {
		b.WriteString("\n## Source Files\n")
		fmt.Fprintf(&b, "- **Job**: %s\n", filepath.Base(doc.Job.SourcePath))
	}
	return b.String()
}
