// Package duration converts an author's frame count into the unit and bounds a profile's
// model accepts.
package duration

import (
	"fmt"
	"maps"

	"vidmatrix/internal/model"
)

// Result is the normalized duration. Value is in the unit of the rule.
type Result struct {
	Type           model.DurationType
	Value          int
	Adjusted       bool
	Reason         string
	OriginalFrames int
	// Original is the pre-clamp value in the rule's unit: frames, or ceil(frames/fps) seconds.
	Original int
	FPS      int
}

func Normalize(frameCount int, rule model.DurationRule) (Result, error) {
	res := Result{Type: rule.Type, OriginalFrames: frameCount, FPS: rule.FPS}
	unit := ""

	switch rule.Type {
	case model.DurationFrames:
		res.Original = frameCount
	case model.DurationSeconds:
		if rule.FPS <= 0 {
			return Result{}, fmt.Errorf("seconds duration requires fps > 0, got %d", rule.FPS)
		}
		res.Original = ceilDiv(frameCount, rule.FPS)
		unit = " seconds"
	default:
		return Result{}, fmt.Errorf("invalid duration type %q", rule.Type)
	}

	res.Value = res.Original
	switch {
	case res.Original < rule.Min:
		res.Value = rule.Min
		res.Adjusted = true
		res.Reason = fmt.Sprintf("below minimum (%d%s)", rule.Min, unit)
	case res.Original > rule.Max:
		res.Value = rule.Max
		res.Adjusted = true
		res.Reason = fmt.Sprintf("exceeded maximum (%d%s)", rule.Max, unit)
	}
	return res, nil
}

// Adjustment returns the record for an adjusted result, or nil.
func (r Result) Adjustment(sourceID, profile string) *model.Adjustment {
	if !r.Adjusted {
		return nil
	}
	adj := &model.Adjustment{
		SourceID:       sourceID,
		Profile:        profile,
		Type:           r.Type,
		OriginalFrames: r.OriginalFrames,
		Original:       r.Original,
		Adjusted:       r.Value,
		Reason:         r.Reason,
	}
	if r.Type == model.DurationSeconds {
		adj.FPS = r.FPS
	}
	return adj
}

// Parameters copies the profile's parameters and adds the normalized duration under the
// rule's output name. fps is added only when the profile's own parameters declare it.
func Parameters(p model.Profile, r Result) map[string]any {
	out := make(map[string]any, len(p.Parameters)+2)
	maps.Copy(out, p.Parameters)
	out[p.Duration.OutputParam] = r.Value
	if _, declared := p.Parameters["fps"]; declared {
		out["fps"] = p.Duration.FPS
	}
	return out
}

func ceilDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a > 0) == (b > 0) {
		q++
	}
	return q
}
