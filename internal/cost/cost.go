// Package cost prices generated video by its duration in seconds.
package cost

import (
	"fmt"
	"math"

	"vidmatrix/internal/duration"
	"vidmatrix/internal/model"
)

// DurationSeconds converts a normalized duration to whole seconds. Frames are floored.
func DurationSeconds(value int, rule model.DurationRule) (int, error) {
	switch rule.Type {
	case model.DurationFrames:
		if rule.FPS <= 0 {
			return 0, fmt.Errorf("frames duration requires fps > 0, got %d", rule.FPS)
		}
		return value / rule.FPS, nil
	case model.DurationSeconds:
		return value, nil
	default:
		return 0, fmt.Errorf("invalid duration type %q", rule.Type)
	}
}

// Calculate returns costPerSecond*seconds rounded to 4 decimals. Invalid inputs mean a
// validated profile was bypassed, so they fail.
func Calculate(costPerSecond float64, seconds int) (float64, error) {
	if math.IsNaN(costPerSecond) || math.IsInf(costPerSecond, 0) || costPerSecond < 0 {
		return 0, fmt.Errorf("invalid cost_per_second %v", costPerSecond)
	}
	if seconds < 0 {
		return 0, fmt.Errorf("invalid duration %d seconds", seconds)
	}
	return Round4(costPerSecond * float64(seconds)), nil
}

func Round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// ForProfile prices a normalized duration under p's pricing and duration rule.
func ForProfile(p model.Profile, normalized int) (float64, int, error) {
	seconds, err := DurationSeconds(normalized, p.Duration)
	if err != nil {
		return 0, 0, fmt.Errorf("profile %s: %w", p.Name, err)
	}
	c, err := Calculate(p.Pricing.CostPerSecond, seconds)
	if err != nil {
		return 0, 0, fmt.Errorf("profile %s: %w", p.Name, err)
	}
	return c, seconds, nil
}

type EstimateLine struct {
	SourceID   string             `json:"source_id"`
	Profile    string             `json:"profile"`
	Frames     int                `json:"frames"`
	Normalized int                `json:"normalized"`
	Unit       model.DurationType `json:"unit"`
	Seconds    int                `json:"seconds"`
	Cost       float64            `json:"cost"`
	Adjusted   bool               `json:"adjusted"`
	Reason     string             `json:"reason,omitempty"`
}

type ProfileTotal struct {
	Profile       string  `json:"profile"`
	CostPerSecond float64 `json:"cost_per_second"`
	Videos        int     `json:"videos"`
	Seconds       int     `json:"seconds"`
	Cost          float64 `json:"cost"`
}

type Estimate struct {
	Jobs     int            `json:"jobs"`
	Profiles int            `json:"profiles"`
	Videos   int            `json:"videos"`
	Lines    []EstimateLine `json:"lines"`
	Totals   []ProfileTotal `json:"totals"`
	Seconds  int            `json:"seconds"`
	Cost     float64        `json:"cost"`
}

// EstimateMatrix prices every job/profile cell without calling the provider.
func EstimateMatrix(jobs []model.Job, profiles []model.Profile) (Estimate, error) {
	est := Estimate{Jobs: len(jobs), Profiles: len(profiles), Videos: len(jobs) * len(profiles)}
	totals := make([]ProfileTotal, len(profiles))
	for i, p := range profiles {
		totals[i] = ProfileTotal{Profile: p.Name, CostPerSecond: p.Pricing.CostPerSecond}
	}

	for _, job := range jobs {
		for i, p := range profiles {
			res, err := duration.Normalize(job.FrameCount, p.Duration)
			if err != nil {
				return Estimate{}, fmt.Errorf("%s_X_%s: %w", job.SourceID, p.Name, err)
			}
			c, seconds, err := ForProfile(p, res.Value)
			if err != nil {
				return Estimate{}, err
			}
			est.Lines = append(est.Lines, EstimateLine{
				SourceID:   job.SourceID,
				Profile:    p.Name,
				Frames:     job.FrameCount,
				Normalized: res.Value,
				Unit:       p.Duration.Type,
				Seconds:    seconds,
				Cost:       c,
				Adjusted:   res.Adjusted,
				Reason:     res.Reason,
			})
			totals[i].Videos++
			totals[i].Seconds += seconds
			totals[i].Cost = Round4(totals[i].Cost + c)
			est.Seconds += seconds
			est.Cost = Round4(est.Cost + c)
		}
	}
	est.Totals = totals
	return est, nil
}
