// Package generation drives one remote prediction from submission to a result URL.
//
// Submission is retried with backoff; polling is not. Both honor ctx cancellation.
package generation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"vidmatrix/internal/apperr"
	"vidmatrix/internal/model"
)

const (
	DefaultMaxRetries     = 3
	DefaultRateLimitDelay = 60 * time.Second
	DefaultPollInterval   = 3 * time.Second
	DefaultMaxWait        = 20 * time.Minute

	CancelTimeout = 10 * time.Second
)

var (
	ErrSubmissionFailed   = errors.New("submission failed")
	ErrTimeout            = errors.New("timed out waiting for prediction")
	ErrStatusReload       = errors.New("prediction status reload failed")
	ErrPredictionFailed   = errors.New("prediction failed")
	ErrPredictionCanceled = errors.New("prediction canceled")
	ErrResultShape        = errors.New("no usable result URL in prediction output")
)

// Provider is the remote inference API.
type Provider interface {
	Submit(ctx context.Context, modelID string, input map[string]any) (model.Prediction, error)
	Reload(ctx context.Context, id string) (model.Prediction, error)
}

// Canceler is implemented by providers that can stop a running prediction.
type Canceler interface {
	Cancel(ctx context.Context, id string) error
}

// ProgressFunc is called on every poll iteration. pct is nil when no percentage is known.
type ProgressFunc func(status model.PredictionStatus, pct *float64)

type Request struct {
	ModelID    string
	ImageParam string
	ImageURL   string
	Prompt     string
	Parameters map[string]any
}

// BuildPayload returns {image: url, prompt: prompt, ...parameters}. Parameters win on key clashes.
func BuildPayload(r Request) map[string]any {
	imageParam := strings.TrimSpace(r.ImageParam)
	if imageParam == "" {
		imageParam = "image"
	}
	payload := make(map[string]any, len(r.Parameters)+2)
	payload[imageParam] = r.ImageURL
	payload["prompt"] = r.Prompt
	for k, v := range r.Parameters {
		payload[k] = v
	}
	return payload
}

type Generator struct {
	Provider       Provider
	MaxRetries     int
	RateLimitDelay time.Duration
	PollInterval   time.Duration
	MaxWait        time.Duration

	// Sleep and Now default to real time.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

type Result struct {
	Prediction model.Prediction
	URL        string
	Attempts   int
}

// Generate submits req, polls it to a terminal state and extracts the result URL.
func (g *Generator) Generate(ctx context.Context, req Request, onProgress ProgressFunc) (Result, error) {
	pred, attempts, err := g.Submit(ctx, req)
	if err != nil {
		return Result{Attempts: attempts}, err
	}
	final, url, err := g.Poll(ctx, pred, onProgress)
	return Result{Prediction: final, URL: url, Attempts: attempts}, err
}

type outcome int

const (
	submitted outcome = iota
	rateLimited
	transient
	fatal
)

func (o outcome) String() string {
	switch o {
	case submitted:
		return "submitted"
	case rateLimited:
		return "rate_limited"
	case transient:
		return "transient"
	default:
		return "fatal"
	}
}

func classify(err error) outcome {
	switch {
	case err == nil:
		return submitted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, apperr.ErrUnauthorized):
		return fatal
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate") {
		return rateLimited
	}
	return transient
}

// Submit creates the prediction, retrying up to MaxRetries attempts. It returns the
// number of attempts made.
func (g *Generator) Submit(ctx context.Context, req Request) (model.Prediction, int, error) {
	log := zerolog.Ctx(ctx)
	payload := BuildPayload(req)
	maxAttempts := g.maxRetries()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		log.Debug().Int("attempt", attempt).Int("max_attempts", maxAttempts).Str("model", req.ModelID).Msg("submitting prediction")

		pred, err := g.Provider.Submit(ctx, req.ModelID, payload)
		if err == nil && strings.TrimSpace(pred.ID) == "" {
			err = errors.New("provider returned a prediction without id")
		}
		out := classify(err)

		var wait time.Duration
		switch out {
		case submitted:
			log.Info().Str("prediction_id", pred.ID).Int("attempt", attempt).Msg("prediction created")
			return pred, attempt, nil
		case fatal:
			return model.Prediction{}, attempt, fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
		case rateLimited:
			wait = g.rateLimitDelay()
		case transient:
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}
		lastErr = err

		if attempt == maxAttempts {
			log.Error().Err(err).Int("attempt", attempt).Str("outcome", out.String()).Msg("submission attempts exhausted")
			break
		}
		log.Warn().Err(err).Int("attempt", attempt).Str("outcome", out.String()).Dur("wait", wait).Msg("submission failed, retrying")
		if err := g.sleep(ctx, wait); err != nil {
			return model.Prediction{}, attempt, err
		}
	}
	return model.Prediction{}, maxAttempts, fmt.Errorf("%w after %d attempts: %w", ErrSubmissionFailed, maxAttempts, lastErr)
}

// Poll reloads pred until it reaches a terminal status. The first check is immediate.
func (g *Generator) Poll(ctx context.Context, pred model.Prediction, onProgress ProgressFunc) (model.Prediction, string, error) {
	log := zerolog.Ctx(ctx).With().Str("prediction_id", pred.ID).Logger()
	now := g.now
	start := now()
	maxWait := g.maxWait()
	last := pred.Status

	for {
		if elapsed := now().Sub(start); elapsed > maxWait {
			log.Error().Dur("elapsed", elapsed).Str("last_status", string(last)).Msg("prediction timed out")
			g.cancelRemote(ctx, pred.ID)
			return pred, "", fmt.Errorf("%w: %s after %s (last status %q)", ErrTimeout, pred.ID, maxWait, last)
		}

		cur, err := g.Provider.Reload(ctx, pred.ID)
		if err != nil {
			if ctx.Err() != nil {
				g.cancelRemote(ctx, pred.ID)
				return pred, "", ctx.Err()
			}
			return pred, "", fmt.Errorf("%w: %s: %w", ErrStatusReload, pred.ID, err)
		}
		if cur.ID == "" {
			cur.ID = pred.ID
		}
		pred = cur

		if pred.Status != last {
			if !model.IsKnownPredictionStatus(pred.Status) || !model.CanTransitionPrediction(last, pred.Status) {
				log.Warn().Str("from", string(last)).Str("to", string(pred.Status)).Msg("unexpected prediction status transition")
			} else {
				log.Info().Str("from", string(last)).Str("to", string(pred.Status)).Msg("prediction status changed")
			}
			last = pred.Status
		}

		if onProgress != nil {
			onProgress(pred.Status, ExtractProgress(pred))
		}

		switch pred.Status {
		case model.PredictionSucceeded:
			url, err := ExtractURL(pred.Output)
			if err != nil {
				return pred, "", fmt.Errorf("prediction %s: %w", pred.ID, err)
			}
			return pred, url, nil
		case model.PredictionFailed:
			return pred, "", fmt.Errorf("%w: %s: %s", ErrPredictionFailed, pred.ID, reasonOrUnknown(pred.Error))
		case model.PredictionCanceled:
			if strings.TrimSpace(pred.Error) != "" {
				return pred, "", fmt.Errorf("%w: %s: %s", ErrPredictionCanceled, pred.ID, pred.Error)
			}
			return pred, "", fmt.Errorf("%w: %s", ErrPredictionCanceled, pred.ID)
		}

		if err := g.sleep(ctx, g.pollInterval()); err != nil {
			g.cancelRemote(ctx, pred.ID)
			return pred, "", err
		}
	}
}

// cancelRemote stops an abandoned prediction when the provider supports it. ctx may already
// be canceled, so the request runs on a detached context with its own deadline.
func (g *Generator) cancelRemote(ctx context.Context, id string) {
	c, ok := g.Provider.(Canceler)
	if !ok || strings.TrimSpace(id) == "" {
		return
	}
	log := zerolog.Ctx(ctx)
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), CancelTimeout)
	defer cancel()
	if err := c.Cancel(cctx, id); err != nil {
		log.Warn().Err(err).Str("prediction_id", id).Msg("could not cancel remote prediction")
		return
	}
	log.Info().Str("prediction_id", id).Msg("canceled remote prediction")
}

func reasonOrUnknown(reason string) string {
	if strings.TrimSpace(reason) == "" {
		return "no reason given"
	}
	return strings.TrimSpace(reason)
}

func (g *Generator) sleep(ctx context.Context, d time.Duration) error {
	if g.Sleep != nil {
		return g.Sleep(ctx, d)
	}
	return SleepContext(ctx, d)
}

func (g *Generator) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g *Generator) maxRetries() int {
	if g.MaxRetries > 0 {
		return g.MaxRetries
	}
	return DefaultMaxRetries
}

func (g *Generator) rateLimitDelay() time.Duration {
	if g.RateLimitDelay > 0 {
		return g.RateLimitDelay
	}
	return DefaultRateLimitDelay
}

func (g *Generator) pollInterval() time.Duration {
	if g.PollInterval > 0 {
		return g.PollInterval
	}
	return DefaultPollInterval
}

func (g *Generator) maxWait() time.Duration {
	if g.MaxWait > 0 {
		return g.MaxWait
	}
	return DefaultMaxWait
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
