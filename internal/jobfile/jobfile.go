// Package jobfile parses input job files and discovers them on disk.
//
// A job file has exactly three lines:
//
//	slow dolly-in on a lighthouse at dusk
//	121
//	![lighthouse](https://cdn.example.com/lighthouse.png)
package jobfile

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/maruel/natural"

	"vidmatrix/internal/model"
)

var ErrNoJobs = errors.New("no job files found")

var imageRefPattern = regexp.MustCompile(`!\[[^\]]*\]\(\s*([^)\s]+)\s*\)`)

type ParseError struct {
	Source string
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("%s: %s", e.Source, e.Reason)
	}
	return fmt.Sprintf("%s: line %d: %s", e.Source, e.Line, e.Reason)
}

// Parse turns raw job text into a Job. The same text always yields the same Job or error.
func Parse(sourceID, text string) (model.Job, error) {
	text = strings.TrimPrefix(text, "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}

	fail := func(line int, format string, args ...any) (model.Job, error) {
		return model.Job{}, &ParseError{Source: sourceID, Line: line, Reason: fmt.Sprintf(format, args...)}
	}

	if len(lines) < 3 {
		return fail(0, "expected 3 lines (prompt, frame count, image), got %d", len(lines))
	}
	if len(lines) > 3 {
		return fail(4, "unexpected content after the image line")
	}

	prompt := strings.TrimSpace(lines[0])
	if prompt == "" {
		return fail(1, "prompt is empty")
	}

	rawFrames := strings.TrimSpace(lines[1])
	frames, err := strconv.Atoi(rawFrames)
	if err != nil {
		return fail(2, "frame count %q is not an integer", rawFrames)
	}
	if frames < 1 {
		return fail(2, "frame count must be >= 1, got %d", frames)
	}

	m := imageRefPattern.FindStringSubmatch(lines[2])
	if m == nil {
		return fail(3, "missing image reference in ![alt](URL) form")
	}
	imageURL := m[1]
	if err := validateImageURL(imageURL); err != nil {
		return fail(3, "%v", err)
	}

	return model.Job{
		SourceID:   sourceID,
		Prompt:     prompt,
		FrameCount: frames,
		ImageURL:   imageURL,
	}, nil
}

func validateImageURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("malformed image URL %q: %v", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("image URL %q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("image URL %q has no host", raw)
	}
	return nil
}

// Discover parses every *.md and *.txt file in dir, in natural file name order.
// All parse errors are returned together.
func Discover(dir string) ([]model.Job, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w in %s (directory does not exist)", ErrNoJobs, dir)
		}
		return nil, fmt.Errorf("read input directory %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".md", ".txt":
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoJobs, dir)
	}
	sort.Slice(names, func(i, j int) bool { return natural.Less(names[i], names[j]) })

	var (
		jobs []model.Job
		errs []error
		seen = map[string]string{}
	)
	for _, name := range names {
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		if prev, ok := seen[stem]; ok {
			errs = append(errs, &ParseError{Source: name, Reason: fmt.Sprintf("duplicate job id %q (also %s)", stem, prev)})
			continue
		}
		seen[stem] = name

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("read job file %s: %w", path, err))
			continue
		}
		job, err := Parse(stem, string(data))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		job.SourcePath = path
		jobs = append(jobs, job)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return jobs, nil
}
