package runstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/maruel/natural"
)

const tempPrefix = ".vidmatrix-tmp-*"

// RunMeta is the run.json document at the root of each run directory.
type RunMeta struct {
	RunID       string   `json:"run_id"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at,omitempty"`
	FinishedAt  string   `json:"finished_at,omitempty"`
	Status      string   `json:"status"`
	InputDir    string   `json:"input_dir"`
	ProfilesDir string   `json:"profiles_dir"`
	Jobs        []string `json:"jobs"`
	Profiles    []string `json:"profiles"`
	Total       int      `json:"total"`
	Success     int      `json:"success"`
	Cost        float64  `json:"cost"`
	Error       string   `json:"error,omitempty"`
	Resumes     int      `json:"resumes,omitempty"`
}

const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

func NewRunID() string {
	return uuid.NewString()
}

// RunDirName is YYMMDD_HHMMSS_<profile> for a single profile and YYMMDD_HHMMSS_VIDEO otherwise.
func RunDirName(now time.Time, profiles []string) string {
	suffix := "VIDEO"
	if len(profiles) == 1 {
		suffix = SafeName(profiles[0])
	}
	return now.Format("060102_150405") + "_" + suffix
}

// CreateRunDir makes a fresh run directory under root, adding a numeric suffix on collision.
func CreateRunDir(root, name string) (string, error) {
	if err := Mkdir(root); err != nil {
		return "", err
	}
	candidate := filepath.Join(root, name)
	for i := 2; ; i++ {
		err := os.Mkdir(candidate, 0o755)
		if err == nil {
			return candidate, nil
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("create run directory %s: %w", candidate, err)
		}
		if i > 1000 {
			return "", fmt.Errorf("create run directory %s: too many collisions", name)
		}
		candidate = filepath.Join(root, fmt.Sprintf("%s_%d", name, i))
	}
}

// SafeName replaces path separators and other characters that are awkward in file names.
func SafeName(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|':
			b.WriteByte('-')
		case r < 0x20:
			continue
		default:
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), ". ")
	if out == "" {
		return "unnamed"
	}
	return out
}

func Mkdir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	return nil
}

func WriteBytes(path string, data []byte) error {
	_, err := WriteStream(path, bytes.NewReader(data))
	return err
}

// WriteStream copies r into path through a temp file in the same directory and renames it
// into place, so readers never observe a partial file.
func WriteStream(path string, r io.Reader) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create parent for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix)
	if err != nil {
		return 0, fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpPath)
	}

	n, err := io.Copy(tmp, r)
	if err != nil {
		_ = tmp.Close()
		cleanup()
		return n, fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		cleanup()
		return n, fmt.Errorf("chmod temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return n, fmt.Errorf("close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return n, fmt.Errorf("atomic rename for %s: %w", path, err)
	}
	return n, nil
}

func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON for %s: %w", path, err)
	}
	data = append(data, '\n')
	return WriteBytes(path, data)
}

func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse JSON %s: %w", path, err)
	}
	return nil
}

func RunMetaPath(runDir string) string {
	return filepath.Join(runDir, "run.json")
}

func CellsPath(runDir string) string {
	return filepath.Join(runDir, "cells.json")
}

func LoadRunMeta(runDir string) (RunMeta, error) {
	var meta RunMeta
	if err := ReadJSON(RunMetaPath(runDir), &meta); err != nil {
		return RunMeta{}, err
	}
	return meta, nil
}

func SaveRunMeta(runDir string, meta RunMeta) error {
	meta.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return WriteJSON(RunMetaPath(runDir), meta)
}

// ListRunDirs returns the directories under root that contain a run.json, in name order.
func ListRunDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read output directory %s: %w", root, err)
	}

	dirs := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if _, err := os.Stat(RunMetaPath(dir)); err == nil {
			dirs = append(dirs, dir)
		}
	}
	sort.Slice(dirs, func(i, j int) bool { return natural.Less(dirs[i], dirs[j]) })
	return dirs, nil
}

func LatestRunDir(root string) (string, error) {
	dirs, err := ListRunDirs(root)
	if err != nil {
		return "", err
	}
	if len(dirs) == 0 {
		return "", fmt.Errorf("no run directories found in %s", root)
	}
	return dirs[len(dirs)-1], nil
}
