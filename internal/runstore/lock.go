package runstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	lockDirName   = ".vidmatrix.lock"
	lockOwnerFile = "owner.json"
)

var ErrRunLocked = errors.New("run directory is locked by another vidmatrix process")

// RunLock keeps two processes from writing into the same run directory.
type RunLock struct {
	dir string
}

type lockOwner struct {
	PID       int    `json:"pid"`
	RunID     string `json:"run_id,omitempty"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
}

// AcquireRunLock takes the run directory's lock. A lock left behind by a process that no
// longer exists on this host is taken over.
func AcquireRunLock(runDir, runID string) (RunLock, error) {
	target := strings.TrimSpace(runDir)
	if target == "" {
		return RunLock{}, fmt.Errorf("run directory is required")
	}

	dir := filepath.Join(target, lockDirName)
	for attempt := 0; ; attempt++ {
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			break
		}
		if !os.IsExist(err) {
			return RunLock{}, fmt.Errorf("acquire run lock for %s: %w", target, err)
		}
		var owner lockOwner
		if readErr := ReadJSON(filepath.Join(dir, lockOwnerFile), &owner); readErr != nil || owner.PID <= 0 {
			return RunLock{}, fmt.Errorf("%w: %s (remove %s if no run is active)", ErrRunLocked, target, dir)
		}
		if attempt == 0 && owner.Hostname == hostname() && !processAlive(owner.PID) {
			if err := os.RemoveAll(dir); err != nil {
				return RunLock{}, fmt.Errorf("remove stale run lock %s: %w", dir, err)
			}
			continue
		}
		return RunLock{}, fmt.Errorf("%w: %s (pid=%d host=%s since %s; remove %s if that process is gone)",
			ErrRunLocked, target, owner.PID, owner.Hostname, owner.CreatedAt, dir)
	}

	owner := lockOwner{
		PID:       os.Getpid(),
		RunID:     runID,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostname(),
	}
	if err := WriteJSON(filepath.Join(dir, lockOwnerFile), owner); err != nil {
		_ = os.RemoveAll(dir)
		return RunLock{}, fmt.Errorf("write run lock owner for %s: %w", target, err)
	}
	return RunLock{dir: dir}, nil
}

func (l RunLock) Release() error {
	if l.dir == "" {
		return nil
	}
	if err := os.RemoveAll(l.dir); err != nil {
		return fmt.Errorf("release run lock %s: %w", l.dir, err)
	}
	return nil
}

func hostname() string {
	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		return "unknown"
	}
	return strings.TrimSpace(host)
}
