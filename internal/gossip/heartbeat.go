package gossip

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// HeartbeatFile persists the local heartbeat so a restarted node resumes
// counting above the value its peers last saw.
type HeartbeatFile struct {
	path string
}

// NewHeartbeatFile returns the heartbeat file for node name inside dir.
func NewHeartbeatFile(dir, name string) *HeartbeatFile {
	return &HeartbeatFile{path: filepath.Join(dir, name+".heartbeat")}
}

// Load returns the stored heartbeat, or 0 when none has been written.
func (h *HeartbeatFile) Load() (uint64, error) {
	data, err := os.ReadFile(h.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	hb, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse heartbeat file %s: %w", h.path, err)
	}
	return hb, nil
}

// Save overwrites the stored heartbeat.
func (h *HeartbeatFile) Save(hb uint64) error {
	return os.WriteFile(h.path, []byte(strconv.FormatUint(hb, 10)), 0o644)
}
