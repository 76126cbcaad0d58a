package database

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pmc-monitor/internal/dataframe"
)

// RunArchive is the self-contained record of a run kept on disk, so results
// survive when no database is configured or reachable.
type RunArchive struct {
	Version int `json:"version"`

	CreatedAt time.Time `json:"created_at"`

	RunID          string `json:"run_id"`
	ConfigChecksum string `json:"config_checksum"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	ConfigContent string `json:"config_content"`

	Metadata *RunMetadata                         `json:"metadata"`
	Series   map[int]map[string][]dataframe.Point `json:"series"`
}

func DefaultArchiveDir() string {
	if v := strings.TrimSpace(os.Getenv("PMC_MONITOR_ARCHIVE_DIR")); v != "" {
		return v
	}
	return "archive"
}

// WriteRunArchive writes a gzip-compressed JSON archive to disk atomically.
// It returns the final file path.
func WriteRunArchive(dir string, archive *RunArchive) (string, error) {
	if archive == nil {
		return "", fmt.Errorf("run archive is nil")
	}
	if dir == "" {
		dir = DefaultArchiveDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	checksum := archive.ConfigChecksum
	if checksum == "" {
		checksum = "nocsum"
	}
	name := fmt.Sprintf(
		"run_%s_%s_%s.json.gz",
		archive.RunID,
		archive.CreatedAt.UTC().Format("20060102T150405Z"),
		checksum,
	)
	finalPath := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, name+".tmp.*")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()

	ok := false
	defer func() {
		_ = tmp.Close()
		if !ok {
			_ = os.Remove(tmpPath)
		}
	}()

	gz := gzip.NewWriter(tmp)
	enc := json.NewEncoder(gz)
	enc.SetIndent("", "  ")
	if err := enc.Encode(archive); err != nil {
		_ = gz.Close()
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", err
	}
	ok = true
	return finalPath, nil
}

// ReadRunArchive loads an archive written by WriteRunArchive.
func ReadRunArchive(path string) (*RunArchive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	var archive RunArchive
	if err := json.NewDecoder(gz).Decode(&archive); err != nil {
		return nil, fmt.Errorf("decode run archive %s: %w", path, err)
	}
	return &archive, nil
}

// BuildRunArchive constructs an archive from the in-memory results of a run.
func BuildRunArchive(
	metadata *RunMetadata,
	configContent string,
	frames *dataframe.DataFrames,
	startTime, endTime time.Time,
) *RunArchive {
	archive := &RunArchive{
		Version:       1,
		CreatedAt:     time.Now(),
		StartTime:     startTime,
		EndTime:       endTime,
		ConfigContent: configContent,
		Metadata:      metadata,
	}
	if metadata != nil {
		archive.RunID = metadata.RunID
		archive.ConfigChecksum = metadata.ConfigChecksum
	}
	if frames != nil {
		archive.Series = frames.Snapshot()
	}
	return archive
}
