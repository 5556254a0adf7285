// Package artifact stores the binary outputs of a run as one tar.gz file
// per run.
package artifact

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/browserflow/internal/interpret"
)

// ErrNotFound is returned for a run without an archive.
var ErrNotFound = errors.New("artifact archive not found")

// maxEntrySize bounds one extracted entry.
const maxEntrySize = 64 << 20

// Store writes archives under a base directory.
type Store struct {
	dir    string
	logger *zap.Logger
}

// NewStore creates dir if needed.
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	return &Store{dir: dir, logger: logger.With(zap.String("component", "artifact"))}, nil
}

// Path returns where the archive of runID lives.
func (s *Store) Path(runID string) string {
	return filepath.Join(s.dir, runID+".tar.gz")
}

// Archive writes artifacts to the run's archive and returns its path. No
// file is written when there are no artifacts.
func (s *Store) Archive(runID string, artifacts []interpret.Artifact) (string, error) {
	if len(artifacts) == 0 {
		return "", nil
	}
	target := s.Path(runID)
	tmp := target + ".tmp"
	if err := writeArchive(tmp, artifacts); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("archive run %s: %w", runID, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("archive run %s: %w", runID, err)
	}
	s.logger.Debug("artifacts archived", zap.String("run_id", runID), zap.Int("count", len(artifacts)))
	return target, nil
}

func writeArchive(path string, artifacts []interpret.Artifact) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()

	gz := gzip.NewWriter(file)
	tw := tar.NewWriter(gz)
	now := time.Now()
	for i, a := range artifacts {
		name := filepath.Base(a.Name)
		if name == "." || name == "/" || name == "" {
			name = fmt.Sprintf("artifact-%d", i+1)
		}
		hdr := &tar.Header{
			Name:    name,
			Mode:    0o644,
			Size:    int64(len(a.Data)),
			ModTime: now,
			PAXRecords: map[string]string{
				"BROWSERFLOW.mimetype": a.MimeType,
			},
			Format: tar.FormatPAX,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if _, err := tw.Write(a.Data); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

// Open reads the artifacts of runID back.
func (s *Store) Open(runID string) ([]interpret.Artifact, error) {
	file, err := os.Open(s.Path(runID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	defer gz.Close()

	var out []interpret.Artifact
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if hdr.Size > maxEntrySize {
			return nil, fmt.Errorf("archive entry %s too large", hdr.Name)
		}
		data, err := io.ReadAll(io.LimitReader(tr, maxEntrySize))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", hdr.Name, err)
		}
		out = append(out, interpret.Artifact{
			Name:     hdr.Name,
			MimeType: hdr.PAXRecords["BROWSERFLOW.mimetype"],
			Data:     data,
		})
	}
}

// Remove deletes the archive of runID. A missing archive is not an error.
func (s *Store) Remove(runID string) error {
	if err := os.Remove(s.Path(runID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove archive: %w", err)
	}
	return nil
}
