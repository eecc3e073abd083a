package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// FileName returns the hourly file holding the samples of t,
// "YYYY/MM/DD/HH.csv" in UTC.
func FileName(t time.Time) string {
	return t.UTC().Format("2006/01/02/15") + ".csv"
}

// Store reads a directory of hourly raw files.
type Store struct {
	root string
	log  *slog.Logger
}

// NewStore opens a data directory.
func NewStore(root string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{root: root, log: log}
}

// Path returns the file path for the hour containing t.
func (s *Store) Path(t time.Time) string {
	return filepath.Join(s.root, filepath.FromSlash(FileName(t)))
}

// Backfill delivers every hourly file overlapping [from, to), oldest first.
// Missing hours are skipped.
func (s *Store) Backfill(ctx context.Context, from, to time.Time, h Handler) error {
	files := 0
	for hour := from.UTC().Truncate(time.Hour); hour.Before(to); hour = hour.Add(time.Hour) {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := os.ReadFile(s.Path(hour))
		if errors.Is(err, fs.ErrNotExist) {
			s.log.Debug("backfill_missing", "file", FileName(hour))
			continue
		}
		if err != nil {
			return fmt.Errorf("backfill %s: %w", FileName(hour), err)
		}
		files++
		s.log.Info("backfill_file", "file", FileName(hour), "bytes", len(data))
		if len(data) == 0 {
			continue
		}
		if err := h(ctx, string(data)); err != nil {
			return err
		}
	}
	s.log.Info("backfill_done", "from", from, "to", to, "files", files)
	return nil
}

// Tail follows the hourly files from the hour containing start, delivering
// complete lines appended since offset, and moves on once the next hour's
// file appears. It polls every poll interval until ctx is cancelled.
func (s *Store) Tail(ctx context.Context, start time.Time, offset int64, poll time.Duration, h Handler) error {
	if poll <= 0 {
		poll = time.Second
	}
	hour := start.UTC().Truncate(time.Hour)
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		n, err := s.readFrom(ctx, hour, offset, h)
		if err != nil {
			return err
		}
		offset += n

		next := hour.Add(time.Hour)
		if _, err := os.Stat(s.Path(next)); err == nil {
			// finish the current hour before switching
			n, err := s.readFrom(ctx, hour, offset, h)
			if err != nil {
				return err
			}
			s.log.Info("tail_next_file", "file", FileName(next), "previous_bytes", offset+n)
			hour, offset = next, 0
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// readFrom hands over the complete lines after offset and returns the
// number of bytes consumed.
func (s *Store) readFrom(ctx context.Context, hour time.Time, offset int64, h Handler) (int64, error) {
	f, err := os.Open(s.Path(hour))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return 0, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return 0, err
	}
	end := bytes.LastIndexByte(data, '\n')
	if end < 0 {
		return 0, nil
	}
	if err := h(ctx, string(data[:end+1])); err != nil {
		return 0, err
	}
	return int64(end + 1), nil
}

// Follow is a Source tailing a Store.
type Follow struct {
	Store *Store
	Start time.Time
	Poll  time.Duration
}

// Stream implements Source.
func (f *Follow) Stream(ctx context.Context, h Handler) error {
	return f.Store.Tail(ctx, f.Start, 0, f.Poll, h)
}
