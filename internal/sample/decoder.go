package sample

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"strings"
)

// maxLineBytes bounds a single raw line (a full line is ~1.3 KB)
const maxLineBytes = 64 * 1024

// Decoder reads samples from a stream of raw lines. Header lines and blank
// lines are skipped; malformed lines are logged, counted and skipped.
type Decoder struct {
	sc      *bufio.Scanner
	log     *slog.Logger
	line    int
	skipped int
}

// NewDecoder creates a Decoder reading CRLF or LF separated lines.
func NewDecoder(r io.Reader, log *slog.Logger) *Decoder {
	if log == nil {
		log = slog.Default()
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLineBytes)
	return &Decoder{sc: sc, log: log}
}

// Next returns the next sample, or io.EOF when the stream is exhausted.
func (d *Decoder) Next() (Sample, error) {
	for d.sc.Scan() {
		d.line++
		text := strings.TrimRight(d.sc.Text(), "\r")
		if strings.TrimSpace(text) == "" || IsHeader(text) {
			continue
		}
		s, err := ParseLine(text)
		if err != nil {
			d.skipped++
			d.log.Warn("sample_skipped", "line", d.line, "error", err)
			continue
		}
		return s, nil
	}
	if err := d.sc.Err(); err != nil {
		return Sample{}, err
	}
	return Sample{}, io.EOF
}

// Skipped returns the number of malformed lines seen so far.
func (d *Decoder) Skipped() int {
	return d.skipped
}

// ReadAll decodes every sample from r.
func ReadAll(r io.Reader, log *slog.Logger) ([]Sample, error) {
	d := NewDecoder(r, log)
	var out []Sample
	for {
		s, err := d.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, s)
	}
}

// Parse decodes a block of raw data as delivered by a file read or a live
// push message.
func Parse(data string, log *slog.Logger) ([]Sample, error) {
	return ReadAll(strings.NewReader(data), log)
}
