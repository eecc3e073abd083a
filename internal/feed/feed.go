// Package feed delivers blocks of raw monitor lines from files, Kafka or
// any reader to a handler.
package feed

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
)

// Handler consumes a block of complete raw lines.
type Handler func(ctx context.Context, data string) error

// Source streams raw data until its input ends, the context is cancelled or
// the handler fails. Cancellation is not an error.
type Source interface {
	Stream(ctx context.Context, h Handler) error
}

// maxBatchLines bounds how many already-buffered lines Reader hands over
// in one block.
const maxBatchLines = 3600

// Reader streams lines from an io.Reader such as stdin. Lines that are
// already buffered are delivered together so a piped file is ingested in
// large blocks while a live pipe is delivered line by line.
type Reader struct {
	r   io.Reader
	log *slog.Logger
}

// NewReader wraps r.
func NewReader(r io.Reader, log *slog.Logger) *Reader {
	if log == nil {
		log = slog.Default()
	}
	return &Reader{r: r, log: log}
}

// Stream implements Source.
func (r *Reader) Stream(ctx context.Context, h Handler) error {
	br := bufio.NewReaderSize(r.r, 256*1024)
	var block strings.Builder
	lines := 0

	flush := func() error {
		if lines == 0 {
			return nil
		}
		data := block.String()
		block.Reset()
		lines = 0
		return h(ctx, data)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		line, err := br.ReadString('\n')
		if line != "" {
			block.WriteString(line)
			if !strings.HasSuffix(line, "\n") {
				block.WriteByte('\n')
			}
			lines++
		}
		if errors.Is(err, io.EOF) {
			r.log.Debug("reader_eof")
			return flush()
		}
		if err != nil {
			return err
		}
		if br.Buffered() == 0 || lines >= maxBatchLines {
			if err := flush(); err != nil {
				return err
			}
		}
	}
}
