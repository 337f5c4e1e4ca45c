package pkg

import (
	"fmt"
	"io"

	"go.uber.org/multierr"
)

// CombinedWriter copies every write to all of its writers, e.g. the log file
// and stdout. A failing writer does not stop the others.
type CombinedWriter struct {
	Writers []io.Writer
}

func NewCombinedWriter(writers ...io.Writer) *CombinedWriter {
	cw := &CombinedWriter{}
	for _, w := range writers {
		if w != nil {
			cw.Writers = append(cw.Writers, w)
		}
	}
	return cw
}

// Write reports len(p) once at least one writer took the whole message,
// together with the errors of the writers that did not.
func (cw *CombinedWriter) Write(p []byte) (int, error) {
	var err error
	delivered := false
	for i, w := range cw.Writers {
		written, werr := w.Write(p)
		if werr == nil && written < len(p) {
			werr = io.ErrShortWrite
		}
		if werr != nil {
			err = multierr.Append(err, fmt.Errorf("writer %d: %w", i, werr))
			continue
		}
		delivered = true
	}

	if !delivered && len(cw.Writers) > 0 {
		return 0, err
	}
	return len(p), err
}
