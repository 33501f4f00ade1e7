package chainexport

import (
	"io"
	"os"
)

// WriterFactory opens the output stream for one entity type, e.g. "block".
type WriterFactory func(entity string) (io.WriteCloser, error)

// RotatingWriter is used to write to a backing writer that is rotated once a
// size limit would be exceeded. This is used to write to different files or
// objects with an approximate size limit and start a new one when that limit
// is reached.
type RotatingWriter struct {
	openWriter func() (io.WriteCloser, error)
	capacity   int

	size   int
	writer io.WriteCloser
}

// NewRotatingWriter constructs a new RotatingWriter which uses the openWriter
// parameter function to generate a new backing writer each time it is
// rotated. A capacity of 0 disables rotation.
func NewRotatingWriter(openWriter func() (io.WriteCloser, error), capacity int,
) (*RotatingWriter, error) {

	w := &RotatingWriter{openWriter: openWriter, capacity: capacity}
	err := w.RotateWriter()
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Write writes p to the backing writer, rotating first if p would push a
// non-empty backing writer past its capacity. A single write is never split.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	if w.capacity > 0 && w.size > 0 && w.size+len(p) > w.capacity {
		if err := w.RotateWriter(); err != nil {
			return 0, err
		}
	}

	n, err := w.writer.Write(p)
	w.size += n
	return n, err
}

// BytesWritten returns the total number of bytes written to the current
// backing writer. This is reset each time the writer is rotated.
func (w *RotatingWriter) BytesWritten() int {
	return w.size
}

// RotateWriter closes the current backing writer and opens a new one,
// resetting the count of bytes written.
func (w *RotatingWriter) RotateWriter() error {
	if w.writer != nil {
		err := w.Close()
		if err != nil {
			return err
		}
	}

	writer, err := w.openWriter()
	if err != nil {
		return err
	}

	w.writer = writer
	return nil
}

// Close closes the current backing writer.
func (w *RotatingWriter) Close() error {
	if w.writer == nil {
		return nil
	}
	err := w.writer.Close()
	if err != nil {
		return err
	}

	w.size = 0
	w.writer = nil
	return nil
}

// StdoutWriter returns a WriterFactory that writes every entity type to
// standard output. Closing the returned writers syncs but does not close
// stdout.
func StdoutWriter() WriterFactory {
	return func(string) (io.WriteCloser, error) {
		return stdoutCloser{}, nil
	}
}

type stdoutCloser struct{}

func (stdoutCloser) Write(p []byte) (int, error) {
	return os.Stdout.Write(p)
}

func (stdoutCloser) Close() error {
	// Sync fails on pipes and terminals; there is nothing to flush then.
	_ = os.Stdout.Sync()
	return nil
}
