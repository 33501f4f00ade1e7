package chainexport

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
)

// RotatingFileWriter returns a WriterFactory that writes each entity type to
// numbered files in dir, e.g. blocks-1.jsonl, blocks-2.jsonl. A new file is
// started whenever the next record would push the current one past
// fileSizeLimit bytes.
func RotatingFileWriter(dir string, fileSizeLimit int) WriterFactory {
	return func(entity string) (io.WriteCloser, error) {
		var index uint32
		return NewFileWriter(dir, entity+"s-%d.jsonl", &index, fileSizeLimit)
	}
}

// SingleFileWriter returns a WriterFactory that writes every entity type to
// the file at path, truncating it first.
func SingleFileWriter(path string) WriterFactory {
	return func(string) (io.WriteCloser, error) {
		return os.Create(path)
	}
}

// NewFileWriter returns a RotatingWriter over files named by the filename
// template in dir. The template takes one %d verb which is filled from
// indexPtr, incremented atomically on every rotation.
func NewFileWriter(dir string, filename string, indexPtr *uint32, capacity int,
) (*RotatingWriter, error) {

	filePathTemplate := filepath.Join(dir, filename)
	return NewRotatingWriter(func() (io.WriteCloser, error) {
		index := atomic.AddUint32(indexPtr, 1)
		filePath := fmt.Sprintf(filePathTemplate, index)
		log.Debugf("Opening output file %s", filePath)
		return os.Create(filePath)
	}, capacity)
}
