package chainexport

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
)

// s3Writer is a struct that provides an io.WriteCloser interface to an S3
// upload by piping writes to an s3manager uploader.
type s3Writer struct {
	writer  io.WriteCloser
	errChan chan error

	exited    bool
	uploadErr error
}

// Assert that *s3Writer implements io.WriteCloser interface.
var _ io.WriteCloser = (*s3Writer)(nil)

// newS3Writer creates a new s3Writer for uploading an object to S3 via a
// WriteCloser interface. Data written will be chunked up and uploaded via
// the S3 multipart upload API.
func newS3Writer(uploader s3manageriface.UploaderAPI,
	options *s3manager.UploadInput) (io.WriteCloser, error) {

	reader, writer := io.Pipe()

	input := *options
	input.Body = reader

	errChan := make(chan error, 1)
	go func() {
		_, err := uploader.Upload(&input)
		// Unblock pending writes if the upload ends before the stream does.
		reader.CloseWithError(err)
		errChan <- err
	}()

	return &s3Writer{writer: writer, errChan: errChan}, nil
}

// Write queues a byte slice to be uploaded to the S3 object location.
func (w *s3Writer) Write(p []byte) (int, error) {
	if !w.exited {
		select {
		case err := <-w.errChan:
			w.exited, w.uploadErr = true, err
		default:
		}
	}
	if w.exited {
		if w.uploadErr != nil {
			return 0, fmt.Errorf("upload exited with error: %v", w.uploadErr)
		}
		return 0, fmt.Errorf("upload already exited")
	}

	return w.writer.Write(p)
}

// Close signals the end of the data stream to the uploader and waits for the
// upload to complete.
func (w *s3Writer) Close() error {
	err := w.writer.Close()
	if err != nil {
		return err
	}

	// Wait for the upload to complete and return any errors.
	if !w.exited {
		w.exited, w.uploadErr = true, <-w.errChan
	}
	return w.uploadErr
}

// RotatingS3Writer returns a WriterFactory that uploads each entity type to
// numbered objects under the key prefix in options, e.g.
// <prefix>blocks-1.jsonl. A new object is started whenever the next record
// would push the current one past objectSizeLimit bytes.
func RotatingS3Writer(uploader s3manageriface.UploaderAPI,
	options *s3manager.UploadInput, objectSizeLimit int) WriterFactory {

	prefix := aws.StringValue(options.Key)
	return func(entity string) (io.WriteCloser, error) {
		var index uint32
		return NewRotatingWriter(func() (io.WriteCloser, error) {
			key := fmt.Sprintf("%s%ss-%d.jsonl", prefix, entity,
				atomic.AddUint32(&index, 1))
			log.Debugf("Starting upload of s3://%s/%s",
				aws.StringValue(options.Bucket), key)

			input := *options
			input.Key = aws.String(key)
			return newS3Writer(uploader, &input)
		}, objectSizeLimit)
	}
}
