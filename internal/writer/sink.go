package writer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/klauspost/compress/gzip"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/524D/mzexport/internal/config"
)

// ErrSinkWrite is wrapped by all failures to create or write the
// output destination.
var ErrSinkWrite = errors.New("writer: output sink failure")

// Sink is a single conversion output destination: a local file or an
// object in an S3 compatible bucket, optionally wrapped in a gzip
// stream. Nothing is created before Open, and Close is idempotent.
type Sink struct {
	cfg  *config.Config
	name string
	gzip bool

	w        io.Writer
	file     *os.File
	gz       *gzip.Writer
	pipe     *io.PipeWriter
	uploaded chan error
	opened   bool
	closed   atomic.Bool
}

// newSink resolves the destination name for the given extension.
// Gzip wrapping is dropped when the format needs byte positions in
// the final file.
func newSink(cfg *config.Config, ext string, allowGzip bool) *Sink {
	s := &Sink{cfg: cfg, gzip: cfg.Gzip && allowGzip}
	name := cfg.OutputFile
	if name == "" {
		name = filepath.Join(cfg.OutputDirectory, SourceBase(cfg.SourcePath)+ext)
	}
	if s.gzip {
		name += ".gzip"
	}
	s.name = name
	return s
}

// newMetadataSink resolves the destination of the run metadata file.
// Metadata files are small and never gzip wrapped.
func newMetadataSink(cfg *config.Config, ext string) *Sink {
	var name string
	if cfg.OutputFile != "" {
		base := strings.TrimSuffix(cfg.OutputFile, filepath.Ext(cfg.OutputFile))
		name = base + ext
	} else {
		name = filepath.Join(cfg.OutputDirectory, SourceBase(cfg.SourcePath)+ext)
	}
	return &Sink{cfg: cfg, name: name}
}

// SourceBase returns the source file name without directory and
// without data format extensions.
func SourceBase(path string) string {
	base := filepath.Base(path)
	lower := strings.ToLower(base)
	for _, ext := range []string{".gz", ".gzip"} {
		if strings.HasSuffix(lower, ext) {
			base = base[:len(base)-len(ext)]
			lower = lower[:len(lower)-len(ext)]
		}
	}
	for _, ext := range []string{".mzml", ".raw"} {
		if strings.HasSuffix(lower, ext) {
			return base[:len(base)-len(ext)]
		}
	}
	return base
}

// Path returns the resolved output path, or the object name for
// remote uploads.
func (s *Sink) Path() string {
	return s.name
}

// Open creates the destination and returns the stream to write to.
// Opening an already open sink returns the existing stream, so a
// second destination can never be created.
func (s *Sink) Open(ctx context.Context) (io.Writer, error) {
	if s.opened {
		return s.w, nil
	}
	if s.cfg.Remote != nil {
		if err := s.openRemote(ctx); err != nil {
			return nil, err
		}
	} else {
		f, err := os.Create(s.name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSinkWrite, err)
		}
		s.file = f
		s.w = f
	}
	if s.gzip {
		s.gz = gzip.NewWriter(s.w)
		s.w = s.gz
	}
	s.opened = true
	return s.w, nil
}

// endpointHost splits the scheme off an S3 endpoint URL. Endpoints
// given without a scheme default to TLS.
func endpointHost(endpoint string) (host string, secure bool) {
	if strings.HasPrefix(endpoint, "https://") {
		return strings.TrimPrefix(endpoint, "https://"), true
	}
	if strings.HasPrefix(endpoint, "http://") {
		return strings.TrimPrefix(endpoint, "http://"), false
	}
	return endpoint, true
}

// openRemote connects the sink to an S3 compatible bucket. The
// object is streamed through a pipe while the conversion writes, the
// upload result is collected on Close.
func (s *Sink) openRemote(ctx context.Context) error {
	r := s.cfg.Remote
	endpoint, secure := endpointHost(r.EndpointURL)
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(r.AccessKey, r.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSinkWrite, err)
	}

	pr, pw := io.Pipe()
	s.pipe = pw
	s.uploaded = make(chan error, 1)
	object := filepath.Base(s.name)
	go func() {
		_, err := client.PutObject(ctx, r.Bucket, object, pr, -1,
			minio.PutObjectOptions{ContentType: "application/octet-stream"})
		pr.CloseWithError(err)
		s.uploaded <- err
	}()
	s.w = pw
	return nil
}

// Close flushes and releases the destination. Only the first call
// does anything, an unopened sink closes without side effects.
func (s *Sink) Close() error {
	if !s.opened || !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: %v", ErrSinkWrite, err)
		}
	}
	if s.gz != nil {
		keep(s.gz.Close())
	}
	if s.pipe != nil {
		keep(s.pipe.Close())
		keep(<-s.uploaded)
	}
	if s.file != nil {
		keep(s.file.Close())
	}
	return firstErr
}
