// Package checksum hashes readers and files with BLAKE2b and verifies
// checksum lists. Files are read through an afero.Fs and hashed concurrently,
// one hasher per file.
package checksum

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/b2js/blake2/blake2b"
)

// ErrMismatch is reported for a file whose digest differs from the list.
var ErrMismatch = errors.New("checksum mismatch")

// Result is the outcome of hashing one file.
type Result struct {
	Path   string
	Digest []byte
	Err    error
}

// Verdict is the outcome of checking one list entry.
type Verdict struct {
	Path string
	OK   bool
	// Err is ErrMismatch for a wrong digest, or the read error.
	Err error
}

// Opt configures a Summer.
type Opt func(*Summer)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Opt {
	return func(s *Summer) {
		s.logger = logger
	}
}

// WithJobs bounds the number of files hashed at once. Values below one
// are ignored.
func WithJobs(n int) Opt {
	return func(s *Summer) {
		if n > 0 {
			s.jobs = n
		}
	}
}

// WithConfig sets the digest size, key, salt and personalization.
func WithConfig(cfg blake2b.Config) Opt {
	return func(s *Summer) {
		s.cfg = cfg
	}
}

// WithOnDone registers a callback invoked after every file. It is called
// from worker goroutines and must be safe for concurrent use.
func WithOnDone(fn func(Result)) Opt {
	return func(s *Summer) {
		s.onDone = fn
	}
}

// Summer computes digests of files on a filesystem.
type Summer struct {
	fs     afero.Fs
	cfg    blake2b.Config
	jobs   int
	logger *zap.Logger
	onDone func(Result)
}

// New returns a Summer reading from fs. It fails if the hasher configuration
// is invalid.
func New(fs afero.Fs, opts ...Opt) (*Summer, error) {
	s := &Summer{
		fs:     fs,
		cfg:    blake2b.Config{Size: blake2b.Size},
		jobs:   runtime.NumCPU(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, err := blake2b.NewWithConfig(&s.cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// Size returns the configured digest size in bytes.
func (s *Summer) Size() int { return s.cfg.Size }

func (s *Summer) hasher(size int) (*blake2b.Hasher, error) {
	cfg := s.cfg
	cfg.Size = size
	return blake2b.NewWithConfig(&cfg)
}

func (s *Summer) sum(r io.Reader, size int) ([]byte, error) {
	h, err := s.hasher(size)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(h, r); err != nil {
		return nil, err
	}
	return h.Finalize()
}

// SumReader hashes everything read from r.
func (s *Summer) SumReader(r io.Reader) ([]byte, error) {
	return s.sum(r, s.cfg.Size)
}

// SumFile hashes the file at path.
func (s *Summer) SumFile(path string) ([]byte, error) {
	return s.sumFile(path, s.cfg.Size)
}

func (s *Summer) sumFile(path string, size int) ([]byte, error) {
	f, err := s.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	digest, err := s.sum(f, size)
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", path, err)
	}
	return digest, nil
}

// SumFiles hashes paths concurrently. Results keep the order of paths. A file
// that cannot be read is reported in its Result and does not stop the others;
// only cancellation of ctx does.
func (s *Summer) SumFiles(ctx context.Context, paths []string) ([]Result, error) {
	results := make([]Result, len(paths))
	err := s.each(ctx, len(paths), func(i int) {
		digest, err := s.SumFile(paths[i])
		results[i] = Result{Path: paths[i], Digest: digest, Err: err}
		if err != nil {
			s.logger.Warn("failed to hash file", zap.String("path", paths[i]), zap.Error(err))
		} else {
			s.logger.Debug("hashed file", zap.String("path", paths[i]))
		}
		if s.onDone != nil {
			s.onDone(results[i])
		}
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Verify rehashes every entry and compares it with the listed digest. The
// digest size is taken from each entry, the key, salt and personalization
// from the Summer.
func (s *Summer) Verify(ctx context.Context, entries []Entry) ([]Verdict, error) {
	verdicts := make([]Verdict, len(entries))
	err := s.each(ctx, len(entries), func(i int) {
		e := entries[i]
		v := Verdict{Path: e.Path}
		digest, err := s.sumFile(e.Path, len(e.Digest))
		switch {
		case err != nil:
			v.Err = err
		case subtle.ConstantTimeCompare(digest, e.Digest) != 1:
			v.Err = ErrMismatch
		default:
			v.OK = true
		}
		verdicts[i] = v
		if !v.OK {
			s.logger.Warn("verification failed", zap.String("path", e.Path), zap.Error(v.Err))
		}
		if s.onDone != nil {
			s.onDone(Result{Path: e.Path, Digest: digest, Err: v.Err})
		}
	})
	if err != nil {
		return nil, err
	}
	return verdicts, nil
}

func (s *Summer) each(ctx context.Context, n int, fn func(i int)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.jobs)
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fn(i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
