// Command b2sum prints or checks BLAKE2b digests of files, standard input or
// a string.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/cheggaaa/pb/v3"
	"github.com/natefinch/atomic"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/b2js/blake2/internal/checksum"
	"github.com/b2js/blake2/multihash"
)

var errVerifyFailed = errors.New("some checksums did not match")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := newRootCmd(afero.NewOsFs(), os.Stdin)
	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(fs afero.Fs, stdin io.Reader) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "b2sum [flags] [FILE...]",
		Short:         "print or check BLAKE2b digests",
		Long:          "With no FILE, or when FILE is -, read standard input. A check list of - is also read from standard input.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "b2sum:", err)
				return err
			}
			logger, err := newLogger(cfg.LogLevel, cfg.LogJSON, cmd.ErrOrStderr())
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "b2sum:", err)
				return err
			}
			defer logger.Sync()

			r := &runner{
				cfg:    cfg,
				fs:     fs,
				stdin:  stdin,
				stdout: cmd.OutOrStdout(),
				stderr: cmd.ErrOrStderr(),
				logger: logger,
			}
			if err := r.run(cmd.Context(), args); err != nil {
				if !errors.Is(err, errVerifyFailed) {
					fmt.Fprintln(cmd.ErrOrStderr(), "b2sum:", err)
				}
				return err
			}
			return nil
		},
	}
	addFlags(cmd.Flags(), DefaultConfig())
	return cmd
}

func newLogger(level string, json bool, w io.Writer) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	encoderCfg := zap.NewDevelopmentEncoderConfig()
	encoder := zapcore.NewConsoleEncoder(encoderCfg)
	if json {
		encoderCfg = zap.NewProductionEncoderConfig()
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}
	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(w)), lvl)
	return zap.New(core).Named("b2sum"), nil
}

type runner struct {
	cfg    Config
	fs     afero.Fs
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	logger *zap.Logger

	// Only set while files are being hashed with --progress.
	bar *pb.ProgressBar
}

func (r *runner) startProgress(total int) {
	if r.cfg.Progress && total > 0 {
		r.bar = pb.New(total).SetWriter(r.stderr).Start()
	}
}

func (r *runner) finishProgress() {
	if r.bar != nil {
		r.bar.Finish()
		r.bar = nil
	}
}

func (r *runner) run(ctx context.Context, args []string) error {
	hc, err := r.cfg.hasherConfig()
	if err != nil {
		return err
	}

	opts := []checksum.Opt{
		checksum.WithLogger(r.logger.Named("checksum")),
		checksum.WithJobs(r.cfg.Jobs),
		checksum.WithConfig(hc),
	}
	if r.cfg.Progress {
		opts = append(opts, checksum.WithOnDone(func(checksum.Result) {
			if r.bar != nil {
				r.bar.Increment()
			}
		}))
	}
	summer, err := checksum.New(r.fs, opts...)
	if err != nil {
		return err
	}

	switch {
	case r.cfg.Check != "":
		return r.check(ctx, summer)
	case r.cfg.StringSet:
		digest, err := summer.SumReader(bytes.NewReader([]byte(r.cfg.String)))
		if err != nil {
			return err
		}
		return r.emit([]checksum.Result{{Path: fmt.Sprintf("%q", r.cfg.String), Digest: digest}})
	}

	var (
		results []checksum.Result
		paths   []string
	)
	if len(args) == 0 {
		args = []string{"-"}
	}
	for _, arg := range args {
		if arg != "-" {
			paths = append(paths, arg)
		}
	}
	r.startProgress(len(paths))
	fileResults, err := summer.SumFiles(ctx, paths)
	r.finishProgress()
	if err != nil {
		return err
	}

	failed := 0
	next := 0
	for _, arg := range args {
		if arg == "-" {
			digest, err := summer.SumReader(r.stdin)
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			results = append(results, checksum.Result{Path: "-", Digest: digest})
			continue
		}
		res := fileResults[next]
		next++
		if res.Err != nil {
			failed++
			fmt.Fprintln(r.stderr, "b2sum:", res.Err)
		}
		results = append(results, res)
	}

	if err := r.emit(results); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files could not be read", failed, len(paths))
	}
	return nil
}

func (r *runner) encode(res checksum.Result) (checksum.Result, error) {
	if r.cfg.Format != formatMultihash {
		return res, nil
	}
	m, err := multihash.Encode(res.Digest)
	if err != nil {
		return res, err
	}
	res.Digest = m
	return res, nil
}

// emit writes the digest list to stdout, or atomically to the output file.
func (r *runner) emit(results []checksum.Result) error {
	encoded := make([]checksum.Result, 0, len(results))
	for _, res := range results {
		if res.Err != nil {
			continue
		}
		e, err := r.encode(res)
		if err != nil {
			return err
		}
		encoded = append(encoded, e)
	}

	if r.cfg.Output == "" {
		return checksum.WriteList(r.stdout, encoded)
	}
	var buf bytes.Buffer
	if err := checksum.WriteList(&buf, encoded); err != nil {
		return err
	}
	if err := atomic.WriteFile(r.cfg.Output, &buf); err != nil {
		return fmt.Errorf("write %s: %w", r.cfg.Output, err)
	}
	r.logger.Info("wrote digest list", zap.String("path", r.cfg.Output), zap.Int("entries", len(encoded)))
	return nil
}

// openList opens the checksum list named by --check; "-" is standard input.
func (r *runner) openList() (io.ReadCloser, error) {
	if r.cfg.Check == "-" {
		return io.NopCloser(r.stdin), nil
	}
	f, err := r.fs.Open(r.cfg.Check)
	if err != nil {
		return nil, fmt.Errorf("open list: %w", err)
	}
	return f, nil
}

func (r *runner) check(ctx context.Context, summer *checksum.Summer) error {
	list, err := r.openList()
	if err != nil {
		return err
	}
	defer list.Close()

	entries, err := checksum.ParseList(list)
	if err != nil {
		return fmt.Errorf("parse %s: %w", r.cfg.Check, err)
	}
	if r.cfg.Format == formatMultihash {
		for i := range entries {
			digest, err := multihash.Digest(entries[i].Digest)
			if err != nil {
				return fmt.Errorf("entry %s: %w", entries[i].Path, err)
			}
			entries[i].Digest = digest
		}
	}

	r.startProgress(len(entries))
	verdicts, err := summer.Verify(ctx, entries)
	r.finishProgress()
	if err != nil {
		return err
	}

	failed := 0
	for _, v := range verdicts {
		path := checksum.EscapePath(v.Path)
		switch {
		case v.OK:
			fmt.Fprintf(r.stdout, "%s: OK\n", path)
		case errors.Is(v.Err, checksum.ErrMismatch):
			failed++
			fmt.Fprintf(r.stdout, "%s: FAILED\n", path)
		default:
			failed++
			fmt.Fprintf(r.stdout, "%s: FAILED open or read\n", path)
		}
	}
	if failed > 0 {
		fmt.Fprintf(r.stderr, "b2sum: WARNING: %d of %d computed checksums did NOT match\n", failed, len(verdicts))
		return errVerifyFailed
	}
	return nil
}
