// docpatch rewrites Python docstrings and signatures with a language model
// while leaving every other byte of the source untouched.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/phobologic/docpatch/internal/config"
	"github.com/phobologic/docpatch/internal/discover"
	"github.com/phobologic/docpatch/internal/generate"
	"github.com/phobologic/docpatch/internal/llm"
	"github.com/phobologic/docpatch/internal/model"
	"github.com/phobologic/docpatch/internal/pipeline"
	"github.com/phobologic/docpatch/internal/prompt"
	"github.com/phobologic/docpatch/internal/review"
	"github.com/phobologic/docpatch/internal/stage"
	"github.com/phobologic/docpatch/internal/toon"
)

var version = "dev"

// errFailed is returned when at least one file could not be updated.
var errFailed = errors.New("some files failed")

func main() {
	a := newApp(os.Stdin, os.Stdout, os.Stderr)
	a.setDefaultLogger = true
	a.interactive = isTerminal(os.Stdin)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := a.execute(ctx, os.Args[1:])
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	return newApp(nil, stdout, stderr).execute(context.Background(), args)
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// app holds the process environment so commands can be run in tests.
type app struct {
	stdin          io.Reader
	stdout, stderr io.Writer
	interactive    bool
	lookupEnv      func(string) (string, bool)
	newClient      func(cfg config.Config) (llm.Client, error)

	setDefaultLogger bool
	verbose          bool
	logger           *slog.Logger
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{
		stdin:     stdin,
		stdout:    stdout,
		stderr:    stderr,
		lookupEnv: os.LookupEnv,
		newClient: func(cfg config.Config) (llm.Client, error) {
			c, err := llm.New(llm.Options{
				APIKey:      cfg.APIKey,
				BaseURL:     cfg.BaseURL,
				Model:       cfg.Model,
				Temperature: cfg.Temperature,
			})
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (a *app) execute(ctx context.Context, args []string) error {
	root := a.rootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "docpatch",
		Short: "Update Python docstrings with a language model",
		Long: `docpatch asks a language model for better docstrings and type-hinted
signatures, patches them into your Python files without touching any other
code, and stages the results in .docpatch/ for review.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := slog.LevelInfo
			if a.verbose {
				level = slog.LevelDebug
			}
			a.logger = slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: level}))
			if a.setDefaultLogger {
				slog.SetDefault(a.logger)
			}
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.SetVersionTemplate("docpatch {{.Version}}\n")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(a.updateCmd(), a.reviewCmd(), a.objectsCmd(), a.initCmd())
	return root
}

type updateFlags struct {
	review      bool
	force       bool
	maxFileSize int64
	concurrency int
	rpm         int
	model       string
	style       string
	viewer      string
}

func (a *app) updateCmd() *cobra.Command {
	var f updateFlags
	cmd := &cobra.Command{
		Use:   "update [path]",
		Short: "Generate docstrings and stage the patched files",
		Long: `Update every Python module under path (default ".") or a single .py file.
Patched files are written to .docpatch/improved/ and never over the originals;
use "docpatch review" (or -r) to inspect and apply them.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runUpdate(cmd, pathArg(args), f)
		},
	}
	fl := cmd.Flags()
	fl.BoolVarP(&f.review, "review", "r", false, "review staged files after updating")
	fl.BoolVar(&f.force, "force", false, "reprocess files whose staged copy is up to date")
	fl.Int64Var(&f.maxFileSize, "max-file-size", 0, "skip files larger than this many bytes (0 = no limit)")
	fl.IntVarP(&f.concurrency, "concurrency", "c", 0, "number of files processed in parallel")
	fl.IntVar(&f.rpm, "rpm", 0, "maximum model requests per minute (0 = unlimited)")
	fl.StringVarP(&f.model, "model", "m", "", "model name")
	fl.StringVar(&f.style, "style", "", "docstring style template")
	fl.StringVar(&f.viewer, "viewer", "auto", "diff viewer for -r: terminal, git or code")
	return cmd
}

func (a *app) runUpdate(cmd *cobra.Command, path string, f updateFlags) error {
	ctx := cmd.Context()

	root, files, err := discover.Resolve(path)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no Python files found")
	}

	cfg, err := config.Load(root, a.lookupEnv)
	if err != nil {
		return err
	}
	fl := cmd.Flags()
	if fl.Changed("max-file-size") {
		cfg.MaxFileSize = f.maxFileSize
	}
	if fl.Changed("concurrency") {
		cfg.Concurrency = f.concurrency
	}
	if fl.Changed("rpm") {
		cfg.RequestsPerMinute = f.rpm
	}
	if fl.Changed("model") {
		cfg.Model = f.model
	}
	if fl.Changed("style") {
		cfg.DocStyle = f.style
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	client, err := a.newClient(cfg)
	if err != nil {
		return err
	}

	logger := a.logger.With("run_id", uuid.NewString())
	logger.Info("starting update", "root", root, "files", len(files), "model", cfg.Model, "concurrency", cfg.Concurrency)

	fs := stage.New(root)
	p := pipeline.New(fs,
		prompt.NewBuilder(prompt.Builtin(), cfg.DocStyle),
		generate.New(client),
		pipeline.Options{
			Concurrency:       cfg.Concurrency,
			RequestsPerMinute: cfg.RequestsPerMinute,
			MaxFileSize:       cfg.MaxFileSize,
			Force:             f.force,
		},
		logger)

	reports, err := p.Run(ctx, files)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(a.stdout, toon.EncodeReport(filepath.Base(root), reports))

	if f.review {
		if err := a.review(ctx, fs, f.viewer); err != nil {
			return err
		}
	}

	failed := 0
	for _, r := range reports {
		if r.Status == model.StatusFailed {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", errFailed, failed, len(reports))
	}
	return nil
}

func (a *app) reviewCmd() *cobra.Command {
	var viewer string
	cmd := &cobra.Command{
		Use:   "review [path]",
		Short: "Show staged changes and apply the accepted ones",
		Long: `Walk the files staged under .docpatch/improved/, show each diff and ask
whether to apply it. Accepted originals are backed up to .docpatch/backups/.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := projectRoot(pathArg(args))
			if err != nil {
				return err
			}
			return a.review(cmd.Context(), stage.New(root), viewer)
		},
	}
	cmd.Flags().StringVar(&viewer, "viewer", "auto", "diff viewer: terminal, git or code")
	return cmd
}

func (a *app) review(ctx context.Context, fs *stage.FileSystem, viewerName string) error {
	viewer, err := review.NewViewer(viewerName, a.stdout)
	if err != nil {
		return err
	}
	in := a.stdin
	if in == nil {
		in = eofReader{}
	}
	_, err = review.New(fs, viewer, in, a.stdout, a.interactive).Review(ctx)
	return err
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }

func (a *app) objectsCmd() *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "objects [path]",
		Short: "List the qualified names docpatch can address",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, files, err := discover.Resolve(pathArg(args))
			if err != nil {
				return err
			}
			modules, err := pipeline.Objects(cmd.Context(), root, files, concurrency)
			if err != nil {
				a.logger.Warn("some files could not be parsed", "error", err)
			}
			_, _ = fmt.Fprintln(a.stdout, toon.EncodeObjects(filepath.Base(root), modules))
			return nil
		},
	}
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 4, "number of files parsed in parallel")
	return cmd
}

func pathArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}

// projectRoot returns the directory of path, or path itself when it is a
// directory.
func projectRoot(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("path: %w", err)
	}
	if !info.IsDir() {
		return filepath.Dir(abs), nil
	}
	return abs, nil
}
