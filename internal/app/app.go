// Package app wires configuration, the downloader service and the web server
// behind the serve, inspect and fetch subcommands.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/lvcoi/ytfetch/internal/config"
	"github.com/lvcoi/ytfetch/internal/downloader"
	"github.com/lvcoi/ytfetch/internal/web"
)

// App holds the process-level dependencies of a run.
type App struct {
	Stdout   io.Writer
	Stderr   io.Writer
	Env      config.LookupEnv
	LookPath func(string) (string, error)

	// Extractor replaces the configured backend when set.
	Extractor downloader.Extractor
}

// New returns an App bound to the real process environment.
func New() *App {
	return &App{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Env:    os.LookupEnv,
	}
}

const usage = `usage: ytfetch <command> [options]

commands:
  serve              run the web server (default)
  inspect <url>      list the downloadable qualities of a video
  fetch <url>        download one quality into a directory

run "ytfetch <command> -h" for command options
`

// Run executes args (without the program name) and returns the exit code.
func (a *App) Run(ctx context.Context, args []string) int {
	cmd := "serve"
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = a.serve(ctx, args)
	case "inspect":
		err = a.inspect(ctx, args)
	case "fetch":
		err = a.fetch(ctx, args)
	case "help":
		fmt.Fprint(a.Stdout, usage)
		return 0
	default:
		fmt.Fprintf(a.Stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}
	if err == nil || errors.Is(err, flag.ErrHelp) {
		return 0
	}
	var ue usageError
	if errors.As(err, &ue) {
		fmt.Fprintf(a.Stderr, "error: %v\n", ue.err)
		return 2
	}
	if errors.Is(err, context.Canceled) {
		return 0
	}
	fmt.Fprintf(a.Stderr, "error: %v\n", err)
	return downloader.ExitCode(err)
}

type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// commonFlags are the overrides every subcommand accepts. Only flags that
// were set explicitly replace config values.
type commonFlags struct {
	fs         *flag.FlagSet
	configPath string
	logLevel   string
	logFormat  string
	extractor  string
	cookies    string
	ytDlpPath  string
	ffmpegPath string
	tempRoot   string
	strict     bool
}

func (a *App) newFlagSet(name string) *commonFlags {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.Stderr)
	c := &commonFlags{fs: fs}
	fs.StringVar(&c.configPath, "config", "", "path to a TOML config file")
	fs.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.StringVar(&c.logFormat, "log-format", "", "log format: text or json")
	fs.StringVar(&c.extractor, "extractor", "", "extractor backend: ytdlp or native")
	fs.StringVar(&c.cookies, "cookies", "", "Netscape cookie file passed to the extractor")
	fs.StringVar(&c.ytDlpPath, "ytdlp", "", "path to the yt-dlp binary")
	fs.StringVar(&c.ffmpegPath, "ffmpeg", "", "path to the ffmpeg binary")
	fs.StringVar(&c.tempRoot, "temp-root", "", "directory for per-request job directories")
	fs.BoolVar(&c.strict, "strict", false, "fail instead of falling back when a format id is unknown")
	return c
}

func (c *commonFlags) parse(args []string) error {
	if err := c.fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return usageError{err}
	}
	return nil
}

func (c *commonFlags) apply(cfg *config.Config) {
	c.fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log-level":
			cfg.Log.Level = c.logLevel
		case "log-format":
			cfg.Log.Format = c.logFormat
		case "extractor":
			cfg.Extractor = c.extractor
		case "cookies":
			cfg.CookieFile = c.cookies
		case "ytdlp":
			cfg.YtDlpPath = c.ytDlpPath
		case "ffmpeg":
			cfg.FFmpegPath = c.ffmpegPath
		case "temp-root":
			cfg.TempRoot = c.tempRoot
		case "strict":
			cfg.Selection.StrictFormatID = c.strict
		}
	})
}

// env bundles everything a subcommand needs after startup.
type env struct {
	cfg     *config.Config
	log     *logrus.Logger
	tools   config.Tools
	svc     *downloader.Service
	cleanup func()
}

func (a *App) setup(flags *commonFlags, override func(*config.Config)) (*env, error) {
	cfg, err := config.Load(flags.configPath, a.Env)
	if err != nil {
		return nil, usageError{err}
	}
	flags.apply(cfg)
	if override != nil {
		override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, usageError{err}
	}

	log, err := config.NewLogger(cfg.Log, a.Stderr)
	if err != nil {
		return nil, usageError{err}
	}
	tools := cfg.Detect(a.LookPath)
	if !tools.MuxerAvailable() {
		log.Warn("ffmpeg not found: video-only formats will not be merged with audio")
	}

	cleanup := func() {}
	tempRoot := cfg.TempRoot
	if tempRoot == "" {
		dir, err := os.MkdirTemp("", "ytfetch-")
		if err != nil {
			return nil, downloader.CategorizedError{Category: downloader.CategoryFilesystem, Err: err}
		}
		tempRoot = dir
		cleanup = func() { _ = os.RemoveAll(dir) }
	} else if err := os.MkdirAll(tempRoot, 0o755); err != nil {
		return nil, downloader.CategorizedError{Category: downloader.CategoryFilesystem, Err: err}
	}

	extractor := a.Extractor
	if extractor == nil {
		extractor = newExtractor(cfg, tools, log)
	}
	log.WithFields(logrus.Fields{
		"extractor": extractor.Name(),
		"ffmpeg":    tools.FFmpegPath,
		"temp_root": tempRoot,
	}).Debug("configured")

	svc := downloader.NewService(extractor, cfg.ServiceOptions(tools, tempRoot), log)
	return &env{cfg: cfg, log: log, tools: tools, svc: svc, cleanup: cleanup}, nil
}

func newExtractor(cfg *config.Config, tools config.Tools, log logrus.FieldLogger) downloader.Extractor {
	if cfg.Extractor == config.ExtractorNative {
		var muxer *downloader.FFmpegMuxer
		if tools.MuxerAvailable() {
			muxer = downloader.NewFFmpegMuxer(tools.FFmpegPath)
		}
		return downloader.NewNative(muxer, cfg.MergePolicy(), log)
	}
	path := tools.YtDlpPath
	if path == "" {
		log.Warn("yt-dlp not found on PATH: requests will fail until it is installed")
		path = cfg.YtDlpPath
	}
	return downloader.NewYtDlp(path, tools.FFmpegPath, log)
}

func (a *App) serve(ctx context.Context, args []string) error {
	flags := a.newFlagSet("serve")
	addr := flags.fs.String("addr", "", "listen address (default :5000, or :$PORT)")
	if err := flags.parse(args); err != nil {
		return err
	}
	if flags.fs.NArg() > 0 {
		return usageError{fmt.Errorf("serve takes no arguments, got %q", flags.fs.Args())}
	}

	e, err := a.setup(flags, func(cfg *config.Config) {
		if *addr != "" {
			cfg.Addr = *addr
		}
	})
	if err != nil {
		return err
	}
	defer e.cleanup()
	defer downloader.CloseIdleConnections()

	server, err := web.New(e.svc, e.tools.YtDlpPath, e.log)
	if err != nil {
		return err
	}
	return server.ListenAndServe(ctx, e.cfg.Addr)
}

func (a *App) inspect(ctx context.Context, args []string) error {
	flags := a.newFlagSet("inspect")
	asJSON := flags.fs.Bool("json", false, "print the catalog as JSON")
	if err := flags.parse(args); err != nil {
		return err
	}
	if flags.fs.NArg() != 1 {
		return usageError{errors.New("inspect takes exactly one url")}
	}

	e, err := a.setup(flags, nil)
	if err != nil {
		return err
	}
	defer e.cleanup()

	result, err := e.svc.Inspect(ctx, flags.fs.Arg(0))
	if err != nil {
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(a.Stdout)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	return downloader.WriteCatalog(a.Stdout, result)
}

func (a *App) fetch(ctx context.Context, args []string) error {
	flags := a.newFlagSet("fetch")
	formatID := flags.fs.String("format", "", "format id to download (default: best with audio)")
	outDir := flags.fs.String("o", ".", "directory to write the file into")
	if err := flags.parse(args); err != nil {
		return err
	}
	if flags.fs.NArg() != 1 {
		return usageError{errors.New("fetch takes exactly one url")}
	}

	e, err := a.setup(flags, nil)
	if err != nil {
		return err
	}
	defer e.cleanup()

	result, err := e.svc.Fetch(ctx, flags.fs.Arg(0), *formatID)
	if err != nil {
		return err
	}
	defer result.Body.Close()

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return downloader.CategorizedError{Category: downloader.CategoryFilesystem, Err: err}
	}
	target := filepath.Join(*outDir, result.Filename)
	out, err := os.Create(target)
	if err != nil {
		return downloader.CategorizedError{Category: downloader.CategoryFilesystem, Err: err}
	}
	if _, err := io.Copy(out, result.Body); err != nil {
		_ = out.Close()
		_ = os.Remove(target)
		return downloader.CategorizedError{Category: downloader.CategoryFilesystem, Err: err}
	}
	if err := out.Close(); err != nil {
		return downloader.CategorizedError{Category: downloader.CategoryFilesystem, Err: err}
	}
	fmt.Fprintln(a.Stdout, target)
	return nil
}
