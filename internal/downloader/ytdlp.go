package downloader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/sirupsen/logrus"
)

const defaultOutputTemplate = "%(title)s.%(ext)s"

// runFunc executes a command and returns its stdout.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// YtDlp drives the yt-dlp binary. Info uses -J; Download asks yt-dlp to
// perform the transfer itself and to print the final info JSON.
type YtDlp struct {
	Path       string
	FFmpegPath string
	log        logrus.FieldLogger
	run        runFunc
}

// NewYtDlp returns an extractor for the binary at path. An empty path means
// "yt-dlp" from PATH.
func NewYtDlp(path, ffmpegPath string, log logrus.FieldLogger) *YtDlp {
	if path == "" {
		path = "yt-dlp"
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &YtDlp{
		Path:       path,
		FFmpegPath: ffmpegPath,
		log:        log.WithField("component", "ytdlp"),
		run:        runCommand,
	}
}

func (y *YtDlp) Name() string {
	return "ytdlp"
}

// ytDlpJSON matches the subset of yt-dlp's info dict that we read.
type ytDlpJSON struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Uploader  string  `json:"uploader"`
	Duration  float64 `json:"duration"`
	Thumbnail string  `json:"thumbnail"`
	ViewCount int64   `json:"view_count"`
	Formats   []struct {
		FormatID       string  `json:"format_id"`
		Ext            string  `json:"ext"`
		Height         int     `json:"height"`
		VCodec         string  `json:"vcodec"`
		ACodec         string  `json:"acodec"`
		Filesize       int64   `json:"filesize"`
		FilesizeApprox float64 `json:"filesize_approx"`
	} `json:"formats"`
}

func (y *YtDlp) Info(ctx context.Context, url string, opts RequestOptions) (*VideoInfo, error) {
	args := []string{"-J", "--no-playlist", "--no-warnings"}
	args = append(args, identityArgs(opts.CookieFile, opts.UserAgent)...)
	args = append(args, url)

	out, err := y.exec(ctx, args)
	if err != nil {
		return nil, err
	}
	return parseYtDlpInfo(out)
}

func (y *YtDlp) Download(ctx context.Context, url string, plan DownloadPlan) (*VideoInfo, error) {
	out, err := y.exec(ctx, y.downloadArgs(url, plan))
	if err != nil {
		return nil, err
	}
	return parseYtDlpInfo(out)
}

func (y *YtDlp) downloadArgs(url string, plan DownloadPlan) []string {
	template := plan.OutputTemplate
	if template == "" {
		template = defaultOutputTemplate
	}
	args := []string{
		"--dump-single-json", "--no-simulate",
		"--no-playlist",
		"--no-progress",
		"-f", plan.Expression,
		"-o", filepath.Join(plan.OutputDir, template),
	}
	if plan.MergeRequired {
		format := plan.MergeFormat
		if format == "" {
			format = "mp4"
		}
		args = append(args, "--merge-output-format", format)
	}
	if y.FFmpegPath != "" {
		args = append(args, "--ffmpeg-location", y.FFmpegPath)
	}
	args = append(args, identityArgs(plan.CookieFile, plan.UserAgent)...)
	return append(args, url)
}

// identityArgs adds the cookie jar only when the file is actually present.
func identityArgs(cookieFile, userAgent string) []string {
	var args []string
	if cookieFile != "" {
		if info, err := os.Stat(cookieFile); err == nil && !info.IsDir() {
			args = append(args, "--cookies", cookieFile)
		}
	}
	if userAgent != "" {
		args = append(args, "--user-agent", userAgent)
	}
	return args
}

func (y *YtDlp) exec(ctx context.Context, args []string) ([]byte, error) {
	y.log.Debugf("running %s", shellescape.QuoteCommand(append([]string{y.Path}, args...)))
	out, err := y.run(ctx, y.Path, args...)
	if err == nil {
		return out, nil
	}
	if errors.Is(err, exec.ErrNotFound) {
		return nil, wrapCategory(CategoryTool, fmt.Errorf("yt-dlp not found at %q", y.Path))
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if msg := lastErrorLine(exitErr.Stderr); msg != "" {
			return nil, wrapCategory(CategoryTool, errors.New(msg))
		}
	}
	return nil, wrapCategory(CategoryTool, fmt.Errorf("yt-dlp error: %w", err))
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && len(exitErr.Stderr) == 0 {
		exitErr.Stderr = stderr.Bytes()
	}
	return out, err
}

// lastErrorLine prefers yt-dlp's "ERROR:" line over the rest of stderr.
func lastErrorLine(stderr []byte) string {
	lines := strings.Split(strings.TrimSpace(string(stderr)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if strings.HasPrefix(line, "ERROR:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "ERROR:"))
		}
	}
	if len(lines) > 0 {
		return strings.TrimSpace(lines[len(lines)-1])
	}
	return ""
}

func parseYtDlpInfo(out []byte) (*VideoInfo, error) {
	var data ytDlpJSON
	if err := json.Unmarshal(out, &data); err != nil {
		return nil, wrapCategory(CategoryTool, fmt.Errorf("decoding yt-dlp output: %w", err))
	}
	if data.ID == "" && data.Title == "" && len(data.Formats) == 0 {
		return nil, wrapCategory(CategoryNotFound, errors.New("extractor returned no video info"))
	}

	info := &VideoInfo{
		ID:        data.ID,
		Title:     data.Title,
		Thumbnail: data.Thumbnail,
		Duration:  int(data.Duration),
		Uploader:  data.Uploader,
		ViewCount: data.ViewCount,
		Formats:   make([]FormatDescriptor, 0, len(data.Formats)),
	}
	for _, f := range data.Formats {
		size := f.Filesize
		if size == 0 {
			size = int64(f.FilesizeApprox)
		}
		height := f.Height
		if f.VCodec == "none" {
			// Audio-only entries sometimes carry a stale height.
			height = 0
		}
		info.Formats = append(info.Formats, FormatDescriptor{
			Resolution: height,
			FormatID:   f.FormatID,
			Filesize:   size,
			Ext:        f.Ext,
			HasAudio:   f.ACodec != "none",
		})
	}
	return info, nil
}
