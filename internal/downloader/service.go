package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Options is the startup-time configuration shared by every request.
type Options struct {
	Catalog        CatalogPolicy
	Merge          MergePolicy
	StrictFormatID bool
	MuxerAvailable bool
	TempRoot       string
	MinFileSize    int64
	MergeFormat    string
	CookieFile     string
	UserAgents     *UserAgentPool
}

// Service implements the inspect and fetch operations on top of an Extractor.
// It holds no per-request state.
type Service struct {
	extractor Extractor
	opts      Options
	log       logrus.FieldLogger
	now       func() time.Time
}

func NewService(extractor Extractor, opts Options, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if opts.MinFileSize <= 0 {
		opts.MinFileSize = DefaultMinFileSize
	}
	if opts.MergeFormat == "" {
		opts.MergeFormat = "mp4"
	}
	return &Service{
		extractor: extractor,
		opts:      opts,
		log:       log.WithField("component", "service"),
		now:       time.Now,
	}
}

// MuxerAvailable reports whether merges were enabled at startup.
func (s *Service) MuxerAvailable() bool {
	return s.opts.MuxerAvailable
}

// ExtractorName returns the active extractor backend.
func (s *Service) ExtractorName() string {
	return s.extractor.Name()
}

// InspectResult is the display-ready view of one video.
type InspectResult struct {
	Title          string             `json:"title"`
	Thumbnail      string             `json:"thumbnail"`
	Duration       string             `json:"duration"`
	Author         string             `json:"author"`
	Views          string             `json:"views"`
	Formats        []FormatDescriptor `json:"formats"`
	MuxerAvailable bool               `json:"ffmpeg_available"`
}

// FetchResult is a produced file ready to be streamed. Closing Body removes
// the job directory.
type FetchResult struct {
	Body        io.ReadSeekCloser
	Filename    string
	ContentType string
	Size        int64
	ModTime     time.Time
	Selection   Selection
}

var errNoInfo = errors.New("could not get video info")

func (s *Service) requestOptions() RequestOptions {
	return RequestOptions{
		CookieFile: s.cookieFile(),
		UserAgent:  s.opts.UserAgents.Next(),
	}
}

func (s *Service) cookieFile() string {
	if s.opts.CookieFile == "" {
		return ""
	}
	if _, err := os.Stat(s.opts.CookieFile); err != nil {
		return ""
	}
	return s.opts.CookieFile
}

func (s *Service) info(ctx context.Context, url string, opts RequestOptions) (*VideoInfo, error) {
	info, err := s.extractor.Info(ctx, url, opts)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, wrapCategory(CategoryNotFound, errNoInfo)
	}
	return info, nil
}

// Inspect fetches metadata and returns the filtered catalog.
func (s *Service) Inspect(ctx context.Context, rawURL string) (*InspectResult, error) {
	url, err := CleanURL(rawURL)
	if err != nil {
		return nil, err
	}
	opts := s.requestOptions()
	log := s.log.WithField("url", url)
	if opts.CookieFile != "" {
		log.Debug("using cookies")
	}
	log.Info("inspecting")

	info, err := s.info(ctx, url, opts)
	if err != nil {
		return nil, err
	}
	formats := FilterCatalog(info.Formats, s.opts.Catalog, s.opts.Merge, s.opts.MuxerAvailable)
	log.WithField("formats", len(formats)).Debug("catalog filtered")

	return &InspectResult{
		Title:          stringsOrFallback(info.Title, "Untitled"),
		Thumbnail:      info.Thumbnail,
		Duration:       formatDuration(info.Duration),
		Author:         stringsOrFallback(info.Uploader, "Unknown author"),
		Views:          formatCount(info.ViewCount),
		Formats:        formats,
		MuxerAvailable: s.opts.MuxerAvailable,
	}, nil
}

// Fetch selects a format, downloads it into a fresh job directory and
// returns the validated file.
func (s *Service) Fetch(ctx context.Context, rawURL, formatID string) (*FetchResult, error) {
	url, err := CleanURL(rawURL)
	if err != nil {
		return nil, err
	}
	opts := s.requestOptions()
	log := s.log.WithFields(logrus.Fields{"url": url, "format_id": formatID})

	info, err := s.info(ctx, url, opts)
	if err != nil {
		return nil, err
	}
	chosen, err := SelectFormat(info.Formats, formatID, s.opts.StrictFormatID)
	if err != nil {
		return nil, err
	}
	selection := DecideMerge(chosen, s.opts.MuxerAvailable, s.opts.Merge)
	log = log.WithFields(logrus.Fields{
		"resolution": chosen.Resolution,
		"has_audio":  chosen.HasAudio,
		"merge":      selection.MergeRequired,
	})
	if formatID != "" && chosen.FormatID != formatID {
		log.WithField("selected", chosen.FormatID).Warn("requested format unavailable, falling back")
	}
	if selection.MergeRequired {
		log.Info("merging separate audio with ffmpeg")
	}

	dir, err := newJobDir(s.opts.TempRoot, s.now())
	if err != nil {
		return nil, err
	}
	result, err := s.download(ctx, url, dir, selection, opts, info)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"file": result.Filename,
		"size": humanBytes(result.Size),
	}).Info("download complete")
	return result, nil
}

func (s *Service) download(ctx context.Context, url, dir string, selection Selection, opts RequestOptions, info *VideoInfo) (*FetchResult, error) {
	plan := DownloadPlan{
		Chosen:         selection.Chosen,
		Expression:     selection.Expression,
		MergeRequired:  selection.MergeRequired,
		OutputDir:      dir,
		OutputTemplate: defaultOutputTemplate,
		MergeFormat:    s.opts.MergeFormat,
		CookieFile:     opts.CookieFile,
		UserAgent:      opts.UserAgent,
	}
	downloaded, err := s.extractor.Download(ctx, url, plan)
	if err != nil {
		return nil, err
	}

	path, stat, err := locateOutput(dir)
	if err != nil {
		return nil, err
	}
	if err := validateOutputSize(stat.Size(), s.opts.MinFileSize); err != nil {
		return nil, err
	}

	title := info.Title
	if downloaded != nil && downloaded.Title != "" {
		title = downloaded.Title
	}
	body, err := openJobFile(path, dir)
	if err != nil {
		return nil, err
	}
	return &FetchResult{
		Body:        body,
		Filename:    sanitize(title) + ".mp4",
		ContentType: "video/mp4",
		Size:        stat.Size(),
		ModTime:     stat.ModTime(),
		Selection:   selection,
	}, nil
}

// formatDuration renders seconds as M:SS.
func formatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// formatCount renders view counts as 1.2M / 3.4K / 999.
func formatCount(n int64) string {
	switch {
	case n <= 0:
		return "0"
	case n > 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n > 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}

func stringsOrFallback(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
