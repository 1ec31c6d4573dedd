package downloader

import (
	"context"
)

// VideoInfo is the metadata an extractor reports for a single page URL.
type VideoInfo struct {
	ID        string
	Title     string
	Thumbnail string
	// Duration is in whole seconds.
	Duration  int
	Uploader  string
	ViewCount int64
	Formats   []FormatDescriptor
}

// DownloadPlan tells an extractor what to fetch and where to put it.
type DownloadPlan struct {
	// Chosen is the descriptor Expression was derived from.
	Chosen         FormatDescriptor
	Expression     string
	MergeRequired  bool
	OutputDir      string
	// OutputTemplate follows yt-dlp's %(field)s syntax.
	OutputTemplate string
	MergeFormat    string
	CookieFile     string
	UserAgent      string
}

// Extractor resolves page URLs into metadata and performs the transfer.
// Info and Download are independent calls; the format list may change
// between them.
type Extractor interface {
	Name() string
	Info(ctx context.Context, url string, opts RequestOptions) (*VideoInfo, error)
	Download(ctx context.Context, url string, plan DownloadPlan) (*VideoInfo, error)
}

// RequestOptions carries the per-request client identity.
type RequestOptions struct {
	CookieFile string
	UserAgent  string
}
