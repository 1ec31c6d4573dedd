package downloader

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/kkdai/youtube/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	minChunkSize     int64 = 256 * 1024
	maxChunkSize     int64 = 2 * 1024 * 1024
	targetChunkCount int64 = 64
)

// Native extracts YouTube streams in-process with kkdai/youtube and merges
// split streams with ffmpeg. It only handles YouTube URLs.
type Native struct {
	muxer     *FFmpegMuxer
	policy    MergePolicy
	log       logrus.FieldLogger
	newClient func(RequestOptions) (YouTubeClient, error)
}

func NewNative(muxer *FFmpegMuxer, policy MergePolicy, log logrus.FieldLogger) *Native {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Native{
		muxer:     muxer,
		policy:    policy,
		log:       log.WithField("component", "native"),
		newClient: newYouTubeClient,
	}
}

func (n *Native) Name() string {
	return "native"
}

func (n *Native) fetchVideo(ctx context.Context, url string, opts RequestOptions) (YouTubeClient, *youtube.Video, error) {
	if !isYouTubeURL(url) {
		return nil, nil, wrapCategory(CategoryUnsupported, fmt.Errorf("native extractor only supports YouTube URLs"))
	}
	client, err := n.newClient(opts)
	if err != nil {
		return nil, nil, err
	}
	video, err := client.GetVideoContext(ctx, url)
	if err != nil {
		return nil, nil, wrapCategory(CategoryNetwork, fmt.Errorf("fetching metadata: %w", err))
	}
	return client, video, nil
}

func (n *Native) Info(ctx context.Context, url string, opts RequestOptions) (*VideoInfo, error) {
	_, video, err := n.fetchVideo(ctx, url, opts)
	if err != nil {
		return nil, err
	}
	return videoInfoFromYouTube(video), nil
}

func (n *Native) Download(ctx context.Context, url string, plan DownloadPlan) (*VideoInfo, error) {
	client, video, err := n.fetchVideo(ctx, url, RequestOptions{CookieFile: plan.CookieFile, UserAgent: plan.UserAgent})
	if err != nil {
		return nil, err
	}
	info := videoInfoFromYouTube(video)
	base := filepath.Join(plan.OutputDir, sanitize(video.Title))

	if !plan.MergeRequired {
		format, err := formatByID(video.Formats, plan.Chosen.FormatID)
		if err != nil {
			return nil, err
		}
		target := base + "." + mimeToExt(format.MimeType)
		if err := n.fetchStream(ctx, client, video, format, target); err != nil {
			return nil, err
		}
		return info, nil
	}

	videoFormat, audioFormat := pickMergeStreams(video.Formats, plan.Chosen.Resolution, n.policy)
	if videoFormat == nil || audioFormat == nil || n.muxer == nil {
		// Same fallback as best[height<=H]: one progressive stream.
		fallback := bestProgressive(video.Formats, plan.Chosen.Resolution)
		if fallback == nil {
			return nil, wrapCategory(CategoryNotFound, errNoFormats)
		}
		n.log.WithField("itag", fallback.ItagNo).Info("no separate streams to merge, using progressive format")
		target := base + "." + mimeToExt(fallback.MimeType)
		if err := n.fetchStream(ctx, client, video, fallback, target); err != nil {
			return nil, err
		}
		return info, nil
	}

	videoPath := base + ".video." + mimeToExt(videoFormat.MimeType)
	audioPath := base + ".audio." + mimeToExt(audioFormat.MimeType)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Separate clients: ChunkSize is per client.
		c, err := n.newClient(RequestOptions{CookieFile: plan.CookieFile, UserAgent: plan.UserAgent})
		if err != nil {
			return err
		}
		return n.fetchStream(gctx, c, video, videoFormat, videoPath)
	})
	g.Go(func() error {
		return n.fetchStream(gctx, client, video, audioFormat, audioPath)
	})
	if err := g.Wait(); err != nil {
		_ = os.Remove(videoPath)
		_ = os.Remove(audioPath)
		return nil, err
	}

	mergeFormat := plan.MergeFormat
	if mergeFormat == "" {
		mergeFormat = "mp4"
	}
	n.log.WithFields(logrus.Fields{
		"video_itag": videoFormat.ItagNo,
		"audio_itag": audioFormat.ItagNo,
	}).Info("merging video and audio")
	if err := n.muxer.Merge(ctx, videoPath, audioPath, base+"."+mergeFormat); err != nil {
		_ = os.Remove(videoPath)
		_ = os.Remove(audioPath)
		return nil, err
	}
	return info, nil
}

// adjustChunkSize picks a chunk size that keeps the request count bounded.
func adjustChunkSize(client YouTubeClient, contentLength int64) {
	if client == nil || contentLength <= 0 {
		return
	}
	chunk := contentLength / targetChunkCount
	if chunk < minChunkSize {
		chunk = minChunkSize
	} else if chunk > maxChunkSize {
		chunk = maxChunkSize
	}
	client.SetChunkSize(chunk)
}

func (n *Native) fetchStream(ctx context.Context, client YouTubeClient, video *youtube.Video, format *youtube.Format, target string) error {
	adjustChunkSize(client, format.ContentLength)
	stream, _, err := client.GetStreamContext(ctx, video, format)
	if err != nil {
		return wrapCategory(CategoryNetwork, fmt.Errorf("starting stream: %w", err))
	}
	defer stream.Close()

	file, err := os.Create(target)
	if err != nil {
		return wrapCategory(CategoryFilesystem, fmt.Errorf("opening output file: %w", err))
	}
	if _, err := copyWithContext(ctx, file, stream); err != nil {
		file.Close()
		_ = os.Remove(target)
		return wrapCategory(CategoryNetwork, fmt.Errorf("downloading itag %d: %w", format.ItagNo, err))
	}
	if err := file.Close(); err != nil {
		return wrapCategory(CategoryFilesystem, err)
	}
	return nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		nr, readErr := src.Read(buf)
		if nr > 0 {
			nw, writeErr := dst.Write(buf[:nr])
			written += int64(nw)
			if writeErr != nil {
				return written, writeErr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

func videoInfoFromYouTube(video *youtube.Video) *VideoInfo {
	info := &VideoInfo{
		ID:        video.ID,
		Title:     video.Title,
		Thumbnail: bestThumbnailURL(video.Thumbnails),
		Duration:  int(video.Duration.Seconds()),
		Uploader:  video.Author,
		ViewCount: int64(video.Views),
		Formats:   make([]FormatDescriptor, 0, len(video.Formats)),
	}
	for _, f := range video.Formats {
		info.Formats = append(info.Formats, FormatDescriptor{
			Resolution: f.Height,
			FormatID:   strconv.Itoa(f.ItagNo),
			Filesize:   f.ContentLength,
			Ext:        mimeToExt(f.MimeType),
			HasAudio:   f.AudioChannels > 0,
		})
	}
	return info
}

func bestThumbnailURL(thumbnails youtube.Thumbnails) string {
	best := ""
	var bestArea uint
	for _, t := range thumbnails {
		if area := t.Width * t.Height; best == "" || area > bestArea {
			best = t.URL
			bestArea = area
		}
	}
	return best
}

func formatByID(formats youtube.FormatList, id string) (*youtube.Format, error) {
	itag, err := strconv.Atoi(strings.TrimSpace(id))
	if err == nil {
		for i := range formats {
			if formats[i].ItagNo == itag {
				return &formats[i], nil
			}
		}
	}
	return nil, wrapCategory(CategoryNotFound, fmt.Errorf("%w: %s", errFormatNotFound, id))
}

// pickMergeStreams returns the best video-only stream at or below height and
// the best audio-only stream, preferring the policy's containers.
func pickMergeStreams(formats youtube.FormatList, height int, policy MergePolicy) (*youtube.Format, *youtube.Format) {
	var videos, audios []*youtube.Format
	for i := range formats {
		f := &formats[i]
		switch {
		case f.Height > 0 && f.Height <= height && f.AudioChannels == 0:
			videos = append(videos, f)
		case f.Height == 0 && f.AudioChannels > 0:
			audios = append(audios, f)
		}
	}
	sort.SliceStable(videos, func(i, j int) bool {
		pi, pj := extPreferred(videos[i], policy.VideoExt), extPreferred(videos[j], policy.VideoExt)
		if pi != pj {
			return pi
		}
		if videos[i].Height != videos[j].Height {
			return videos[i].Height > videos[j].Height
		}
		return bitrateForFormat(videos[i]) > bitrateForFormat(videos[j])
	})
	sort.SliceStable(audios, func(i, j int) bool {
		pi, pj := extPreferred(audios[i], policy.AudioExt), extPreferred(audios[j], policy.AudioExt)
		if pi != pj {
			return pi
		}
		return bitrateForFormat(audios[i]) > bitrateForFormat(audios[j])
	})
	var video, audio *youtube.Format
	if len(videos) > 0 {
		video = videos[0]
	}
	if len(audios) > 0 {
		audio = audios[0]
	}
	return video, audio
}

func bestProgressive(formats youtube.FormatList, height int) *youtube.Format {
	var best *youtube.Format
	for i := range formats {
		f := &formats[i]
		if f.AudioChannels == 0 || f.Height == 0 || f.Height > height {
			continue
		}
		if best == nil || f.Height > best.Height || (f.Height == best.Height && bitrateForFormat(f) > bitrateForFormat(best)) {
			best = f
		}
	}
	return best
}

func extPreferred(f *youtube.Format, ext string) bool {
	return ext != "" && strings.EqualFold(mimeToExt(f.MimeType), ext)
}

func bitrateForFormat(f *youtube.Format) int {
	if f.Bitrate > 0 {
		return f.Bitrate
	}
	if f.AverageBitrate > 0 {
		return f.AverageBitrate
	}
	return 0
}

// mimeToExt maps "video/mp4; codecs=..." to a file extension. audio/mp4 is
// reported as m4a, matching yt-dlp.
func mimeToExt(mime string) string {
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = mime[:i]
	}
	parts := strings.Split(strings.TrimSpace(mime), "/")
	if len(parts) != 2 {
		return "bin"
	}
	switch {
	case parts[0] == "audio" && parts[1] == "mp4":
		return "m4a"
	case parts[1] == "3gpp":
		return "3gp"
	default:
		return parts[1]
	}
}
