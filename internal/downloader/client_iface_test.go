package downloader

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kkdai/youtube/v2"
)

// mockYouTubeClient is a test double that satisfies YouTubeClient.
type mockYouTubeClient struct {
	mu          sync.Mutex
	video       *youtube.Video
	getVideoErr error
	payload     map[int]string
	requested   []int
	chunkSize   int64
}

func (m *mockYouTubeClient) GetVideoContext(context.Context, string) (*youtube.Video, error) {
	if m.getVideoErr != nil {
		return nil, m.getVideoErr
	}
	return m.video, nil
}

func (m *mockYouTubeClient) GetStreamContext(_ context.Context, _ *youtube.Video, format *youtube.Format) (io.ReadCloser, int64, error) {
	m.mu.Lock()
	m.requested = append(m.requested, format.ItagNo)
	m.mu.Unlock()
	body := m.payload[format.ItagNo]
	return io.NopCloser(strings.NewReader(body)), int64(len(body)), nil
}

func (m *mockYouTubeClient) SetChunkSize(s int64) {
	m.mu.Lock()
	m.chunkSize = s
	m.mu.Unlock()
}

var _ YouTubeClient = (*mockYouTubeClient)(nil)

func sampleYouTubeVideo() *youtube.Video {
	return &youtube.Video{
		ID:       "abc123",
		Title:    "Native: clip",
		Author:   "Channel",
		Duration: 95 * time.Second,
		Views:    4200,
		Thumbnails: youtube.Thumbnails{
			{URL: "small.jpg", Width: 120, Height: 90},
			{URL: "large.jpg", Width: 1280, Height: 720},
		},
		Formats: youtube.FormatList{
			{ItagNo: 137, MimeType: `video/mp4; codecs="avc1.640028"`, Height: 1080, Bitrate: 4000000, ContentLength: 50 << 20},
			{ItagNo: 248, MimeType: `video/webm; codecs="vp9"`, Height: 1080, Bitrate: 5000000},
			{ItagNo: 22, MimeType: `video/mp4; codecs="avc1.64001F, mp4a.40.2"`, Height: 720, AudioChannels: 2, Bitrate: 2000000},
			{ItagNo: 18, MimeType: `video/mp4; codecs="avc1.42001E, mp4a.40.2"`, Height: 360, AudioChannels: 2, Bitrate: 500000},
			{ItagNo: 140, MimeType: `audio/mp4; codecs="mp4a.40.2"`, AudioChannels: 2, Bitrate: 128000},
			{ItagNo: 251, MimeType: `audio/webm; codecs="opus"`, AudioChannels: 2, Bitrate: 160000},
		},
	}
}

func newTestNative(client *mockYouTubeClient, muxer *FFmpegMuxer) *Native {
	n := NewNative(muxer, DefaultMergePolicy(), quietLogger())
	n.newClient = func(RequestOptions) (YouTubeClient, error) { return client, nil }
	return n
}

func TestNativeInfo(t *testing.T) {
	n := newTestNative(&mockYouTubeClient{video: sampleYouTubeVideo()}, nil)
	info, err := n.Info(context.Background(), "https://www.youtube.com/watch?v=abc123", RequestOptions{})
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.Title != "Native: clip" || info.Duration != 95 || info.ViewCount != 4200 || info.Thumbnail != "large.jpg" {
		t.Fatalf("unexpected info: %+v", info)
	}
	byID := map[string]FormatDescriptor{}
	for _, f := range info.Formats {
		byID[f.FormatID] = f
	}
	if f := byID["137"]; f.Resolution != 1080 || f.HasAudio || f.Ext != "mp4" || f.Filesize != 50<<20 {
		t.Fatalf("unexpected 137: %+v", f)
	}
	if f := byID["22"]; !f.HasAudio || f.Resolution != 720 {
		t.Fatalf("unexpected 22: %+v", f)
	}
	if f := byID["140"]; f.Ext != "m4a" || f.Resolution != 0 {
		t.Fatalf("unexpected 140: %+v", f)
	}
}

func TestNativeRejectsNonYouTube(t *testing.T) {
	n := newTestNative(&mockYouTubeClient{video: sampleYouTubeVideo()}, nil)
	_, err := n.Info(context.Background(), "https://vimeo.com/1", RequestOptions{})
	if CategoryOf(err) != CategoryUnsupported {
		t.Fatalf("expected unsupported, got %v", err)
	}
}

func TestNativeInfoNetworkError(t *testing.T) {
	n := newTestNative(&mockYouTubeClient{getVideoErr: errors.New("timeout")}, nil)
	_, err := n.Info(context.Background(), "https://youtu.be/abc123", RequestOptions{})
	if CategoryOf(err) != CategoryNetwork {
		t.Fatalf("expected network, got %v", err)
	}
}

func TestNativeDownloadSingleStream(t *testing.T) {
	client := &mockYouTubeClient{video: sampleYouTubeVideo(), payload: map[int]string{22: "progressive-bytes"}}
	n := newTestNative(client, nil)
	dir := t.TempDir()

	_, err := n.Download(context.Background(), "https://youtu.be/abc123", DownloadPlan{
		Chosen:     FormatDescriptor{Resolution: 720, FormatID: "22", HasAudio: true},
		Expression: "22",
		OutputDir:  dir,
	})
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "Native clip.mp4"))
	if err != nil || string(data) != "progressive-bytes" {
		t.Fatalf("unexpected output %q (%v)", data, err)
	}
}

func TestNativeDownloadUnknownItag(t *testing.T) {
	n := newTestNative(&mockYouTubeClient{video: sampleYouTubeVideo()}, nil)
	_, err := n.Download(context.Background(), "https://youtu.be/abc123", DownloadPlan{
		Chosen:    FormatDescriptor{FormatID: "999"},
		OutputDir: t.TempDir(),
	})
	if CategoryOf(err) != CategoryNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestNativeMergeFallsBackWithoutMuxer(t *testing.T) {
	client := &mockYouTubeClient{video: sampleYouTubeVideo(), payload: map[int]string{22: "fallback"}}
	n := newTestNative(client, nil)
	dir := t.TempDir()

	_, err := n.Download(context.Background(), "https://youtu.be/abc123", DownloadPlan{
		Chosen:        FormatDescriptor{Resolution: 1080, FormatID: "137"},
		MergeRequired: true,
		OutputDir:     dir,
	})
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if len(client.requested) != 1 || client.requested[0] != 22 {
		t.Fatalf("expected a single progressive fetch of itag 22, got %v", client.requested)
	}
	if _, err := os.Stat(filepath.Join(dir, "Native clip.mp4")); err != nil {
		t.Fatalf("expected progressive output: %v", err)
	}
}

// writeStubFFmpeg installs a shell script that concatenates its -i inputs
// into the last argument other than -y.
func writeStubFFmpeg(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub ffmpeg needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := `#!/bin/sh
set -e
tmp="$0.merged"
: > "$tmp"
out=""
prev=""
for a in "$@"; do
  if [ "$prev" = "-i" ]; then cat "$a" >> "$tmp"; fi
  if [ "$a" != "-y" ]; then out="$a"; fi
  prev="$a"
done
mv "$tmp" "$out"
`
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub ffmpeg: %v", err)
	}
	return path
}

func TestNativeMergesSeparateStreams(t *testing.T) {
	client := &mockYouTubeClient{
		video:   sampleYouTubeVideo(),
		payload: map[int]string{137: "VIDEO", 140: "AUDIO"},
	}
	n := newTestNative(client, NewFFmpegMuxer(writeStubFFmpeg(t)))
	dir := t.TempDir()

	info, err := n.Download(context.Background(), "https://youtu.be/abc123", DownloadPlan{
		Chosen:        FormatDescriptor{Resolution: 1080, FormatID: "137"},
		MergeRequired: true,
		MergeFormat:   "mp4",
		OutputDir:     dir,
	})
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if info.Title != "Native: clip" {
		t.Fatalf("unexpected title %q", info.Title)
	}

	requested := slices.Clone(client.requested)
	slices.Sort(requested)
	if !slices.Equal(requested, []int{137, 140}) {
		t.Fatalf("expected itags 137 and 140 to be fetched, got %v", client.requested)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if len(names) != 1 || names[0] != "Native clip.mp4" {
		t.Fatalf("expected only the merged file, got %v", names)
	}
	data, err := os.ReadFile(filepath.Join(dir, "Native clip.mp4"))
	if err != nil {
		t.Fatalf("read merged file: %v", err)
	}
	if string(data) != "VIDEOAUDIO" {
		t.Fatalf("expected video then audio input, got %q", data)
	}
}

func TestPickMergeStreamsPrefersContainers(t *testing.T) {
	video, audio := pickMergeStreams(sampleYouTubeVideo().Formats, 1080, DefaultMergePolicy())
	if video == nil || video.ItagNo != 137 {
		t.Fatalf("expected mp4 video 137, got %+v", video)
	}
	if audio == nil || audio.ItagNo != 140 {
		t.Fatalf("expected m4a audio 140, got %+v", audio)
	}

	video, audio = pickMergeStreams(sampleYouTubeVideo().Formats, 1080, MergePolicy{Threshold: 1080})
	if video.ItagNo != 248 || audio.ItagNo != 251 {
		t.Fatalf("without preferences the highest bitrate wins, got %d/%d", video.ItagNo, audio.ItagNo)
	}
}

func TestAdjustChunkSize(t *testing.T) {
	client := &mockYouTubeClient{}
	adjustChunkSize(client, 1024)
	if client.chunkSize != minChunkSize {
		t.Fatalf("expected minimum chunk, got %d", client.chunkSize)
	}
	adjustChunkSize(client, 10<<30)
	if client.chunkSize != maxChunkSize {
		t.Fatalf("expected maximum chunk, got %d", client.chunkSize)
	}
}

func TestMimeToExt(t *testing.T) {
	tests := map[string]string{
		`video/mp4; codecs="avc1"`: "mp4",
		`audio/mp4`:                "m4a",
		`audio/webm`:               "webm",
		`video/3gpp`:               "3gp",
		`garbage`:                  "bin",
	}
	for in, want := range tests {
		if got := mimeToExt(in); got != want {
			t.Fatalf("mimeToExt(%q): expected %q, got %q", in, want, got)
		}
	}
}
