package downloader

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// FFmpegMuxer merges separately downloaded video and audio streams.
type FFmpegMuxer struct {
	Path string
}

// NewFFmpegMuxer returns a muxer for path, or "ffmpeg" from PATH when empty.
func NewFFmpegMuxer(path string) *FFmpegMuxer {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpegMuxer{Path: path}
}

// Available checks if ffmpeg is executable.
func (m *FFmpegMuxer) Available() bool {
	if m == nil {
		return false
	}
	_, err := exec.LookPath(m.Path)
	return err == nil
}

// mergeArgs builds the ffmpeg argument list: both inputs mapped, streams
// copied without re-encoding.
func mergeArgs(videoPath, audioPath, outputPath string) []string {
	video := ffmpeg.Input(videoPath)
	audio := ffmpeg.Input(audioPath)
	return ffmpeg.Output([]*ffmpeg.Stream{video, audio}, outputPath, ffmpeg.KwArgs{
		"c":        "copy",
		"movflags": "+faststart",
	}).OverWriteOutput().GetArgs()
}

// Merge writes outputPath from the two inputs and removes the inputs on
// success.
func (m *FFmpegMuxer) Merge(ctx context.Context, videoPath, audioPath, outputPath string) error {
	cmd := exec.CommandContext(ctx, m.Path, mergeArgs(videoPath, audioPath, outputPath)...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		_ = os.Remove(outputPath)
		stderr := strings.TrimSpace(string(output))
		if i := strings.LastIndex(stderr, "\n"); i >= 0 {
			stderr = stderr[i+1:]
		}
		if stderr != "" {
			return wrapCategory(CategoryTool, fmt.Errorf("ffmpeg merge failed: %s: %w", stderr, err))
		}
		return wrapCategory(CategoryTool, fmt.Errorf("ffmpeg merge failed: %w", err))
	}
	_ = os.Remove(videoPath)
	_ = os.Remove(audioPath)
	return nil
}
