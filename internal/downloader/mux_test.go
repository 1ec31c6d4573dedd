package downloader

import (
	"slices"
	"testing"
)

func TestMergeArgsCopiesStreams(t *testing.T) {
	args := mergeArgs("/tmp/job/v.mp4", "/tmp/job/a.m4a", "/tmp/job/out.mp4")

	for _, pair := range [][]string{
		{"-i", "/tmp/job/v.mp4"},
		{"-i", "/tmp/job/a.m4a"},
		{"-c", "copy"},
	} {
		found := false
		for i := 0; i+1 < len(args); i++ {
			if args[i] == pair[0] && args[i+1] == pair[1] {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("expected %s %s in %q", pair[0], pair[1], args)
		}
	}
	if !slices.Contains(args, "/tmp/job/out.mp4") {
		t.Fatalf("expected output path in %q", args)
	}
	if !slices.Contains(args, "-y") {
		t.Fatalf("expected overwrite flag in %q", args)
	}
}

func TestMuxerAvailability(t *testing.T) {
	var nilMuxer *FFmpegMuxer
	if nilMuxer.Available() {
		t.Fatalf("nil muxer must not be available")
	}
	if NewFFmpegMuxer("/nonexistent/ffmpeg-binary").Available() {
		t.Fatalf("missing binary must not be available")
	}
	if NewFFmpegMuxer("").Path != "ffmpeg" {
		t.Fatalf("expected default binary name")
	}
}
