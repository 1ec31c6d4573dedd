package downloader

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewJobDirUniqueWithinSameSecond(t *testing.T) {
	root := t.TempDir()
	now := time.Unix(1700000000, 0)

	first, err := newJobDir(root, now)
	if err != nil {
		t.Fatalf("first job dir: %v", err)
	}
	second, err := newJobDir(root, now)
	if err != nil {
		t.Fatalf("second job dir: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct directories, both %q", first)
	}
	for _, dir := range []string{first, second} {
		if !strings.HasPrefix(filepath.Base(dir), "1700000000-") {
			t.Fatalf("expected timestamp prefix, got %q", dir)
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected %q to exist as a directory", dir)
		}
	}
}

func TestLocateOutput(t *testing.T) {
	dir := t.TempDir()
	for name, size := range map[string]int{
		"a.part":      10,
		"b.info.json": 10,
		"c.webm":      20,
		"d.mp4":       30,
	} {
		if err := os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "a.mp4"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	path, info, err := locateOutput(dir)
	if err != nil {
		t.Fatalf("locateOutput: %v", err)
	}
	if filepath.Base(path) != "c.webm" || info.Size() != 20 {
		t.Fatalf("expected c.webm (20 bytes), got %s (%d)", path, info.Size())
	}
}

func TestLocateOutputMissing(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "video.f137.mp4.part"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, _, err := locateOutput(dir)
	if CategoryOf(err) != CategoryNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestValidateOutputSize(t *testing.T) {
	if err := validateOutputSize(DefaultMinFileSize, 0); err != nil {
		t.Fatalf("exactly the minimum should pass: %v", err)
	}
	err := validateOutputSize(512*1024, 0)
	if err == nil {
		t.Fatalf("expected error for a small file")
	}
	if err.Error() != "file too small (0.5 MB)" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if err := validateOutputSize(100, 10); err != nil {
		t.Fatalf("custom minimum should apply: %v", err)
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: `Clip: "Part 1" / Final?`, want: "Clip Part 1  Final"},
		{in: `a<b>c|d*e\f`, want: "abcdef"},
		{in: "  trailing dots...  ", want: "trailing dots"},
		{in: `???`, want: "video"},
		{in: "Видео", want: "Видео"},
	}
	for _, tt := range tests {
		if got := sanitize(tt.in); got != tt.want {
			t.Fatalf("sanitize(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestJobFileCloseRemovesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "job")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := filepath.Join(dir, "out.mp4")
	if err := os.WriteFile(path, []byte("payload"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	f, err := openJobFile(path, dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, err := io.ReadAll(f)
	if err != nil || string(data) != "payload" {
		t.Fatalf("read: %q %v", data, err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("expected job directory to be removed, stat err=%v", err)
	}
}

func TestHumanBytes(t *testing.T) {
	tests := map[int64]string{
		512:             "512B",
		2048:            "2.0KB",
		5 * 1024 * 1024: "5.0MB",
		3 << 30:         "3.0GB",
	}
	for in, want := range tests {
		if got := humanBytes(in); got != want {
			t.Fatalf("humanBytes(%d): expected %q, got %q", in, want, got)
		}
	}
}
