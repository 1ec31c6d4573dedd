package downloader

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultMinFileSize is the smallest output accepted as a real render.
const DefaultMinFileSize int64 = 1024 * 1024

var acceptedContainers = map[string]struct{}{
	".mp4":  {},
	".mkv":  {},
	".webm": {},
}

var errOutputNotFound = errors.New("output file not found")

// newJobDir creates <root>/<unix-seconds>-<uuid>. The timestamp keeps the
// directories sortable; the uuid keeps same-second requests apart.
func newJobDir(root string, now time.Time) (string, error) {
	if root == "" {
		root = os.TempDir()
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return "", wrapCategory(CategoryFilesystem, fmt.Errorf("generating job id: %w", err))
	}
	dir := filepath.Join(root, strconv.FormatInt(now.Unix(), 10)+"-"+id.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", wrapCategory(CategoryFilesystem, fmt.Errorf("creating job directory: %w", err))
	}
	return dir, nil
}

// locateOutput returns the first file in dir, by name, with an accepted
// container extension.
func locateOutput(dir string) (string, os.FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", nil, wrapCategory(CategoryFilesystem, fmt.Errorf("reading job directory: %w", err))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := acceptedContainers[strings.ToLower(filepath.Ext(entry.Name()))]; !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		return filepath.Join(dir, entry.Name()), info, nil
	}
	return "", nil, wrapCategory(CategoryNotFound, errOutputNotFound)
}

// validateOutputSize rejects files too small to be a real video.
func validateOutputSize(size, minSize int64) error {
	if minSize <= 0 {
		minSize = DefaultMinFileSize
	}
	if size < minSize {
		return wrapCategory(CategoryTool, fmt.Errorf("file too small (%.1f MB)", float64(size)/(1024*1024)))
	}
	return nil
}

var invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`)

// sanitize strips characters that are illegal in common filesystems.
func sanitize(name string) string {
	clean := invalidFilenameChars.ReplaceAllString(name, "")
	clean = strings.TrimSpace(clean)
	clean = strings.TrimRight(clean, ". ")
	if clean == "" {
		return "video"
	}
	return clean
}

// jobFile streams a produced file and removes its job directory on Close.
type jobFile struct {
	*os.File
	dir string
}

func openJobFile(path, dir string) (*jobFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, wrapCategory(CategoryFilesystem, err)
	}
	return &jobFile{File: f, dir: dir}, nil
}

func (j *jobFile) Close() error {
	err := j.File.Close()
	_ = os.RemoveAll(j.dir)
	return err
}

var _ io.ReadCloser = (*jobFile)(nil)

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for n >= unit*div && exp < 3 {
		div *= unit
		exp++
	}
	value := float64(n) / float64(div)
	suffix := []string{"KB", "MB", "GB", "TB"}
	return fmt.Sprintf("%.1f%s", value, suffix[exp])
}
