// Package config builds the startup-time configuration object. Values come
// from defaults, an optional TOML file, YTFETCH_* environment variables and
// command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/lvcoi/ytfetch/internal/downloader"
)

const (
	ExtractorYtDlp  = "ytdlp"
	ExtractorNative = "native"
)

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:122.0) Gecko/20100101 Firefox/122.0",
}

type Config struct {
	Addr        string   `toml:"addr"`
	TempRoot    string   `toml:"temp_root"`
	CookieFile  string   `toml:"cookie_file"`
	UserAgents  []string `toml:"user_agents"`
	Extractor   string   `toml:"extractor"`
	YtDlpPath   string   `toml:"ytdlp_path"`
	FFmpegPath  string   `toml:"ffmpeg_path"`
	MinFileSize int64    `toml:"min_file_size"`

	Catalog   CatalogConfig   `toml:"catalog"`
	Merge     MergeConfig     `toml:"merge"`
	Selection SelectionConfig `toml:"selection"`
	Log       LogConfig       `toml:"log"`
}

type CatalogConfig struct {
	Resolutions []int `toml:"resolutions"`
	Dedupe      bool  `toml:"dedupe"`
}

type MergeConfig struct {
	Threshold int    `toml:"threshold"`
	Mode      string `toml:"mode"`
	VideoExt  string `toml:"video_ext"`
	AudioExt  string `toml:"audio_ext"`
	Format    string `toml:"format"`
}

type SelectionConfig struct {
	StrictFormatID bool `toml:"strict_format_id"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the configuration used when nothing else is supplied.
func Default() *Config {
	return &Config{
		Addr:        ":5000",
		CookieFile:  "cookies.txt",
		UserAgents:  append([]string(nil), defaultUserAgents...),
		Extractor:   ExtractorYtDlp,
		MinFileSize: downloader.DefaultMinFileSize,
		Catalog: CatalogConfig{
			Resolutions: append([]int(nil), downloader.DefaultResolutions...),
			Dedupe:      true,
		},
		Merge: MergeConfig{
			Threshold: 1080,
			Mode:      string(downloader.ThresholdExact),
			VideoExt:  "mp4",
			AudioExt:  "m4a",
			Format:    "mp4",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LookupEnv matches os.LookupEnv.
type LookupEnv func(key string) (string, bool)

// Load reads defaults, then the TOML file at path (if non-empty), then the
// environment.
func Load(path string, env LookupEnv) (*Config, error) {
	cfg := Default()
	if path != "" {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return nil, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}
	if env != nil {
		if err := cfg.applyEnv(env); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (c *Config) applyEnv(env LookupEnv) error {
	str := func(key string, dst *string) {
		if v, ok := env(key); ok && v != "" {
			*dst = v
		}
	}
	str("YTFETCH_ADDR", &c.Addr)
	if port, ok := env("PORT"); ok && port != "" {
		c.Addr = ":" + port
	}
	str("YTFETCH_TEMP_ROOT", &c.TempRoot)
	str("YTFETCH_COOKIE_FILE", &c.CookieFile)
	str("YTFETCH_EXTRACTOR", &c.Extractor)
	str("YTFETCH_YTDLP_PATH", &c.YtDlpPath)
	str("YTFETCH_FFMPEG_PATH", &c.FFmpegPath)
	str("YTFETCH_MERGE_MODE", &c.Merge.Mode)
	str("YTFETCH_LOG_LEVEL", &c.Log.Level)
	str("YTFETCH_LOG_FORMAT", &c.Log.Format)

	if v, ok := env("YTFETCH_USER_AGENTS"); ok {
		c.UserAgents = splitList(v, "|")
	}
	if v, ok := env("YTFETCH_RESOLUTIONS"); ok && v != "" {
		res, err := ParseResolutions(v)
		if err != nil {
			return fmt.Errorf("YTFETCH_RESOLUTIONS: %w", err)
		}
		c.Catalog.Resolutions = res
	}
	if v, ok := env("YTFETCH_DEDUPE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("YTFETCH_DEDUPE: %w", err)
		}
		c.Catalog.Dedupe = b
	}
	if v, ok := env("YTFETCH_STRICT_FORMAT_ID"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("YTFETCH_STRICT_FORMAT_ID: %w", err)
		}
		c.Selection.StrictFormatID = b
	}
	if v, ok := env("YTFETCH_MERGE_THRESHOLD"); ok && v != "" {
		n, err := strconv.Atoi(strings.TrimSuffix(v, "p"))
		if err != nil {
			return fmt.Errorf("YTFETCH_MERGE_THRESHOLD: %w", err)
		}
		c.Merge.Threshold = n
	}
	if v, ok := env("YTFETCH_MIN_FILE_SIZE"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("YTFETCH_MIN_FILE_SIZE: %w", err)
		}
		c.MinFileSize = n
	}
	return nil
}

// ParseResolutions parses "1080,720,480p" into []int.
func ParseResolutions(raw string) ([]int, error) {
	var out []int
	for _, part := range splitList(raw, ",") {
		n, err := strconv.Atoi(strings.TrimSuffix(strings.ToLower(part), "p"))
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid resolution %q", part)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, errors.New("resolution list is empty")
	}
	return out, nil
}

func splitList(raw, sep string) []string {
	var out []string
	for _, part := range strings.Split(raw, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks values that flags, env and the file cannot type-check.
func (c *Config) Validate() error {
	switch c.Extractor {
	case ExtractorYtDlp, ExtractorNative:
	default:
		return fmt.Errorf("invalid extractor %q (expected %s or %s)", c.Extractor, ExtractorYtDlp, ExtractorNative)
	}
	if _, err := downloader.ParseThresholdMode(c.Merge.Mode); err != nil {
		return err
	}
	if c.Merge.Threshold < 0 {
		return fmt.Errorf("invalid merge threshold %d", c.Merge.Threshold)
	}
	for _, r := range c.Catalog.Resolutions {
		if r <= 0 {
			return fmt.Errorf("invalid resolution %d", r)
		}
	}
	if c.MinFileSize < 0 {
		return fmt.Errorf("invalid min_file_size %d", c.MinFileSize)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log format %q (expected text or json)", c.Log.Format)
	}
	return nil
}

// Tools records the external binaries found at startup.
type Tools struct {
	YtDlpPath  string
	FFmpegPath string
}

func (t Tools) MuxerAvailable() bool {
	return t.FFmpegPath != ""
}

// Detect resolves tool paths once. A missing tool leaves its path empty.
func (c *Config) Detect(lookPath func(string) (string, error)) Tools {
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	resolve := func(configured, fallback string) string {
		name := configured
		if name == "" {
			name = fallback
		}
		path, err := lookPath(name)
		if err != nil {
			return ""
		}
		return path
	}
	return Tools{
		YtDlpPath:  resolve(c.YtDlpPath, "yt-dlp"),
		FFmpegPath: resolve(c.FFmpegPath, "ffmpeg"),
	}
}

// MergePolicy converts the merge section into the downloader's policy.
func (c *Config) MergePolicy() downloader.MergePolicy {
	mode, err := downloader.ParseThresholdMode(c.Merge.Mode)
	if err != nil {
		mode = downloader.ThresholdExact
	}
	return downloader.MergePolicy{
		Threshold: c.Merge.Threshold,
		Mode:      mode,
		VideoExt:  c.Merge.VideoExt,
		AudioExt:  c.Merge.AudioExt,
	}
}

// ServiceOptions assembles the options passed to downloader.NewService.
func (c *Config) ServiceOptions(tools Tools, tempRoot string) downloader.Options {
	return downloader.Options{
		Catalog: downloader.CatalogPolicy{
			Resolutions: c.Catalog.Resolutions,
			Dedupe:      c.Catalog.Dedupe,
		},
		Merge:          c.MergePolicy(),
		StrictFormatID: c.Selection.StrictFormatID,
		MuxerAvailable: tools.MuxerAvailable(),
		TempRoot:       tempRoot,
		MinFileSize:    c.MinFileSize,
		MergeFormat:    c.Merge.Format,
		CookieFile:     c.CookieFile,
		UserAgents:     downloader.NewUserAgentPool(c.UserAgents),
	}
}
