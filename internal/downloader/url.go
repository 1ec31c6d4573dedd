package downloader

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var timestampParamRegex = regexp.MustCompile(`^\d+s?$`)

// CleanURL validates a user-supplied page URL and strips the parts that only
// affect playback position. YouTube short forms are rewritten to watch URLs.
func CleanURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", wrapCategory(CategoryInvalidInput, errors.New("url is required"))
	}
	validated, err := validateInputURL(raw)
	if err != nil {
		return "", err
	}
	normalized := NormalizeYouTubeURL(ConvertMusicURL(validated))
	return stripTimestamp(normalized), nil
}

func validateInputURL(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", wrapCategory(CategoryInvalidURL, fmt.Errorf("invalid URL: %w", err))
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", wrapCategory(CategoryInvalidURL, fmt.Errorf("invalid URL: missing scheme or host"))
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return "", wrapCategory(CategoryInvalidURL, fmt.Errorf("unsupported URL scheme: %s", parsed.Scheme))
	}
	return parsed.String(), nil
}

// stripTimestamp removes a numeric t= parameter ("t=42" or "t=42s").
func stripTimestamp(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.RawQuery == "" {
		return u
	}
	query := parsed.Query()
	t := query.Get("t")
	if t == "" || !timestampParamRegex.MatchString(t) {
		return u
	}
	query.Del("t")
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

func isYouTubeURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := normalizeHostname(parsed)
	return host == "youtube.com" || host == "youtu.be" || host == "m.youtube.com" || host == "music.youtube.com"
}

// normalizeHostname returns the normalized hostname from a URL:
// lowercase, with "www." prefix removed, and port stripped.
func normalizeHostname(parsed *url.URL) string {
	host := strings.ToLower(parsed.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// ConvertMusicURL converts YouTube Music URLs to regular YouTube URLs
func ConvertMusicURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return u
	}
	if normalizeHostname(parsed) != "music.youtube.com" {
		return u
	}

	// Drop the port too so host checks downstream still match.
	parsed.Host = "www.youtube.com"

	query := parsed.Query()
	delete(query, "si")
	parsed.RawQuery = query.Encode()

	return parsed.String()
}

// NormalizeYouTubeURL converts alternate YouTube URL forms (live/shorts/youtu.be) to watch?v=.
func NormalizeYouTubeURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return u
	}
	host := normalizeHostname(parsed)
	if host != "youtube.com" && host != "youtu.be" && host != "m.youtube.com" {
		return u
	}
	query := parsed.Query()
	if host == "youtu.be" {
		id := strings.TrimPrefix(parsed.Path, "/")
		if id != "" {
			query.Set("v", id)
			query.Del("si")
			parsed.Host = "www.youtube.com"
			parsed.Path = "/watch"
			parsed.RawQuery = query.Encode()
		}
		return parsed.String()
	}

	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(parts) >= 2 && (parts[0] == "live" || parts[0] == "shorts") {
		if query.Get("v") == "" && parts[1] != "" {
			query.Set("v", parts[1])
		}
		parsed.Path = "/watch"
		parsed.RawQuery = query.Encode()
		return parsed.String()
	}
	return u
}
