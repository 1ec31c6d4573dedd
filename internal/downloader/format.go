package downloader

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// FormatDescriptor is one stream variant reported by an extractor.
// Resolution is the vertical pixel count; zero means unknown.
type FormatDescriptor struct {
	Resolution    int    `json:"resolution"`
	FormatID      string `json:"format_id"`
	Filesize      int64  `json:"filesize"`
	Ext           string `json:"ext"`
	HasAudio      bool   `json:"has_audio"`
	// WillHaveAudio is advisory and only set by FilterCatalog.
	WillHaveAudio bool   `json:"will_have_audio"`
}

// DefaultResolutions is the allow-list used when none is configured.
var DefaultResolutions = []int{1080, 720, 480, 360}

// CatalogPolicy controls which descriptors are surfaced to callers.
type CatalogPolicy struct {
	Resolutions []int
	// Dedupe keeps only the first descriptor seen per resolution, in
	// extractor order. It does not look at bitrate.
	Dedupe bool
}

func (p CatalogPolicy) allows(resolution int) bool {
	resolutions := p.Resolutions
	if len(resolutions) == 0 {
		resolutions = DefaultResolutions
	}
	for _, r := range resolutions {
		if r == resolution {
			return true
		}
	}
	return false
}

// ThresholdMode selects how MergePolicy.Threshold is compared.
type ThresholdMode string

const (
	ThresholdExact   ThresholdMode = "exact"
	ThresholdAtLeast ThresholdMode = "at_least"
)

// ParseThresholdMode accepts "exact", "at_least" (or ">=") and defaults to exact.
func ParseThresholdMode(raw string) (ThresholdMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "exact", "=":
		return ThresholdExact, nil
	case "at_least", "at-least", "atleast", ">=":
		return ThresholdAtLeast, nil
	default:
		return "", fmt.Errorf("invalid merge threshold mode %q (expected exact or at_least)", raw)
	}
}

// MergePolicy decides when a video-only stream gets paired with a separate
// audio stream.
type MergePolicy struct {
	Threshold int
	Mode      ThresholdMode
	VideoExt  string
	AudioExt  string
}

// DefaultMergePolicy merges only at exactly 1080p.
func DefaultMergePolicy() MergePolicy {
	return MergePolicy{
		Threshold: 1080,
		Mode:      ThresholdExact,
		VideoExt:  "mp4",
		AudioExt:  "m4a",
	}
}

// Meets reports whether resolution qualifies for a merge under the policy.
func (p MergePolicy) Meets(resolution int) bool {
	if resolution <= 0 || p.Threshold <= 0 {
		return false
	}
	if p.Mode == ThresholdAtLeast {
		return resolution >= p.Threshold
	}
	return resolution == p.Threshold
}

// FilterCatalog keeps allow-listed resolutions, optionally drops repeated
// resolutions, sorts highest first and annotates WillHaveAudio.
// The input slice is not modified.
func FilterCatalog(formats []FormatDescriptor, catalog CatalogPolicy, merge MergePolicy, muxerAvailable bool) []FormatDescriptor {
	kept := make([]FormatDescriptor, 0, len(formats))
	seen := make(map[int]struct{}, len(formats))
	for _, f := range formats {
		if f.Resolution <= 0 || !catalog.allows(f.Resolution) {
			continue
		}
		if catalog.Dedupe {
			if _, dup := seen[f.Resolution]; dup {
				continue
			}
			seen[f.Resolution] = struct{}{}
		}
		f.WillHaveAudio = f.HasAudio || (muxerAvailable && merge.Meets(f.Resolution))
		kept = append(kept, f)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Resolution > kept[j].Resolution
	})
	return kept
}

var (
	errNoFormats      = errors.New("no available formats")
	errFormatNotFound = errors.New("format not found")
)

// SelectFormat picks the descriptor to download. An exact match on
// requestedID wins. Otherwise the highest resolution with audio is used,
// then the highest resolution overall. When strict is set a missing
// requestedID is an error instead of a fallback.
func SelectFormat(formats []FormatDescriptor, requestedID string, strict bool) (FormatDescriptor, error) {
	if requestedID != "" {
		for _, f := range formats {
			if f.FormatID == requestedID {
				return f, nil
			}
		}
		if strict {
			return FormatDescriptor{}, wrapCategory(CategoryNotFound, fmt.Errorf("%w: %s", errFormatNotFound, requestedID))
		}
	} else if strict {
		return FormatDescriptor{}, wrapCategory(CategoryInvalidInput, errors.New("format_id is required"))
	}

	known := make([]FormatDescriptor, 0, len(formats))
	for _, f := range formats {
		if f.Resolution > 0 {
			known = append(known, f)
		}
	}
	if len(known) == 0 {
		return FormatDescriptor{}, wrapCategory(CategoryNotFound, errNoFormats)
	}
	sort.SliceStable(known, func(i, j int) bool {
		return known[i].Resolution > known[j].Resolution
	})
	for _, f := range known {
		if f.HasAudio {
			return f, nil
		}
	}
	return known[0], nil
}

// Selection is the outcome of DecideMerge.
type Selection struct {
	Chosen        FormatDescriptor
	MergeRequired bool
	// Expression is the stream expression handed to the extractor.
	Expression string
}

// DecideMerge turns a chosen descriptor into a stream expression. A
// video-only descriptor at or above the merge threshold is paired with the
// best separate audio when a muxer exists; anything else is requested as-is,
// which may produce a silent file.
func DecideMerge(chosen FormatDescriptor, muxerAvailable bool, policy MergePolicy) Selection {
	if muxerAvailable && !chosen.HasAudio && policy.Meets(chosen.Resolution) {
		return Selection{
			Chosen:        chosen,
			MergeRequired: true,
			Expression:    mergeExpression(chosen.Resolution, policy),
		}
	}
	return Selection{Chosen: chosen, Expression: chosen.FormatID}
}

func mergeExpression(height int, policy MergePolicy) string {
	video := fmt.Sprintf("bestvideo[height<=%d]", height)
	if policy.VideoExt != "" {
		video += fmt.Sprintf("[ext=%s]", policy.VideoExt)
	}
	audio := "bestaudio"
	if policy.AudioExt != "" {
		audio += fmt.Sprintf("[ext=%s]", policy.AudioExt)
	}
	return fmt.Sprintf("%s+%s/best[height<=%d]", video, audio, height)
}
