package downloader

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	catalogTitleStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#0B0B0B")).
				Background(lipgloss.Color("#7FDBFF")).
				Bold(true).
				Padding(0, 1)

	catalogMetaStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#A6ADC8")).
				Faint(true)

	catalogHeaderStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#F8F8F2")).
				Bold(true)

	catalogRowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EAEAEA"))

	catalogMergedStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#00F5D4"))
)

// WriteCatalog renders an InspectResult as a table for terminals.
func WriteCatalog(w io.Writer, result *InspectResult) error {
	var b strings.Builder

	b.WriteString(catalogTitleStyle.Render(result.Title))
	b.WriteString("\n")
	b.WriteString(catalogMetaStyle.Render(fmt.Sprintf("%s · %s · %s views", result.Author, result.Duration, result.Views)))
	b.WriteString("\n\n")

	if len(result.Formats) == 0 {
		b.WriteString(catalogMetaStyle.Render("no formats available"))
		b.WriteString("\n")
		_, err := io.WriteString(w, b.String())
		return err
	}

	b.WriteString(catalogHeaderStyle.Render(fmt.Sprintf("%-8s %-10s %-5s %-10s %s", "quality", "format", "ext", "size", "audio")))
	b.WriteString("\n")
	for _, f := range result.Formats {
		size := "-"
		if f.Filesize > 0 {
			size = humanBytes(f.Filesize)
		}
		audio := "no"
		style := catalogRowStyle
		switch {
		case f.HasAudio:
			audio = "yes"
		case f.WillHaveAudio:
			audio = "merged"
			style = catalogMergedStyle
		}
		line := fmt.Sprintf("%-8s %-10s %-5s %-10s %s", fmt.Sprintf("%dp", f.Resolution), f.FormatID, f.Ext, size, audio)
		b.WriteString(style.Render(line))
		b.WriteString("\n")
	}
	if !result.MuxerAvailable {
		b.WriteString("\n")
		b.WriteString(catalogMetaStyle.Render("ffmpeg not found: video-only formats will download without sound"))
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}
