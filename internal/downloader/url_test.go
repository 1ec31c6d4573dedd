package downloader

import "testing"

func TestValidateInputURL(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "valid http", input: "http://example.com/video.mp4", wantErr: false},
		{name: "valid https", input: "https://example.com/watch?v=123", wantErr: false},
		{name: "missing scheme", input: "example.com/video.mp4", wantErr: true},
		{name: "empty", input: " ", wantErr: true},
		{name: "unsupported scheme", input: "ftp://example.com/video.mp4", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := validateInputURL(tc.input)
			if tc.wantErr && err == nil {
				t.Fatalf("expected error for %q", tc.input)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error for %q: %v", tc.input, err)
			}
		})
	}
}

func TestCleanURL(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "strips seconds timestamp",
			input: "https://www.youtube.com/watch?v=abc123&t=42s",
			want:  "https://www.youtube.com/watch?v=abc123",
		},
		{
			name:  "strips bare timestamp",
			input: "  https://www.youtube.com/watch?t=90&v=abc123 ",
			want:  "https://www.youtube.com/watch?v=abc123",
		},
		{
			name:  "keeps non numeric t",
			input: "https://example.com/clip?t=intro",
			want:  "https://example.com/clip?t=intro",
		},
		{
			name:  "short link",
			input: "https://youtu.be/abc123?si=share&t=5",
			want:  "https://www.youtube.com/watch?v=abc123",
		},
		{
			name:  "shorts",
			input: "https://www.youtube.com/shorts/abc123",
			want:  "https://www.youtube.com/watch?v=abc123",
		},
		{
			name:  "music host",
			input: "https://music.youtube.com/watch?v=abc123&si=x",
			want:  "https://www.youtube.com/watch?v=abc123",
		},
		{
			name:  "other sites untouched",
			input: "https://vimeo.com/12345",
			want:  "https://vimeo.com/12345",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := CleanURL(tc.input)
			if err != nil {
				t.Fatalf("CleanURL(%q): %v", tc.input, err)
			}
			if got != tc.want {
				t.Fatalf("CleanURL(%q): expected %q, got %q", tc.input, tc.want, got)
			}
		})
	}
}

func TestCleanURLErrorCategories(t *testing.T) {
	if _, err := CleanURL("   "); CategoryOf(err) != CategoryInvalidInput {
		t.Fatalf("expected invalid_input for empty url, got %v", err)
	}
	if _, err := CleanURL("not a url"); CategoryOf(err) != CategoryInvalidURL {
		t.Fatalf("expected invalid_url, got %v", err)
	}
}

func TestIsYouTubeURL(t *testing.T) {
	for _, u := range []string{
		"https://www.youtube.com/watch?v=1",
		"https://youtu.be/1",
		"https://m.youtube.com/watch?v=1",
		"https://music.youtube.com/watch?v=1",
	} {
		if !isYouTubeURL(u) {
			t.Fatalf("expected %q to be recognized", u)
		}
	}
	if isYouTubeURL("https://example.com/watch?v=1") {
		t.Fatalf("example.com should not be recognized")
	}
}
