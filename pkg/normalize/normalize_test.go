package normalize

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		strip    bool
		want     string
	}{
		{
			name:     "sample from S1",
			filename: "Sample.Keyword.1080p.x264.mp4",
			strip:    true,
			want:     "samplekeyword",
		},
		{
			name:     "same-batch near-duplicate pair, dotted",
			filename: "Foo.Keyword.1080p.mp4",
			strip:    true,
			want:     "fookeyword",
		},
		{
			name:     "same-batch near-duplicate pair, underscored",
			filename: "foo_keyword_720p.mp4",
			strip:    true,
			want:     "fookeyword",
		},
		{
			name:     "case insensitive",
			filename: "FOO.MKV",
			strip:    true,
			want:     "foo",
		},
		{
			name:     "codec and audio tokens stripped",
			filename: "Movie.x264.AAC.mkv",
			strip:    true,
			want:     "movie",
		},
		{
			name:     "bracketed release token stripped",
			filename: "Show.S01E01.[WEB-DL].mkv",
			strip:    true,
			want:     "shows01e01",
		},
		{
			name:     "domain suffix stripped",
			filename: "clip.xxx.mp4",
			strip:    true,
			want:     "clip",
		},
		{
			name:     "empty filename stays empty",
			filename: "",
			strip:    true,
			want:     "",
		},
		{
			name:     "normalizeFilenames false - lowercase only",
			filename: "Foo.Keyword.1080p.MP4",
			strip:    false,
			want:     "foo.keyword.1080p.mp4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.filename, tt.strip); got != tt.want {
				t.Errorf("Normalize(%q, %v) = %q, want %q", tt.filename, tt.strip, got, tt.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"Sample.Keyword.1080p.x264.mp4",
		"Show.S01E01.[WEB-DL].mkv",
		"plain-name",
		"",
	}
	for _, in := range inputs {
		once := Normalize(in, true)
		twice := Normalize(once, true)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}
}

func TestNormalizeCaseInsensitive(t *testing.T) {
	a := Normalize("FOO.BAR.MP4", true)
	b := Normalize("foo.bar.mp4", true)
	if a != b {
		t.Errorf("expected case-insensitive equality, got %q vs %q", a, b)
	}
}

func TestNormalizeEmptyNeverMatchesEmpty(t *testing.T) {
	// The spec states empty-vs-empty comparisons never match; that
	// invariant is enforced by callers (the oracle), not by Normalize
	// itself, but we confirm here that an all-token filename does
	// legitimately reduce to empty so callers have something to guard.
	got := Normalize("1080p.x264.mp4", true)
	if got != "" {
		t.Errorf("expected empty normalized name for all-token filename, got %q", got)
	}
}
