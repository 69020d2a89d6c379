package extract

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInferDocType(t *testing.T) {
	tests := []struct {
		filename string
		want     DocType
	}{
		{"manual.pdf", DocTypeManual},
		{"UserManual_v2.pdf", DocTypeManual},
		{"specifications.pdf", DocTypeSpecifications},
		{"Specs-2026.pdf", DocTypeSpecifications},
		{"specifications_manual.pdf", DocTypeSpecifications},
		{"review_techradar.pdf", DocTypeReview},
		{"REVIEW.pdf", DocTypeReview},
		{"warranty.pdf", DocTypeOther},
	}
	for _, tt := range tests {
		if got := InferDocType(tt.filename); got != tt.want {
			t.Errorf("InferDocType(%q) = %q, want %q", tt.filename, got, tt.want)
		}
	}
}

func TestNormalizeText(t *testing.T) {
	// NFD "é" (e + combining acute) must become the NFC composed form.
	decomposed := "Akkulaufzeit: 18 Stunden, Qualité"
	got := NormalizeText(decomposed)
	want := "Akkulaufzeit: 18 Stunden, Qualité"
	if got != want {
		t.Errorf("NormalizeText NFC: got %q, want %q", got, want)
	}

	if got := NormalizeText("line1\r\nline2\rline3"); got != "line1\nline2\nline3" {
		t.Errorf("line endings: got %q", got)
	}

	// Whitespace structure is preserved.
	if got := NormalizeText("a\n\nb  c"); got != "a\n\nb  c" {
		t.Errorf("whitespace preserved: got %q", got)
	}
}

func TestLoadSourcesMap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sources.json")
	data := `{
		"Apple Watch Series 11": {
			"specifications.pdf": {"source_url": "https://apple.com/specs", "source_name": "Apple"}
		}
	}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadSourcesMap(path)
	if err != nil {
		t.Fatalf("LoadSourcesMap: %v", err)
	}
	ref := m["Apple Watch Series 11"]["specifications.pdf"]
	if ref.SourceURL != "https://apple.com/specs" || ref.SourceName != "Apple" {
		t.Errorf("unexpected ref: %+v", ref)
	}
}

func TestLoadSourcesMapMissingFile(t *testing.T) {
	m, err := LoadSourcesMap(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("missing file should not error, got %v", err)
	}
	if len(m) != 0 {
		t.Errorf("expected empty map, got %v", m)
	}
}

func TestLookupSource(t *testing.T) {
	url := "https://example.com/doc"
	e := New(SourcesMap{
		"Garmin Forerunner 970": {
			"specifications_manual.pdf": {SourceURL: url, SourceName: "Garmin"},
		},
	})

	gotURL, gotName := e.lookupSource("Garmin Forerunner 970", "specifications_manual.pdf")
	if gotURL == nil || *gotURL != url {
		t.Errorf("url = %v, want %q", gotURL, url)
	}
	if gotName == nil || *gotName != "Garmin" {
		t.Errorf("name = %v, want Garmin", gotName)
	}

	// Missing entries yield nils, not an error.
	gotURL, gotName = e.lookupSource("Garmin Forerunner 970", "other.pdf")
	if gotURL != nil || gotName != nil {
		t.Errorf("expected nil refs for unknown file, got %v %v", gotURL, gotName)
	}
	gotURL, gotName = e.lookupSource("Unknown Product", "x.pdf")
	if gotURL != nil || gotName != nil {
		t.Errorf("expected nil refs for unknown product, got %v %v", gotURL, gotName)
	}
}
