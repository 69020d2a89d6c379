package chunker

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/verifyr/verifyr/extract"
)

func words(n int, prefix string) string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return strings.Join(out, " ")
}

func page(text string) extract.Page {
	return extract.Page{
		ProductName: "Apple Watch Series 11",
		DocType:     extract.DocTypeSpecifications,
		PageNum:     9,
		SourceFile:  "specifications.pdf",
		Text:        text,
	}
}

func TestChunkEmptyPage(t *testing.T) {
	c := New(Config{TargetTokens: 800, OverlapTokens: 200})
	if got := c.ChunkPage(page("")); got != nil {
		t.Errorf("empty page should produce zero chunks, got %d", len(got))
	}
	if got := c.ChunkPage(page("   \n\n  ")); got != nil {
		t.Errorf("whitespace page should produce zero chunks, got %d", len(got))
	}
}

func TestChunkSmallPageSingleChunk(t *testing.T) {
	c := New(Config{TargetTokens: 800, OverlapTokens: 200})
	chunks := c.ChunkPage(page("The battery lasts 18 hours in normal use."))
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	ch := chunks[0]
	if ch.ChunkID != "Apple Watch Series 11_specifications_p9_c0" {
		t.Errorf("ChunkID = %q", ch.ChunkID)
	}
	if ch.ChunkIndex != 0 {
		t.Errorf("ChunkIndex = %d, want 0", ch.ChunkIndex)
	}
	if ch.ProductName != "Apple Watch Series 11" || ch.DocType != extract.DocTypeSpecifications ||
		ch.PageNum != 9 || ch.SourceFile != "specifications.pdf" {
		t.Errorf("metadata not denormalized: %+v", ch)
	}
}

func TestChunkDeterministic(t *testing.T) {
	c := New(Config{TargetTokens: 30, OverlapTokens: 10})
	p := page(words(200, "w"))

	first := c.ChunkPage(p)
	second := c.ChunkPage(p)
	if !reflect.DeepEqual(first, second) {
		t.Error("chunking is not deterministic")
	}
	for i, ch := range first {
		want := fmt.Sprintf("Apple Watch Series 11_specifications_p9_c%d", i)
		if ch.ChunkID != want {
			t.Errorf("chunk %d id = %q, want %q", i, ch.ChunkID, want)
		}
	}
}

func TestChunkTokenBound(t *testing.T) {
	c := New(Config{TargetTokens: 50, OverlapTokens: 10})
	text := words(137, "a") + "\n\n" + words(91, "b") + "\n\n" + words(23, "c")
	chunks := c.ChunkPage(page(text))
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	// Target plus overlap tolerance.
	for i, ch := range chunks {
		if n := CountTokens(ch.Text); n > 50+10 {
			t.Errorf("chunk %d has %d tokens, exceeds target+overlap", i, n)
		}
	}
}

func TestChunkOverlap(t *testing.T) {
	c := New(Config{TargetTokens: 30, OverlapTokens: 10})
	chunks := c.ChunkPage(page(words(100, "w")))
	if len(chunks) < 3 {
		t.Fatalf("expected at least 3 chunks, got %d", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		prev := strings.Fields(chunks[i-1].Text)
		cur := strings.Fields(chunks[i].Text)
		overlap := prev[len(prev)-10:]
		if !reflect.DeepEqual(cur[:10], overlap) {
			t.Errorf("chunk %d does not start with the previous chunk's trailing 10 tokens:\nwant %v\ngot  %v",
				i, overlap, cur[:10])
		}
	}
}

func TestChunkCoverage(t *testing.T) {
	// Concatenating chunks with overlap removed reconstructs the page text.
	c := New(Config{TargetTokens: 30, OverlapTokens: 10})
	original := words(100, "w")
	chunks := c.ChunkPage(page(original))

	var rebuilt []string
	for i, ch := range chunks {
		fields := strings.Fields(ch.Text)
		if i > 0 {
			fields = fields[10:]
		}
		rebuilt = append(rebuilt, fields...)
	}
	if got := strings.Join(rebuilt, " "); got != original {
		t.Errorf("coverage broken:\nwant %q\ngot  %q", original, got)
	}
}

func TestChunkBoundaryPreserving(t *testing.T) {
	c := New(Config{TargetTokens: 20, OverlapTokens: 5})
	text := words(35, "alpha") + ". " + words(30, "beta") + "."
	chunks := c.ChunkPage(page(text))

	vocab := make(map[string]bool)
	for _, w := range strings.Fields(text) {
		vocab[w] = true
	}
	for _, ch := range chunks {
		for _, w := range strings.Fields(ch.Text) {
			if !vocab[w] {
				t.Errorf("chunk token %q is not a word of the input (mid-word split?)", w)
			}
		}
	}
}

func TestChunkParagraphPreference(t *testing.T) {
	// Two paragraphs that fit individually are not split mid-paragraph.
	c := New(Config{TargetTokens: 30, OverlapTokens: 5})
	p1 := words(25, "p")
	p2 := words(25, "q")
	chunks := c.ChunkPage(page(p1 + "\n\n" + p2))
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Text != p1 {
		t.Errorf("first chunk should be exactly paragraph 1, got %q", chunks[0].Text)
	}
	if !strings.HasSuffix(chunks[1].Text, p2) {
		t.Errorf("second chunk should end with paragraph 2, got %q", chunks[1].Text)
	}
}

func TestChunkCorpusOrder(t *testing.T) {
	c := New(Config{TargetTokens: 800, OverlapTokens: 200})
	p1 := page("First page text.")
	p2 := page("Second page text.")
	p2.PageNum = 10
	chunks := c.ChunkCorpus([]extract.Page{p1, p2})
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].PageNum != 9 || chunks[1].PageNum != 10 {
		t.Errorf("corpus order broken: %+v", chunks)
	}
}

func TestCountTokens(t *testing.T) {
	if n := CountTokens("one two  three\nfour"); n != 4 {
		t.Errorf("CountTokens = %d, want 4", n)
	}
	if n := CountTokens("   "); n != 0 {
		t.Errorf("CountTokens(blank) = %d, want 0", n)
	}
}
