package index

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/blevesearch/bleve/v2/mapping"
	bleveindex "github.com/blevesearch/bleve_index_api"
	"github.com/verifyr/verifyr/chunker"
)

func buildTestLexical(t *testing.T, chunks []chunker.Chunk) *LexicalIndex {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lexical.bleve")
	if err := BuildLexicalIndex(path, chunks); err != nil {
		t.Fatalf("BuildLexicalIndex: %v", err)
	}
	idx, err := OpenLexicalIndex(path)
	if err != nil {
		t.Fatalf("OpenLexicalIndex: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestLexicalScoringModelIsBM25(t *testing.T) {
	m, err := lexicalMapping()
	if err != nil {
		t.Fatalf("lexicalMapping: %v", err)
	}
	if m.ScoringModel != bleveindex.BM25Scoring {
		t.Fatalf("scoring model = %q, want %q", m.ScoringModel, bleveindex.BM25Scoring)
	}

	// The model must survive the build/reopen round trip: the stored mapping
	// is what scores queries at serve time.
	idx := buildTestLexical(t, []chunker.Chunk{
		{ChunkID: "a_manual_p1_c0", Text: "battery life up to eighteen hours"},
	})
	im, ok := idx.index.Mapping().(*mapping.IndexMappingImpl)
	if !ok {
		t.Fatalf("unexpected mapping type %T", idx.index.Mapping())
	}
	if im.ScoringModel != bleveindex.BM25Scoring {
		t.Errorf("reopened scoring model = %q, want %q", im.ScoringModel, bleveindex.BM25Scoring)
	}
}

func TestLexicalSearch(t *testing.T) {
	idx := buildTestLexical(t, []chunker.Chunk{
		{ChunkID: "a_manual_p1_c0", Text: "battery life up to eighteen hours"},
		{ChunkID: "b_manual_p1_c0", Text: "water resistance up to fifty meters"},
		{ChunkID: "c_manual_p1_c0", Text: "the strap is interchangeable"},
	})

	hits, err := idx.Search(context.Background(), "battery hours", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("no hits")
	}
	if hits[0].ChunkID != "a_manual_p1_c0" {
		t.Errorf("top hit = %s, want a_manual_p1_c0", hits[0].ChunkID)
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Errorf("hits not sorted by score at %d", i)
		}
	}
}

func TestLexicalSearchCaseInsensitive(t *testing.T) {
	idx := buildTestLexical(t, []chunker.Chunk{
		{ChunkID: "a_manual_p1_c0", Text: "Bluetooth pairing requires the companion app"},
	})

	hits, err := idx.Search(context.Background(), "BLUETOOTH", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].ChunkID != "a_manual_p1_c0" {
		t.Errorf("hits = %v, want the bluetooth chunk", hits)
	}
}

func TestLexicalSearchEmptyQuery(t *testing.T) {
	idx := buildTestLexical(t, []chunker.Chunk{
		{ChunkID: "a_manual_p1_c0", Text: "anything"},
	})

	hits, err := idx.Search(context.Background(), "   ", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("hits = %v, want none", hits)
	}
}

func TestLexicalRebuildReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lexical.bleve")
	if err := BuildLexicalIndex(path, []chunker.Chunk{
		{ChunkID: "old_manual_p1_c0", Text: "old corpus content"},
	}); err != nil {
		t.Fatalf("BuildLexicalIndex: %v", err)
	}
	if err := BuildLexicalIndex(path, []chunker.Chunk{
		{ChunkID: "new_manual_p1_c0", Text: "new corpus content"},
		{ChunkID: "new_manual_p2_c0", Text: "more new content"},
	}); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	idx, err := OpenLexicalIndex(path)
	if err != nil {
		t.Fatalf("OpenLexicalIndex: %v", err)
	}
	defer idx.Close()

	n, err := idx.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}

	hits, err := idx.Search(context.Background(), "old corpus", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, h := range hits {
		if h.ChunkID == "old_manual_p1_c0" {
			t.Error("stale chunk survived rebuild")
		}
	}
}

func TestOpenLexicalMissing(t *testing.T) {
	_, err := OpenLexicalIndex(filepath.Join(t.TempDir(), "absent.bleve"))
	if err == nil {
		t.Fatal("expected error opening missing index")
	}
}
