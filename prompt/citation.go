package prompt

import (
	"regexp"
	"sort"
	"strconv"

	"github.com/verifyr/verifyr/chunker"
	"github.com/verifyr/verifyr/extract"
)

// Source is the caller-facing projection of a cited chunk. CitationNumber
// is the chunk's position in the context block, exactly as the answer
// references it.
type Source struct {
	CitationNumber int             `json:"citation_number"`
	ProductName    string          `json:"product_name"`
	DocType        extract.DocType `json:"doc_type"`
	PageNum        int             `json:"page_num"`
	SourceFile     string          `json:"source_file"`
	SourceURL      *string         `json:"source_url,omitempty"`
	SourceName     *string         `json:"source_name,omitempty"`
}

var citationRe = regexp.MustCompile(`\[(\d+)\]`)

// ExtractSources parses [n] citations from the answer and maps them back to
// the retrieved chunks by context position. Numbers outside [1, len(chunks)]
// are dropped. When the answer carries no parseable citation, every
// retrieved chunk becomes a source so the caller always sees provenance.
func ExtractSources(answer string, chunks []*chunker.Chunk) []Source {
	cited := make(map[int]bool)
	for _, m := range citationRe.FindAllStringSubmatch(answer, -1) {
		n, err := strconv.Atoi(m[1])
		if err == nil && n >= 1 && n <= len(chunks) {
			cited[n] = true
		}
	}

	if len(cited) == 0 {
		sources := make([]Source, len(chunks))
		for i, chunk := range chunks {
			sources[i] = sourceFromChunk(i+1, chunk)
		}
		return sources
	}

	numbers := make([]int, 0, len(cited))
	for n := range cited {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	sources := make([]Source, 0, len(numbers))
	for _, n := range numbers {
		sources = append(sources, sourceFromChunk(n, chunks[n-1]))
	}
	return sources
}

func sourceFromChunk(citationNumber int, chunk *chunker.Chunk) Source {
	return Source{
		CitationNumber: citationNumber,
		ProductName:    chunk.ProductName,
		DocType:        chunk.DocType,
		PageNum:        chunk.PageNum,
		SourceFile:     chunk.SourceFile,
		SourceURL:      chunk.SourceURL,
		SourceName:     chunk.SourceName,
	}
}
