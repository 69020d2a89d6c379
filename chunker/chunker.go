// Package chunker splits page text into overlapping, token-bounded chunks,
// the unit of retrieval.
package chunker

import (
	"fmt"
	"strings"

	"github.com/verifyr/verifyr/extract"
)

// Chunk is a token-bounded slice of a source page. All page metadata is
// denormalized in so consumers never need a page lookup.
type Chunk struct {
	ChunkID     string          `json:"chunk_id"`
	ProductName string          `json:"product_name"`
	DocType     extract.DocType `json:"doc_type"`
	PageNum     int             `json:"page_num"`
	SourceFile  string          `json:"source_file"`
	SourceURL   *string         `json:"source_url"`
	SourceName  *string         `json:"source_name"`
	ChunkIndex  int             `json:"chunk_index"` // 0-indexed within the page
	Text        string          `json:"text"`
}

// Config controls the chunking behaviour.
type Config struct {
	TargetTokens  int // Target chunk size in tokens.
	OverlapTokens int // Token overlap between consecutive chunks.
}

// Chunker converts extracted pages into retrieval chunks.
type Chunker struct {
	cfg Config
}

// New returns a Chunker with the given configuration.
// Zero-value fields are replaced with the documented defaults.
func New(cfg Config) *Chunker {
	if cfg.TargetTokens == 0 {
		cfg.TargetTokens = 800
	}
	if cfg.OverlapTokens == 0 {
		cfg.OverlapTokens = 200
	}
	return &Chunker{cfg: cfg}
}

// CountTokens is the chunk length estimator: whitespace-separated fields.
// The lexical index tokenizer and the query analyzer's length rule count
// tokens the same way.
func CountTokens(text string) int {
	return len(strings.Fields(text))
}

// ChunkPage splits one page into chunks. Empty or whitespace-only pages
// produce zero chunks. The same page always yields the same sequence.
func (c *Chunker) ChunkPage(page extract.Page) []Chunk {
	text := strings.TrimSpace(page.Text)
	if text == "" {
		return nil
	}

	fragments := c.split(text, 0, "")
	chunks := make([]Chunk, 0, len(fragments))
	for i, frag := range fragments {
		chunks = append(chunks, Chunk{
			ChunkID:     ChunkID(page.ProductName, page.DocType, page.PageNum, i),
			ProductName: page.ProductName,
			DocType:     page.DocType,
			PageNum:     page.PageNum,
			SourceFile:  page.SourceFile,
			SourceURL:   page.SourceURL,
			SourceName:  page.SourceName,
			ChunkIndex:  i,
			Text:        frag,
		})
	}
	return chunks
}

// ChunkCorpus chunks every page in order.
func (c *Chunker) ChunkCorpus(pages []extract.Page) []Chunk {
	var chunks []Chunk
	for _, p := range pages {
		chunks = append(chunks, c.ChunkPage(p)...)
	}
	return chunks
}

// ChunkID builds the globally unique chunk identifier.
func ChunkID(product string, docType extract.DocType, pageNum, chunkIndex int) string {
	return fmt.Sprintf("%s_%s_p%d_c%d", product, docType, pageNum, chunkIndex)
}

// Separator preference, highest first. Below the last level the text is
// split at word boundaries; a single word always fits since it counts as
// one token.
var separators = []string{"\n\n", "\n", ". "}

// split breaks text into fragments of at most TargetTokens tokens (plus the
// overlap carried from the previous fragment), preferring high-level
// separators and descending only when a single unit is itself oversized.
func (c *Chunker) split(text string, level int, initialOverlap string) []string {
	if initialOverlap == "" && CountTokens(text) <= c.cfg.TargetTokens {
		return []string{strings.TrimSpace(text)}
	}

	units, joiner := c.splitUnits(text, level)

	var fragments []string
	var current strings.Builder
	currentTokens := 0
	overlapOnly := false

	startWith := func(overlap string) {
		current.Reset()
		currentTokens = 0
		overlapOnly = false
		if overlap != "" {
			current.WriteString(overlap)
			currentTokens = CountTokens(overlap)
			overlapOnly = true
		}
	}
	flush := func() string {
		frag := strings.TrimSpace(current.String())
		if frag != "" {
			fragments = append(fragments, frag)
		}
		return extractOverlap(frag, c.cfg.OverlapTokens)
	}

	startWith(initialOverlap)

	for _, unit := range units {
		unitTokens := CountTokens(unit)

		// A single oversized unit is split at the next separator level.
		if unitTokens > c.cfg.TargetTokens && level < len(separators) {
			overlap := ""
			if overlapOnly {
				overlap = strings.TrimSpace(current.String())
			} else if current.Len() > 0 {
				overlap = flush()
			}
			sub := c.split(unit, level+1, overlap)
			fragments = append(fragments, sub...)
			nextOverlap := ""
			if len(sub) > 0 {
				nextOverlap = extractOverlap(sub[len(sub)-1], c.cfg.OverlapTokens)
			}
			startWith(nextOverlap)
			continue
		}

		// Emit the current fragment when the next unit would exceed the
		// target — unless the fragment holds nothing but carried overlap.
		if currentTokens+unitTokens > c.cfg.TargetTokens && current.Len() > 0 && !overlapOnly {
			startWith(flush())
		}

		if current.Len() > 0 {
			current.WriteString(joiner)
		}
		current.WriteString(unit)
		currentTokens += unitTokens
		overlapOnly = false
	}

	if !overlapOnly {
		flush()
	}
	return fragments
}

// splitUnits returns the text's units at the given separator level and the
// joiner used to reassemble them.
func (c *Chunker) splitUnits(text string, level int) (units []string, joiner string) {
	if level >= len(separators) {
		return strings.Fields(text), " "
	}

	sep := separators[level]
	if sep == ". " {
		return splitSentences(text), " "
	}

	raw := strings.Split(text, sep)
	units = make([]string, 0, len(raw))
	for _, u := range raw {
		u = strings.TrimSpace(u)
		if u != "" {
			units = append(units, u)
		}
	}
	return units, sep
}

// splitSentences splits after sentence-ending punctuation followed by
// whitespace, keeping the punctuation with its sentence.
func splitSentences(text string) []string {
	var sentences []string
	var cur strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		cur.WriteRune(runes[i])
		if runes[i] == '.' || runes[i] == '?' || runes[i] == '!' {
			if i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t' {
				s := strings.TrimSpace(cur.String())
				if s != "" {
					sentences = append(sentences, s)
				}
				cur.Reset()
			}
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// extractOverlap returns the trailing maxTokens whitespace tokens of text.
func extractOverlap(text string, maxTokens int) string {
	words := strings.Fields(text)
	if len(words) == 0 || maxTokens <= 0 {
		return ""
	}
	if maxTokens > len(words) {
		maxTokens = len(words)
	}
	return strings.Join(words[len(words)-maxTokens:], " ")
}
