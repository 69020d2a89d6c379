// Package extract converts product documentation PDFs into ordered page
// records carrying product and document metadata.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/unicode/norm"
)

// ErrExtraction is returned when a source PDF cannot be opened.
var ErrExtraction = errors.New("extract: cannot open document")

// DocType classifies a source document by its filename.
type DocType string

const (
	DocTypeManual         DocType = "manual"
	DocTypeSpecifications DocType = "specifications"
	DocTypeReview         DocType = "review"
	DocTypeOther          DocType = "other"
)

// Page is one physical page of a source document.
// (product_name, source_file, page_num) uniquely identifies a Page.
type Page struct {
	ProductName string  `json:"product_name"`
	DocType     DocType `json:"doc_type"`
	PageNum     int     `json:"page_num"` // 1-indexed
	SourceFile  string  `json:"source_file"`
	SourceURL   *string `json:"source_url"`
	SourceName  *string `json:"source_name"`
	Text        string  `json:"text"`
}

// SourceRef is one entry of the sources map: the origin of a source file.
type SourceRef struct {
	SourceURL  string `json:"source_url"`
	SourceName string `json:"source_name"`
}

// SourcesMap maps product name -> relative file path -> source origin.
type SourcesMap map[string]map[string]SourceRef

// LoadSourcesMap reads the companion JSON map. A missing file is not an
// error: pages simply get null URL fields.
func LoadSourcesMap(path string) (SourcesMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return SourcesMap{}, nil
		}
		return nil, fmt.Errorf("reading sources map: %w", err)
	}
	var m SourcesMap
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing sources map: %w", err)
	}
	return m, nil
}

// Extractor reads product directories of PDFs and emits Pages.
type Extractor struct {
	sources SourcesMap
}

// New returns an Extractor joining the given sources map during extraction.
// A nil map is allowed.
func New(sources SourcesMap) *Extractor {
	if sources == nil {
		sources = SourcesMap{}
	}
	return &Extractor{sources: sources}
}

// ExtractCorpus walks every subdirectory of root, treating each as one
// product, and returns all pages in (product, file, page) order.
func (e *Extractor) ExtractCorpus(ctx context.Context, root string) ([]Page, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading corpus root: %w", err)
	}

	var names []string
	for _, ent := range entries {
		if ent.IsDir() {
			names = append(names, ent.Name())
		}
	}
	sort.Strings(names)

	var pages []Page
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		productPages, err := e.ExtractProduct(ctx, filepath.Join(root, name), name)
		if err != nil {
			return nil, err
		}
		pages = append(pages, productPages...)
	}
	return pages, nil
}

// ExtractProduct reads every PDF under dir and emits one Page per physical
// page. The product name is normally derived from the enclosing folder and
// passed by the caller.
func (e *Extractor) ExtractProduct(ctx context.Context, dir, productName string) ([]Page, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".pdf") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking product dir %s: %w", dir, err)
	}
	sort.Strings(files)

	var pages []Page
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = filepath.Base(path)
		}
		filePages, err := e.extractFile(path, rel, productName)
		if err != nil {
			return nil, err
		}
		pages = append(pages, filePages...)
	}

	slog.Info("extract: product done", "product", productName, "files", len(files), "pages", len(pages))
	return pages, nil
}

// extractFile emits one Page per physical page of a single PDF. Pages whose
// text cannot be extracted are preserved with empty text; the chunker drops
// them downstream.
func (e *Extractor) extractFile(path, relPath, productName string) ([]Page, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrExtraction, path, err)
	}
	defer f.Close()

	docType := InferDocType(filepath.Base(relPath))
	sourceURL, sourceName := e.lookupSource(productName, relPath)

	totalPages := reader.NumPage()
	pages := make([]Page, 0, totalPages)
	for i := 1; i <= totalPages; i++ {
		text := ""
		page := reader.Page(i)
		if !page.V.IsNull() {
			if t, err := page.GetPlainText(nil); err == nil {
				text = NormalizeText(t)
			}
		}
		pages = append(pages, Page{
			ProductName: productName,
			DocType:     docType,
			PageNum:     i,
			SourceFile:  relPath,
			SourceURL:   sourceURL,
			SourceName:  sourceName,
			Text:        text,
		})
	}
	return pages, nil
}

func (e *Extractor) lookupSource(product, relPath string) (url, name *string) {
	refs, ok := e.sources[product]
	if !ok {
		return nil, nil
	}
	ref, ok := refs[filepath.ToSlash(relPath)]
	if !ok {
		return nil, nil
	}
	if ref.SourceURL != "" {
		url = &ref.SourceURL
	}
	if ref.SourceName != "" {
		name = &ref.SourceName
	}
	return url, name
}

// InferDocType classifies a filename with a case-insensitive substring rule.
// "spec" wins over "manual" so that files like specifications_manual.pdf
// land in the specifications bucket.
func InferDocType(filename string) DocType {
	lower := strings.ToLower(filename)
	switch {
	case strings.Contains(lower, "spec"):
		return DocTypeSpecifications
	case strings.Contains(lower, "manual"):
		return DocTypeManual
	case strings.Contains(lower, "review"):
		return DocTypeReview
	default:
		return DocTypeOther
	}
}

// NormalizeText converts text to NFC form, normalizes line endings, and
// preserves whitespace structure otherwise.
func NormalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return norm.NFC.String(text)
}
