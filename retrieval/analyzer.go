package retrieval

import "strings"

// comparisonKeywords signal that the caller wants products weighed against
// each other (English and German).
var comparisonKeywords = []string{
	"compare", "versus", "vs", "difference", "better", "between",
	"vergleich", "unterschied", "besser", "zwischen",
}

// complexityKeywords signal an explanatory or procedural question.
var complexityKeywords = []string{
	"how", "why", "explain", "guide", "setup",
	"wie", "warum", "erklären", "anleitung",
}

// complexityWordLimit is the question length above which a query is treated
// as complex regardless of keywords.
const complexityWordLimit = 15

// Product registers one known product with its detection aliases
// (full name, short name, model number).
type Product struct {
	Name    string
	Aliases []string
}

// Analysis is the analyzer's verdict on one question. It drives retrieval
// parameters downstream.
type Analysis struct {
	TargetProducts   []string `json:"target_products"`
	IsComparison     bool     `json:"is_comparison"`
	IsComplex        bool     `json:"is_complex"`
	TopK             int      `json:"top_k"`
	DiversityEnabled bool     `json:"diversity_enabled"`
}

// Analyzer classifies questions against the product registry. It is pure
// string matching: no model calls, fully deterministic.
type Analyzer struct {
	products    []Product
	topKSimple  int
	topKComplex int
}

// NewAnalyzer returns an analyzer over the given product registry. Zero
// top-k values get the documented defaults (5 simple, 8 complex).
func NewAnalyzer(products []Product, topKSimple, topKComplex int) *Analyzer {
	if topKSimple == 0 {
		topKSimple = 5
	}
	if topKComplex == 0 {
		topKComplex = 8
	}
	return &Analyzer{
		products:    products,
		topKSimple:  topKSimple,
		topKComplex: topKComplex,
	}
}

// Analyze classifies one question.
func (a *Analyzer) Analyze(question string) Analysis {
	lower := strings.ToLower(question)

	var targets []string
	for _, p := range a.products {
		for _, alias := range p.Aliases {
			if alias != "" && strings.Contains(lower, strings.ToLower(alias)) {
				targets = append(targets, p.Name)
				break
			}
		}
	}

	isComparison := len(targets) >= 2
	if !isComparison {
		for _, kw := range comparisonKeywords {
			if strings.Contains(lower, kw) {
				isComparison = true
				break
			}
		}
	}

	isComplex := len(strings.Fields(question)) > complexityWordLimit
	if !isComplex {
		for _, kw := range complexityKeywords {
			if strings.Contains(lower, kw) {
				isComplex = true
				break
			}
		}
	}

	topK := a.topKSimple
	if isComplex {
		topK = a.topKComplex
	}

	return Analysis{
		TargetProducts:   targets,
		IsComparison:     isComparison,
		IsComplex:        isComplex,
		TopK:             topK,
		DiversityEnabled: isComparison || (isComplex && len(targets) >= 2),
	}
}
