package retrieval

import (
	"reflect"
	"testing"
)

func testAnalyzer() *Analyzer {
	return NewAnalyzer([]Product{
		{Name: "Apple Watch Series 11", Aliases: []string{"Apple Watch Series 11", "Series 11", "AW11"}},
		{Name: "Garmin Venu 4", Aliases: []string{"Garmin Venu 4", "Venu 4"}},
	}, 5, 8)
}

func TestAnalyzeProductDetection(t *testing.T) {
	a := testAnalyzer()

	tests := []struct {
		question string
		want     []string
	}{
		{"What is the battery life of the Apple Watch Series 11?", []string{"Apple Watch Series 11"}},
		{"does the VENU 4 track sleep", []string{"Garmin Venu 4"}},
		{"series 11 or venu 4?", []string{"Apple Watch Series 11", "Garmin Venu 4"}},
		{"what watch should I buy", nil},
	}
	for _, tt := range tests {
		got := a.Analyze(tt.question)
		if !reflect.DeepEqual(got.TargetProducts, tt.want) {
			t.Errorf("Analyze(%q).TargetProducts = %v, want %v", tt.question, got.TargetProducts, tt.want)
		}
	}
}

func TestAnalyzeComparison(t *testing.T) {
	a := testAnalyzer()

	tests := []struct {
		question string
		want     bool
	}{
		{"compare battery life", true},
		{"AW11 versus Venu 4", true},
		{"which is better for running", true},
		{"was ist der Unterschied beim Display", true},
		{"Series 11 and Venu 4 battery", true}, // two products implies comparison
		{"battery life of the Series 11", false},
	}
	for _, tt := range tests {
		if got := a.Analyze(tt.question); got.IsComparison != tt.want {
			t.Errorf("Analyze(%q).IsComparison = %v, want %v", tt.question, got.IsComparison, tt.want)
		}
	}
}

func TestAnalyzeComplexity(t *testing.T) {
	a := testAnalyzer()

	tests := []struct {
		question  string
		isComplex bool
		topK      int
	}{
		{"how do I set up notifications", true, 8},
		{"warum ist die Akkulaufzeit kürzer", true, 8},
		{"battery life?", false, 5},
		{"one two three four five six seven eight nine ten eleven twelve thirteen fourteen fifteen sixteen", true, 8},
	}
	for _, tt := range tests {
		got := a.Analyze(tt.question)
		if got.IsComplex != tt.isComplex {
			t.Errorf("Analyze(%q).IsComplex = %v, want %v", tt.question, got.IsComplex, tt.isComplex)
		}
		if got.TopK != tt.topK {
			t.Errorf("Analyze(%q).TopK = %d, want %d", tt.question, got.TopK, tt.topK)
		}
	}
}

func TestAnalyzeDiversity(t *testing.T) {
	a := testAnalyzer()

	tests := []struct {
		question string
		want     bool
	}{
		{"compare the Series 11 with the Venu 4", true},
		{"better display?", true}, // comparison keyword alone
		{"how do I pair the Series 11", false},
		{"how do the Series 11 and Venu 4 handle sleep tracking", true}, // complex + two products
		{"Series 11 battery", false},
	}
	for _, tt := range tests {
		if got := a.Analyze(tt.question); got.DiversityEnabled != tt.want {
			t.Errorf("Analyze(%q).DiversityEnabled = %v, want %v", tt.question, got.DiversityEnabled, tt.want)
		}
	}
}
