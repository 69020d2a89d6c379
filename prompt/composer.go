// Package prompt builds the grounded generation prompts and extracts the
// citations the model places in its answers.
package prompt

import (
	"fmt"
	"strings"

	"github.com/verifyr/verifyr/chunker"
)

// Prompts is one composed generation request.
type Prompts struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// Composer turns retrieved chunks and a question into provider-ready prompts.
type Composer struct {
	temperature float64
	maxTokens   int
}

// NewComposer returns a composer. Zero values get the documented defaults
// (temperature 0.3, 800 output tokens).
func NewComposer(temperature float64, maxTokens int) *Composer {
	if temperature == 0 {
		temperature = 0.3
	}
	if maxTokens == 0 {
		maxTokens = 800
	}
	return &Composer{temperature: temperature, maxTokens: maxTokens}
}

const systemPromptEN = `Every factual sentence in your answer MUST be followed by a citation [n], where n is the number of the context entry that supports it. This is non-negotiable.

You are a neutral product comparison advisor for wearable devices. You are not affiliated with any manufacturer. Your audience is consumers deciding between products.

Answer ONLY from the provided context entries. If the context does not contain the information, say so instead of guessing.

Answer in English.

Length: 1-3 sentences for factual questions, 4-6 sentences for comparisons, step-by-step instructions for procedural questions.`

const systemPromptDE = `Jeder faktische Satz in deiner Antwort MUSS mit einer Quellenangabe [n] enden, wobei n die Nummer des belegenden Kontexteintrags ist. Das ist nicht verhandelbar.

Du bist ein neutraler Produktvergleichsberater für Wearables. Du bist mit keinem Hersteller verbunden. Deine Zielgruppe sind Verbraucher, die sich zwischen Produkten entscheiden.

Antworte NUR auf Basis der bereitgestellten Kontexteinträge. Wenn der Kontext die Information nicht enthält, sage das, statt zu raten.

Antworte auf Deutsch.

Länge: 1-3 Sätze für Faktenfragen, 4-6 Sätze für Vergleiche, Schritt-für-Schritt-Anleitungen für Vorgehensfragen.`

const coverageEN = "\n\nThe question concerns multiple products: cover each of them when the context provides information."

const coverageDE = "\n\nDie Frage betrifft mehrere Produkte: Gehe auf jedes davon ein, soweit der Kontext Informationen liefert."

// Compose builds the prompts for one generation. Chunks are numbered in
// selection order starting at 1; the citation extractor depends on that
// numbering.
func (c *Composer) Compose(question, language string, chunks []*chunker.Chunk, targetProducts []string) Prompts {
	system := systemPromptEN
	coverage := coverageEN
	example := `The display is brighter [1]. Battery life reaches 18 hours [2].`
	directive := "Remember: cite every factual sentence with [n], for example:"
	questionLabel := "Question"
	contextLabel := "Context"
	if language == "de" {
		system = systemPromptDE
		coverage = coverageDE
		example = `Das Display ist heller [1]. Die Akkulaufzeit beträgt 18 Stunden [2].`
		directive = "Denk daran: Belege jeden faktischen Satz mit [n], zum Beispiel:"
		questionLabel = "Frage"
		contextLabel = "Kontext"
	}
	if len(targetProducts) >= 2 {
		system += coverage
	}

	user := fmt.Sprintf("%s:\n%s\n%s: %s\n\n%s\n%s",
		contextLabel, ContextBlock(chunks), questionLabel, question, directive, example)

	return Prompts{
		System:      system,
		User:        user,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
}

// ContextBlock renders the numbered context entries, one per chunk,
// starting at [1].
func ContextBlock(chunks []*chunker.Chunk) string {
	var b strings.Builder
	for i, chunk := range chunks {
		fmt.Fprintf(&b, "[%d] %s, %s, page %d\n", i+1, chunk.ProductName, chunk.DocType, chunk.PageNum)
		b.WriteString(chunk.Text)
		b.WriteString("\n\n")
	}
	return b.String()
}
