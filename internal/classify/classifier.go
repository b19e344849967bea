package classify

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/llm"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/research"
)

const classificationPrompt = `Classify the research query into exactly one category.

Categories:
- factual: a single verifiable fact, date, name, number or definition
- analytical: explain causes, mechanisms, implications or evaluate an argument
- comparative: weigh two or more options, products, approaches or positions
- exploratory: open-ended survey of a broad or emerging topic

Examples:
Query: What is the boiling point of water at sea level?
Category: factual
Query: Why did the 2008 financial crisis spread so quickly across countries?
Category: analytical
Query: PostgreSQL vs MySQL for a write-heavy workload
Category: comparative
Query: What is happening in quantum computing research?
Category: exploratory

Answer with the category word only.

Query: %s
Category:`

// Classifier assigns a query type with one provider round-trip.
type Classifier struct {
	generator llm.Generator
}

func NewClassifier(generator llm.Generator) *Classifier {
	return &Classifier{generator: generator}
}

// Classify returns exploratory when the reply names no known category. The
// error is only set when the provider call itself failed.
func (c *Classifier) Classify(ctx context.Context, query string, opts llm.GenerateOptions) (research.QueryType, error) {
	opts.UseSearch = false
	resp, err := c.generator.Generate(ctx, fmt.Sprintf(classificationPrompt, strings.TrimSpace(query)), opts)
	if err != nil {
		return research.QueryExploratory, err
	}
	return ParseCategory(resp.Text), nil
}

// ParseCategory picks the first recognised category word in text.
func ParseCategory(text string) research.QueryType {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, word := range words {
		if queryType, ok := research.ParseQueryType(word); ok {
			return queryType
		}
	}
	return research.QueryExploratory
}

// Complexity is a rough 0..1 estimate of how much work a query needs, based on
// its length and the number of clauses it joins.
func Complexity(query string) float64 {
	words := tokenize(query)
	if len(words) == 0 {
		return 0
	}
	score := float64(len(words)) / 40
	for _, word := range words {
		switch word {
		case "and", "or", "versus", "vs", "compare", "between", "impact", "why", "how":
			score += 0.08
		}
	}
	score += 0.1 * float64(strings.Count(query, "?")-1)
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
