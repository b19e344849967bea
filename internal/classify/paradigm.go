package classify

import (
	"strings"
	"unicode"

	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/research"
)

// DominantThreshold is the probability a lens needs before it is applied.
const DominantThreshold = 0.4

type keywordFamily struct {
	paradigm research.Paradigm
	weight   float64
	stems    []string
}

// Stems match by prefix against lowercased words.
var keywordFamilies = []keywordFamily{
	{
		paradigm: research.ParadigmBoldAction,
		weight:   1,
		stems:    []string{"disrupt", "innovat", "transform", "bold", "aggressive", "launch", "breakthrough", "revolution", "opportunit", "fast", "scale", "growth", "win"},
	},
	{
		paradigm: research.ParadigmProtective,
		weight:   1,
		stems:    []string{"risk", "safe", "secur", "protect", "complian", "threat", "vulnerab", "prevent", "mitigat", "regulat", "privacy", "careful", "danger"},
	},
	{
		paradigm: research.ParadigmAnalytical,
		weight:   1,
		stems:    []string{"data", "evidence", "study", "studies", "analy", "statistic", "measur", "metric", "experiment", "empiric", "scientific", "research", "proof"},
	},
	{
		paradigm: research.ParadigmStrategic,
		weight:   1,
		stems:    []string{"strateg", "plan", "control", "leverage", "position", "competit", "market", "influence", "govern", "roadmap", "advantage", "dominat"},
	},
}

// Query types nudge the lens that suits them once any keyword matched.
var queryTypeBoosts = map[research.QueryType]map[research.Paradigm]float64{
	research.QueryAnalytical:  {research.ParadigmAnalytical: 0.5},
	research.QueryComparative: {research.ParadigmAnalytical: 0.25, research.ParadigmStrategic: 0.25},
	research.QueryExploratory: {research.ParadigmBoldAction: 0.25},
}

type ParadigmScores struct {
	Probabilities map[research.Paradigm]float64 `json:"probabilities"`
	Dominant      research.Paradigm             `json:"dominant,omitempty"`
}

// DetermineParadigm scores the query against every lens and normalises the
// scores into a distribution. Dominant stays empty unless one lens is above
// DominantThreshold.
func DetermineParadigm(query string, queryType research.QueryType) ParadigmScores {
	raw := map[research.Paradigm]float64{}
	matched := false
	for _, word := range tokenize(query) {
		for _, family := range keywordFamilies {
			if hasStem(word, family.stems) {
				raw[family.paradigm] += family.weight
				matched = true
			}
		}
	}
	if matched {
		for paradigm, boost := range queryTypeBoosts[queryType] {
			raw[paradigm] += boost
		}
	}

	total := 0.0
	for _, score := range raw {
		total += score
	}
	result := ParadigmScores{Probabilities: make(map[research.Paradigm]float64, len(research.Paradigms))}
	for _, paradigm := range research.Paradigms {
		if total > 0 {
			result.Probabilities[paradigm] = raw[paradigm] / total
		} else {
			result.Probabilities[paradigm] = 0
		}
	}
	best := 0.0
	for _, paradigm := range research.Paradigms {
		if p := result.Probabilities[paradigm]; p > DominantThreshold && p > best {
			best = p
			result.Dominant = paradigm
		}
	}
	return result
}

func hasStem(word string, stems []string) bool {
	for _, stem := range stems {
		if strings.HasPrefix(word, stem) {
			return true
		}
	}
	return false
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
