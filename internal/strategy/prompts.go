package strategy

import (
	"fmt"
	"strings"

	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/research"
)

type lens struct {
	framing string
	sources string
}

var lenses = map[research.Paradigm]lens{
	research.ParadigmBoldAction: {
		framing: "Lead with decisive, actionable recommendations and concrete next moves.",
		sources: "Prefer recent case studies, launches and practitioner reports.",
	},
	research.ParadigmProtective: {
		framing: "Emphasise risks, safeguards, failure modes and what to verify before acting.",
		sources: "Prefer regulators, standards bodies, audits and incident reports.",
	},
	research.ParadigmAnalytical: {
		framing: "Reason from evidence: quantify where possible and separate data from interpretation.",
		sources: "Prefer peer-reviewed studies, datasets and primary statistics.",
	},
	research.ParadigmStrategic: {
		framing: "Frame the answer around positioning, leverage, trade-offs and long-term control.",
		sources: "Prefer industry analyses, market data and competitor filings.",
	},
}

const (
	subQueriesHeader = "Generate web search queries for the research question below."
	researchHeader   = "Research the following search query using the web."
	synthesisHeader  = "Write the final answer to the research question using only the findings below."
	evaluationHeader = "Critique the answer below against the research question."
	decomposeHeader  = "Break the research question into non-overlapping sub-topics."
	expandHeader     = "Expand the answer below with more detail, context and specifics."
)

func buildSubQueriesPrompt(req Request, count int, qualifiers []string) string {
	var b strings.Builder
	b.WriteString(subQueriesHeader)
	b.WriteString("\n\nQuestion:\n")
	b.WriteString(req.Query)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Return a JSON array of at most %d distinct search queries and nothing else.\n", count)
	if l, ok := lenses[req.Paradigm]; ok {
		b.WriteString("Source focus: ")
		b.WriteString(l.sources)
		b.WriteString("\n")
	}
	if len(qualifiers) > 0 {
		fmt.Fprintf(&b, "Favour broad queries that include words such as: %s.\n", strings.Join(qualifiers, ", "))
	}
	if len(req.Hints) > 0 {
		b.WriteString("\nQueries that worked for similar questions (optional, reuse only if relevant):\n")
		for _, hint := range req.Hints {
			b.WriteString("- ")
			b.WriteString(hint)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func buildResearchPrompt(question string, query string) string {
	var b strings.Builder
	b.WriteString(researchHeader)
	b.WriteString("\n\nSearch query:\n")
	b.WriteString(query)
	b.WriteString("\n\nOverall question:\n")
	b.WriteString(question)
	b.WriteString("\n\nSummarise the relevant facts you find in plain text. Cite only what the search results support.")
	return b.String()
}

func buildSynthesisPrompt(req Request, findings []Finding) string {
	var b strings.Builder
	b.WriteString(synthesisHeader)
	b.WriteString("\n\nQuestion:\n")
	b.WriteString(req.Query)
	b.WriteString("\n\nFindings:\n")
	if len(findings) == 0 {
		b.WriteString("(no findings)\n")
	}
	for i, finding := range findings {
		fmt.Fprintf(&b, "%d. [%s]\n%s\n\n", i+1, finding.Query, strings.TrimSpace(finding.Text))
	}
	if l, ok := lenses[req.Paradigm]; ok {
		b.WriteString("Framing: ")
		b.WriteString(l.framing)
		b.WriteString("\n")
	}
	b.WriteString("If the findings are insufficient, say so clearly.")
	return b.String()
}

func buildEvaluationPrompt(question string, synthesis string) string {
	var b strings.Builder
	b.WriteString(evaluationHeader)
	b.WriteString("\n\nQuestion:\n")
	b.WriteString(question)
	b.WriteString("\n\nAnswer:\n")
	b.WriteString(synthesis)
	b.WriteString("\n\nScore completeness, accuracy and clarity between 0 and 1 and give one paragraph of feedback on what to improve.\n")
	b.WriteString(`Respond with JSON only: {"completeness": 0.0, "accuracy": 0.0, "clarity": 0.0, "feedback": "..."}`)
	return b.String()
}

func buildDecomposePrompt(req Request, count int) string {
	var b strings.Builder
	b.WriteString(decomposeHeader)
	b.WriteString("\n\nQuestion:\n")
	b.WriteString(req.Query)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Return between 3 and %d sub-topics as a JSON array of objects with \"topic\" and \"description\" fields and nothing else.\n", count)
	if l, ok := lenses[req.Paradigm]; ok {
		b.WriteString("Source focus: ")
		b.WriteString(l.sources)
		b.WriteString("\n")
	}
	return b.String()
}

func buildExpandPrompt(question string, synthesis string) string {
	var b strings.Builder
	b.WriteString(expandHeader)
	b.WriteString("\n\nQuestion:\n")
	b.WriteString(question)
	b.WriteString("\n\nAnswer:\n")
	b.WriteString(synthesis)
	b.WriteString("\n\nKeep every claim consistent with the original answer. Respond with the expanded answer only.")
	return b.String()
}

func withFeedback(question string, feedback string) string {
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return question
	}
	return question + "\n\nReviewer feedback to address: " + feedback
}
