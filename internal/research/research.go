package research

import (
	"strings"
	"time"
)

type StepKind string

const (
	StepUserQuery       StepKind = "user-query"
	StepQueryGeneration StepKind = "query-generation"
	StepWebResearch     StepKind = "web-research"
	StepReflection      StepKind = "reflection"
	StepSynthesis       StepKind = "synthesis"
	StepError           StepKind = "error"
)

type QueryType string

const (
	QueryFactual     QueryType = "factual"
	QueryAnalytical  QueryType = "analytical"
	QueryComparative QueryType = "comparative"
	QueryExploratory QueryType = "exploratory"
)

var QueryTypes = []QueryType{QueryFactual, QueryAnalytical, QueryComparative, QueryExploratory}

func ParseQueryType(raw string) (QueryType, bool) {
	normalized := QueryType(strings.TrimSpace(strings.ToLower(raw)))
	for _, candidate := range QueryTypes {
		if candidate == normalized {
			return candidate, true
		}
	}
	return "", false
}

// Paradigm is a strategic lens that biases synthesis tone and source selection.
type Paradigm string

const (
	ParadigmBoldAction Paradigm = "bold-action"
	ParadigmProtective Paradigm = "protective-thoroughness"
	ParadigmAnalytical Paradigm = "analytical-rigor"
	ParadigmStrategic  Paradigm = "strategic-control"
	ParadigmNone       Paradigm = ""
)

var Paradigms = []Paradigm{ParadigmBoldAction, ParadigmProtective, ParadigmAnalytical, ParadigmStrategic}

type Step struct {
	ID        string     `json:"id"`
	Kind      StepKind   `json:"kind"`
	Title     string     `json:"title"`
	Content   any        `json:"content,omitempty"`
	Sources   []Citation `json:"sources,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	IsPending bool       `json:"is_pending"`
}

type Citation struct {
	URL           string   `json:"url"`
	Title         string   `json:"title"`
	Authors       []string `json:"authors,omitempty"`
	PublishedDate string   `json:"published_date,omitempty"`
	AccessedDate  string   `json:"accessed_date,omitempty"`
	Snippet       string   `json:"snippet,omitempty"`
}

type Section struct {
	Topic       string     `json:"topic"`
	Description string     `json:"description"`
	Research    string     `json:"research"`
	Sources     []Citation `json:"sources"`
}

type Evaluation struct {
	Completeness float64 `json:"completeness"`
	Accuracy     float64 `json:"accuracy"`
	Clarity      float64 `json:"clarity"`
	Quality      float64 `json:"quality"`
	Feedback     string  `json:"feedback,omitempty"`
}

// Average of the three critique axes; Quality is kept in sync with it.
func (e Evaluation) Average() float64 {
	return (e.Completeness + e.Accuracy + e.Clarity) / 3
}

type AdaptiveMetadata struct {
	CacheHit         bool    `json:"cache_hit"`
	ProcessingTimeMs int64   `json:"processing_time_ms"`
	ComplexityScore  float64 `json:"complexity_score"`
	Strategy         string  `json:"strategy,omitempty"`
	Paradigm         string  `json:"paradigm,omitempty"`
	SelfHealed       bool    `json:"self_healed"`
	HealingStrategy  string  `json:"healing_strategy,omitempty"`
	Provider         string  `json:"provider,omitempty"`
}

type Result struct {
	Synthesis        string           `json:"synthesis"`
	Sources          []Citation       `json:"sources"`
	QueryType        QueryType        `json:"query_type"`
	Paradigm         Paradigm         `json:"paradigm,omitempty"`
	Sections         []Section        `json:"sections,omitempty"`
	Evaluation       *Evaluation      `json:"evaluation,omitempty"`
	RefinementCount  int              `json:"refinement_count"`
	ConfidenceScore  float64          `json:"confidence_score"`
	SubQueries       []string         `json:"sub_queries,omitempty"`
	AdaptiveMetadata AdaptiveMetadata `json:"adaptive_metadata"`
}

// Clone returns a copy whose slices can be mutated without touching r.
func (r Result) Clone() Result {
	cloned := r
	cloned.Sources = append([]Citation(nil), r.Sources...)
	cloned.SubQueries = append([]string(nil), r.SubQueries...)
	if r.Sections != nil {
		cloned.Sections = make([]Section, len(r.Sections))
		for i, section := range r.Sections {
			section.Sources = append([]Citation(nil), section.Sources...)
			cloned.Sections[i] = section
		}
	}
	if r.Evaluation != nil {
		evaluation := *r.Evaluation
		cloned.Evaluation = &evaluation
	}
	return cloned
}
