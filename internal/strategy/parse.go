package strategy

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/research"
)

type Topic struct {
	Topic       string `json:"topic"`
	Description string `json:"description"`
}

// extractJSON returns the outermost open..close span of text, which lets
// models wrap their JSON in prose or code fences.
func extractJSON(text string, open byte, close byte) (string, bool) {
	start := strings.IndexByte(text, open)
	end := strings.LastIndexByte(text, close)
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// parseList reads a JSON array of strings, falling back to one entry per
// line with bullets and numbering removed.
func parseList(text string) []string {
	if raw, ok := extractJSON(text, '[', ']'); ok {
		var items []string
		if err := json.Unmarshal([]byte(raw), &items); err == nil {
			return cleanList(items)
		}
	}
	lines := []string{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") || strings.HasSuffix(line, ":") {
			continue
		}
		lines = append(lines, stripListMarker(line))
	}
	return cleanList(lines)
}

func stripListMarker(line string) string {
	line = strings.TrimLeft(line, "-*• \t")
	digits := 0
	for digits < len(line) && line[digits] >= '0' && line[digits] <= '9' {
		digits++
	}
	if digits > 0 && digits < len(line) && (line[digits] == '.' || line[digits] == ')') {
		line = line[digits+1:]
	}
	return strings.TrimSpace(line)
}

func cleanList(items []string) []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, item := range items {
		item = strings.Trim(strings.TrimSpace(item), `"'`)
		key := strings.ToLower(item)
		if item == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}

func parseTopics(text string) []Topic {
	topics := []Topic{}
	if raw, ok := extractJSON(text, '[', ']'); ok {
		var parsed []Topic
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
			for _, topic := range parsed {
				topic.Topic = strings.TrimSpace(topic.Topic)
				if topic.Topic != "" {
					topics = append(topics, topic)
				}
			}
			return topics
		}
	}
	for _, line := range parseList(text) {
		name, description, _ := strings.Cut(line, ":")
		topics = append(topics, Topic{Topic: strings.TrimSpace(name), Description: strings.TrimSpace(description)})
	}
	return topics
}

// parseEvaluation reads the critique JSON. Scores are clamped to [0,1]; a
// reply without JSON yields a neutral 0.5 critique that never passes the
// quality threshold.
func parseEvaluation(text string) research.Evaluation {
	neutral := research.Evaluation{Completeness: 0.5, Accuracy: 0.5, Clarity: 0.5, Quality: 0.5}
	raw, ok := extractJSON(text, '{', '}')
	if !ok {
		neutral.Feedback = strings.TrimSpace(text)
		return neutral
	}
	var parsed struct {
		Completeness *float64 `json:"completeness"`
		Accuracy     *float64 `json:"accuracy"`
		Clarity      *float64 `json:"clarity"`
		Feedback     string   `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		neutral.Feedback = strings.TrimSpace(text)
		return neutral
	}
	evaluation := research.Evaluation{
		Completeness: unitScore(parsed.Completeness),
		Accuracy:     unitScore(parsed.Accuracy),
		Clarity:      unitScore(parsed.Clarity),
		Feedback:     strings.TrimSpace(parsed.Feedback),
	}
	evaluation.Quality = evaluation.Average()
	return evaluation
}

func unitScore(value *float64) float64 {
	if value == nil || math.IsNaN(*value) {
		return 0.5
	}
	// Some models answer on a 0..10 scale.
	v := *value
	if v > 1 && v <= 10 {
		v /= 10
	}
	return math.Max(0, math.Min(1, v))
}
