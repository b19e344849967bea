package provenance

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/research"
)

type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatCSV      Format = "csv"
	FormatFlow     Format = "flow"
)

func ParseFormat(raw string) (Format, bool) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FormatJSON:
		return FormatJSON, true
	case FormatMarkdown, "md":
		return FormatMarkdown, true
	case FormatCSV:
		return FormatCSV, true
	case FormatFlow, "mermaid":
		return FormatFlow, true
	}
	return "", false
}

func (f Format) ContentType() string {
	switch f {
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatFlow:
		return "text/plain; charset=utf-8"
	default:
		return "application/json"
	}
}

// Render projects the snapshot into the requested format.
func Render(data ExportedData, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(data, "", "  ")
	case FormatMarkdown:
		return []byte(RenderMarkdown(data)), nil
	case FormatCSV:
		return RenderCSV(data)
	case FormatFlow:
		return []byte(RenderFlow(data)), nil
	}
	return nil, fmt.Errorf("unsupported export format %q", format)
}

func RenderMarkdown(data ExportedData) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Research session %s\n\n", data.SessionID)
	fmt.Fprintf(&b, "**Query:** %s\n\n", data.Query)
	fmt.Fprintf(&b, "Exported %s (format v%s)\n\n", data.ExportedAt.UTC().Format(time.RFC3339), data.Version)

	b.WriteString("## Summary\n\n")
	b.WriteString("| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Steps | %d |\n", data.Summary.TotalSteps)
	fmt.Fprintf(&b, "| Sources | %d |\n", data.Summary.TotalSources)
	fmt.Fprintf(&b, "| Errors | %d |\n", data.Summary.ErrorCount)
	fmt.Fprintf(&b, "| Success rate | %.0f%% |\n", data.Summary.SuccessRate*100)
	fmt.Fprintf(&b, "| Session duration | %dms |\n", data.Summary.SessionDurationMs)
	fmt.Fprintf(&b, "| Mean step duration | %.0fms |\n\n", data.Summary.AverageStepDurationMs)

	b.WriteString("## Steps\n\n")
	for i, step := range data.Steps {
		fmt.Fprintf(&b, "%d. **%s** (%s, %dms, %d sources)", i+1, step.Title, step.Kind, step.DurationMs, step.SourceCount)
		if step.Error != "" {
			fmt.Fprintf(&b, " - error: %s", step.Error)
		}
		b.WriteString("\n")
	}

	if len(data.Sources.All) > 0 {
		b.WriteString("\n## Sources\n\n")
		for _, citation := range data.Sources.All {
			title := citation.Title
			if title == "" {
				title = citation.URL
			}
			if citation.URL == "" {
				fmt.Fprintf(&b, "- %s\n", title)
				continue
			}
			fmt.Fprintf(&b, "- [%s](%s)\n", title, citation.URL)
		}
	}

	if len(data.Sources.ByDomain) > 0 {
		b.WriteString("\n## Sources by domain\n\n")
		for _, domain := range sortedKeys(data.Sources.ByDomain) {
			fmt.Fprintf(&b, "- %s: %d\n", domain, len(data.Sources.ByDomain[domain]))
		}
	}
	return b.String()
}

var csvHeader = []string{"step", "id", "kind", "title", "timestamp", "duration_ms", "source_count", "error", "parents"}

func RenderCSV(data ExportedData) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(csvHeader); err != nil {
		return nil, err
	}
	for i, step := range data.Steps {
		record := []string{
			strconv.Itoa(i + 1),
			step.ID,
			string(step.Kind),
			step.Title,
			step.Timestamp.UTC().Format(time.RFC3339),
			strconv.FormatInt(step.DurationMs, 10),
			strconv.Itoa(step.SourceCount),
			step.Error,
			strings.Join(step.Parents, ";"),
		}
		if err := writer.Write(record); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RenderFlow emits a mermaid flowchart of the steps and their edges.
func RenderFlow(data ExportedData) string {
	aliases := make(map[string]string, len(data.Steps))
	var b strings.Builder
	b.WriteString("flowchart TD\n")
	for i, step := range data.Steps {
		alias := fmt.Sprintf("n%d", i+1)
		aliases[step.ID] = alias
		label := flowLabel(step.Kind, step.Title)
		if step.Error != "" {
			fmt.Fprintf(&b, "    %s{{\"%s\"}}\n", alias, label)
			continue
		}
		fmt.Fprintf(&b, "    %s[\"%s\"]\n", alias, label)
	}
	for _, edge := range data.Edges {
		source, okSource := aliases[edge.Source]
		target, okTarget := aliases[edge.Target]
		if !okSource || !okTarget {
			continue
		}
		switch edge.Type {
		case EdgeError:
			fmt.Fprintf(&b, "    %s -. error .-> %s\n", source, target)
		case EdgeDependency:
			fmt.Fprintf(&b, "    %s -.-> %s\n", source, target)
		default:
			fmt.Fprintf(&b, "    %s --> %s\n", source, target)
		}
	}
	return b.String()
}

func flowLabel(kind research.StepKind, title string) string {
	label := fmt.Sprintf("%s: %s", kind, title)
	label = strings.ReplaceAll(label, "\"", "'")
	label = strings.ReplaceAll(label, "\n", " ")
	if runes := []rune(label); len(runes) > 60 {
		label = string(runes[:57]) + "..."
	}
	return label
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
