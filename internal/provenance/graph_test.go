package provenance

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/research"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type GraphSuite struct {
	suite.Suite
	clock *stepClock
	graph *Graph
}

func TestGraphSuite(t *testing.T) {
	suite.Run(t, new(GraphSuite))
}

func (s *GraphSuite) SetupTest() {
	s.clock = &stepClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	s.graph = NewGraph(s.clock.Now)
}

func (s *GraphSuite) add(id string, kind research.StepKind, sources ...research.Citation) Node {
	node, err := s.graph.AddNode(research.Step{ID: id, Kind: kind, Title: string(kind) + " " + id, Sources: sources}, "", Metadata{})
	s.Require().NoError(err)
	return node
}

func (s *GraphSuite) TestSequentialNodesFormSingleChain() {
	const n = 6
	ids := []string{}
	for i := 0; i < n; i++ {
		id := string(rune('a' + i))
		ids = append(ids, id)
		s.add(id, research.StepWebResearch)
	}
	path := s.graph.CurrentPath()
	s.Require().Len(path, n)
	s.Require().Equal(ids, path)
	s.Require().Equal("a", s.graph.Root())

	for i, id := range path {
		node, ok := s.graph.Node(id)
		s.Require().True(ok)
		if i == 0 {
			s.Require().Empty(node.Parents)
		} else {
			s.Require().Equal([]string{path[i-1]}, node.Parents)
		}
		if i < n-1 {
			s.Require().Equal([]string{path[i+1]}, node.Children)
		}
	}
	for _, edge := range s.graph.Edges() {
		s.Require().Equal(EdgeSequential, edge.Type)
	}
	s.Require().Len(s.graph.Edges(), n-1)
}

func (s *GraphSuite) TestUnknownParentRejected() {
	_, err := s.graph.AddNode(research.Step{ID: "x"}, "missing", Metadata{})
	s.Require().ErrorIs(err, ErrUnknownParent)
	s.Require().Zero(s.graph.Len())
}

func (s *GraphSuite) TestDuplicateIDRejected() {
	s.add("a", research.StepUserQuery)
	_, err := s.graph.AddNode(research.Step{ID: "a"}, "", Metadata{})
	s.Require().ErrorIs(err, ErrDuplicateNode)
}

func (s *GraphSuite) TestGeneratedIDAndTimestamp() {
	node, err := s.graph.AddNode(research.Step{Kind: research.StepUserQuery}, "", Metadata{})
	s.Require().NoError(err)
	s.Require().NotEmpty(node.Step.ID)
	s.Require().Equal(s.clock.Now(), node.Step.Timestamp)
}

func (s *GraphSuite) TestErrorStepAddsErrorEdgeAndLeavesPath() {
	s.add("q", research.StepUserQuery)
	s.add("r", research.StepWebResearch)
	errNode := s.add("e", research.StepError)

	s.Require().Equal([]string{"q", "r"}, s.graph.CurrentPath())
	s.Require().Equal([]string{"r"}, errNode.Parents)
	edges := s.graph.Edges()
	s.Require().Equal(Edge{Source: "r", Target: "e", Type: EdgeError}, edges[len(edges)-1])

	s.add("s", research.StepSynthesis)
	node, _ := s.graph.Node("s")
	s.Require().Equal([]string{"r"}, node.Parents, "next step attaches to last good node")
}

func (s *GraphSuite) TestMarkNodeError() {
	s.add("q", research.StepUserQuery)
	_, err := s.graph.AddNode(research.Step{ID: "r", Kind: research.StepWebResearch, IsPending: true}, "", Metadata{})
	s.Require().NoError(err)
	s.clock.Advance(1500 * time.Millisecond)

	s.Require().NoError(s.graph.MarkNodeError("r", "provider timeout"))
	node, _ := s.graph.Node("r")
	s.Require().Equal("provider timeout", node.Metadata.Error)
	s.Require().False(node.Step.IsPending)
	s.Require().Equal(int64(1500), node.Metadata.ProcessingTimeMs)
	s.Require().Equal([]string{"q"}, s.graph.CurrentPath())
	s.Require().Equal([]Edge{{Source: "q", Target: "r", Type: EdgeError}}, s.graph.Edges())

	s.Require().ErrorIs(s.graph.MarkNodeError("nope", "x"), ErrNodeNotFound)
}

func (s *GraphSuite) TestMarkNodeErrorOffPathDrawsNewEdge() {
	s.add("q", research.StepUserQuery)
	s.add("a", research.StepWebResearch)
	s.add("b", research.StepSynthesis)
	s.Require().NoError(s.graph.MarkNodeError("a", "late failure"))

	s.Require().Equal([]string{"q", "b"}, s.graph.CurrentPath())
	edges := s.graph.Edges()
	s.Require().Contains(edges, Edge{Source: "b", Target: "a", Type: EdgeError})
}

func (s *GraphSuite) TestCompleteNodeRecordsDuration() {
	s.add("q", research.StepUserQuery)
	_, err := s.graph.AddNode(research.Step{ID: "r", Kind: research.StepWebResearch, IsPending: true}, "", Metadata{Model: "gemini"})
	s.Require().NoError(err)
	s.clock.Advance(2 * time.Second)
	sources := []research.Citation{{URL: "https://a.example/x"}}
	s.Require().NoError(s.graph.CompleteNode("r", "findings", sources))

	node, _ := s.graph.Node("r")
	s.Require().False(node.Step.IsPending)
	s.Require().Equal("findings", node.Step.Content)
	s.Require().Equal(1, node.Metadata.SourceCount)
	s.Require().Equal(int64(2000), node.Metadata.ProcessingTimeMs)
	s.Require().Equal("gemini", node.Metadata.Model)

	s.Require().NoError(s.graph.UpdateMetadata("r", func(m *Metadata) { m.Confidence = 0.8 }))
	node, _ = s.graph.Node("r")
	s.Require().Equal(0.8, node.Metadata.Confidence)
	s.Require().ErrorIs(s.graph.CompleteNode("missing", nil, nil), ErrNodeNotFound)
}

func (s *GraphSuite) TestStatistics() {
	s.add("q", research.StepUserQuery)
	_, _ = s.graph.AddNode(research.Step{ID: "r", Kind: research.StepWebResearch, IsPending: true}, "", Metadata{})
	s.clock.Advance(time.Second)
	s.Require().NoError(s.graph.CompleteNode("r", nil, []research.Citation{
		{URL: "https://a.example/1"},
		{URL: "https://a.example/1/?utm_source=x"},
		{URL: "https://b.example/2"},
	}))
	_, _ = s.graph.AddNode(research.Step{ID: "s", Kind: research.StepSynthesis, IsPending: true}, "", Metadata{})
	s.clock.Advance(3 * time.Second)
	s.Require().NoError(s.graph.MarkNodeError("s", "boom"))

	stats := s.graph.Statistics()
	s.Require().Equal(3, stats.TotalNodes)
	s.Require().Equal(1, stats.ErrorCount)
	s.Require().InDelta(2.0/3.0, stats.SuccessRate, 1e-9)
	s.Require().Equal(int64(4000), stats.SessionDurationMs)
	s.Require().Equal(2000.0, stats.AverageStepDurationMs)
	s.Require().Equal(2, stats.TotalSources)
	s.Require().Equal(1, stats.StepsByKind[research.StepSynthesis])
}

func (s *GraphSuite) TestEmptyStatistics() {
	stats := s.graph.Statistics()
	s.Require().Zero(stats.TotalNodes)
	s.Require().Zero(stats.SuccessRate)
	s.Require().Zero(stats.SessionDurationMs)
}

func (s *GraphSuite) TestResetAndDependency() {
	s.add("q", research.StepUserQuery)
	s.add("a", research.StepWebResearch)
	s.add("b", research.StepSynthesis)
	s.Require().NoError(s.graph.AddDependency("q", "b"))
	s.Require().Contains(s.graph.Edges(), Edge{Source: "q", Target: "b", Type: EdgeDependency})
	s.Require().Equal([]string{"q", "a", "b"}, s.graph.CurrentPath())
	s.Require().ErrorIs(s.graph.AddDependency("q", "zz"), ErrNodeNotFound)

	s.graph.Reset()
	s.Require().Zero(s.graph.Len())
	s.Require().Empty(s.graph.CurrentPath())
	s.Require().Empty(s.graph.Edges())
}

func (s *GraphSuite) TestExportData() {
	s.add("q", research.StepUserQuery)
	s.add("r", research.StepWebResearch,
		research.Citation{URL: "https://www.example.com/a", Title: "A"},
		research.Citation{URL: "https://www.example.com/a/?utm_source=feed", Title: "A dup"},
		research.Citation{URL: "https://other.org/b", Title: "B"},
		research.Citation{URL: "::not a url::", Title: "Broken"},
		research.Citation{URL: "%%untitled"},
	)
	s.add("s", research.StepSynthesis, research.Citation{URL: "https://other.org/b", Title: "B again"})

	data := s.graph.ExportData("capital of France", "session-1")
	s.Require().Equal(ExportVersion, data.Version)
	s.Require().Equal("session-1", data.SessionID)
	s.Require().Equal(3, data.Summary.TotalSteps)
	s.Require().Len(data.Steps, 3)
	s.Require().Len(data.Nodes, 3)
	s.Require().Len(data.Edges, 2)
	s.Require().Len(data.Sources.All, 4)
	s.Require().Equal("%%untitled", data.Sources.All[3].URL)
	s.Require().Len(data.Sources.ByStep["r"], 4)
	s.Require().Len(data.Sources.ByStep["s"], 1)
	s.Require().Len(data.Sources.ByDomain["example.com"], 1)
	s.Require().Len(data.Sources.ByDomain["other.org"], 1)
	s.Require().Len(data.Sources.ByDomain, 2)
	s.Require().Equal([]string{"r"}, data.Steps[2].Parents)

	encoded, err := json.Marshal(data)
	s.Require().NoError(err)
	s.Require().Contains(string(encoded), `"by_domain"`)
}

func (s *GraphSuite) TestSerializeRoundTrip() {
	s.add("q", research.StepUserQuery)
	_, _ = s.graph.AddNode(research.Step{ID: "r", Kind: research.StepWebResearch, IsPending: true}, "", Metadata{Effort: "high"})
	s.clock.Advance(750 * time.Millisecond)
	s.Require().NoError(s.graph.CompleteNode("r", "text", []research.Citation{{URL: "https://a.example"}}))
	s.add("e", research.StepError)

	data, err := s.graph.Serialize()
	s.Require().NoError(err)
	restored, err := Deserialize(data, s.clock.Now)
	s.Require().NoError(err)

	s.Require().Equal(s.graph.Nodes(), restored.Nodes())
	s.Require().Equal(s.graph.Edges(), restored.Edges())
	s.Require().Equal(s.graph.CurrentPath(), restored.CurrentPath())
	s.Require().Equal(s.graph.Statistics(), restored.Statistics())

	_, err = restored.AddNode(research.Step{ID: "s", Kind: research.StepSynthesis}, "", Metadata{})
	s.Require().NoError(err)
	node, _ := restored.Node("s")
	s.Require().Equal([]string{"r"}, node.Parents)
}

func TestDeserialize_RejectsForwardReferences(t *testing.T) {
	payload := `{"version":1,"nodes":[{"step":{"id":"b"},"parents":["a"]},{"step":{"id":"a"}}]}`
	_, err := Deserialize([]byte(payload), nil)
	require.ErrorIs(t, err, ErrUnknownParent)

	_, err = Deserialize([]byte(`{"version":9}`), nil)
	require.Error(t, err)

	_, err = Deserialize([]byte(`not json`), nil)
	require.Error(t, err)

	_, err = Deserialize([]byte(`{"version":1,"nodes":[{"step":{"id":"a"}}],"current_path":["zz"]}`), nil)
	require.ErrorIs(t, err, ErrNodeNotFound)
}

func TestRenderings(t *testing.T) {
	clock := &stepClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	graph := NewGraph(clock.Now)
	_, _ = graph.AddNode(research.Step{ID: "q", Kind: research.StepUserQuery, Title: "What is the capital of France?"}, "", Metadata{})
	_, _ = graph.AddNode(research.Step{ID: "r", Kind: research.StepWebResearch, Title: "Searching \"capital\"", Sources: []research.Citation{{URL: "https://en.wikipedia.org/wiki/Paris", Title: "Paris"}}}, "", Metadata{})
	_, _ = graph.AddNode(research.Step{ID: "e", Kind: research.StepError, Title: "Synthesis failed"}, "", Metadata{})
	data := graph.ExportData("What is the capital of France?", "s1")

	markdown := RenderMarkdown(data)
	require.Contains(t, markdown, "# Research session s1")
	require.Contains(t, markdown, "[Paris](https://en.wikipedia.org/wiki/Paris)")
	require.Contains(t, markdown, "- en.wikipedia.org: 1")
	require.Contains(t, markdown, "error: Synthesis failed")

	csvBytes, err := RenderCSV(data)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(csvBytes)), "\n")
	require.Len(t, lines, 4)
	require.Equal(t, strings.Join(csvHeader, ","), lines[0])
	require.True(t, strings.HasPrefix(lines[2], "2,r,web-research,"))

	flow := RenderFlow(data)
	require.True(t, strings.HasPrefix(flow, "flowchart TD\n"))
	require.Contains(t, flow, "n1 --> n2")
	require.Contains(t, flow, "n2 -. error .-> n3")
	require.Contains(t, flow, "web-research: Searching 'capital'")
	require.Contains(t, flow, `n3{{"error: Synthesis failed"}}`)

	for _, format := range []Format{FormatJSON, FormatMarkdown, FormatCSV, FormatFlow} {
		out, err := Render(data, format)
		require.NoError(t, err)
		require.NotEmpty(t, out)
	}
	_, err = Render(data, Format("pdf"))
	require.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	for raw, want := range map[string]Format{"": FormatJSON, "JSON": FormatJSON, "md": FormatMarkdown, "csv": FormatCSV, "mermaid": FormatFlow} {
		got, ok := ParseFormat(raw)
		require.True(t, ok, raw)
		require.Equal(t, want, got)
	}
	_, ok := ParseFormat("xml")
	require.False(t, ok)
	require.Equal(t, "text/csv; charset=utf-8", FormatCSV.ContentType())
}
