package reintegration

import (
	"strings"
	"testing"
	"time"

	"github.com/agentflow/orchestrator/pkg/model"
	"github.com/agentflow/orchestrator/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleData() *store.ReintegrationData {
	subtasks := map[string]*model.Subtask{
		"t1": {ID: "t1", Title: "Gather background", Type: model.SubtaskTypeResearch},
		"t2": {ID: "t2", Title: "Summarize findings", Type: model.SubtaskTypeAnalysis},
		"t3": {ID: "t3", Title: "Write conclusion", Type: model.SubtaskTypeCreation},
	}
	results := []*model.SubtaskResult{
		{SubtaskID: "t1", WorkflowID: "wf1", BatchID: "b0", Content: "background content", Status: model.SubtaskCompleted, ExecutionOrder: 1},
		{SubtaskID: "t2", WorkflowID: "wf1", BatchID: "b1", Content: "summary content", Status: model.SubtaskCompleted, ExecutionOrder: 2},
		{
			SubtaskID: "t3", WorkflowID: "wf1", BatchID: "b1", Status: model.SubtaskFailed, ExecutionOrder: 3,
			Errors: []model.ResultError{{Kind: model.ErrorKindValidation, Message: "confidence below threshold"}},
		},
	}
	return &store.ReintegrationData{
		WorkflowID: "wf1",
		Results:    results,
		Subtasks:   subtasks,
		DependencyLevels: []store.DependencyLevel{
			{Level: 0, SubtaskIDs: []string{"t1"}},
			{Level: 1, SubtaskIDs: []string{"t2", "t3"}},
		},
		Batches: []store.BatchMetadata{
			{BatchID: "b0", BatchIndex: 0, SubtaskIDs: []string{"t1"}, StartedAt: time.Now()},
			{BatchID: "b1", BatchIndex: 1, SubtaskIDs: []string{"t2", "t3"}, StartedAt: time.Now()},
		},
		Summary: store.ExecutionSummary{Total: 3, Succeeded: 2, Failed: 1, TotalDuration: 2 * time.Second},
	}
}

func TestRenderMarkdownByExecutionOrder(t *testing.T) {
	doc, err := Render(sampleData(), Options{Strategy: ByExecutionOrder, Format: FormatMarkdown})
	require.NoError(t, err)

	assert.Equal(t, FormatMarkdown, doc.Format)
	assert.True(t, doc.Partial, "a failed subtask should mark the document partial")
	require.Len(t, doc.Sections, 2)
	assert.Equal(t, "Batch 1", doc.Sections[0].Title)
	assert.Equal(t, "Batch 2", doc.Sections[1].Title)
	assert.Contains(t, doc.Content, "Gather background")
	assert.Contains(t, doc.Content, "background content")
	assert.Contains(t, doc.Content, "Write conclusion (failed)")
	assert.Contains(t, doc.Content, "confidence below threshold")
}

func TestRenderByDependencyLevel(t *testing.T) {
	doc, err := Render(sampleData(), Options{Strategy: ByDependencyLevel, Format: FormatMarkdown})
	require.NoError(t, err)
	require.Len(t, doc.Sections, 2)
	assert.Equal(t, "Dependency Level 0", doc.Sections[0].Title)
	assert.Equal(t, "Dependency Level 1", doc.Sections[1].Title)
	require.Len(t, doc.Sections[0].Results, 1)
	assert.Equal(t, "t1", doc.Sections[0].Results[0].SubtaskID)
	require.Len(t, doc.Sections[1].Results, 2)
}

func TestRenderByType(t *testing.T) {
	doc, err := Render(sampleData(), Options{Strategy: ByType, Format: FormatPlain})
	require.NoError(t, err)
	require.Len(t, doc.Sections, 3)
	assert.Equal(t, "Research", doc.Sections[0].Title)
	assert.Equal(t, "Analysis", doc.Sections[1].Title)
	assert.Equal(t, "Creation", doc.Sections[2].Title)
}

func TestRenderHTMLEscapesContent(t *testing.T) {
	data := sampleData()
	data.Results[0].Content = "<script>alert(1)</script>"
	doc, err := Render(data, Options{Strategy: ByExecutionOrder, Format: FormatHTML})
	require.NoError(t, err)
	assert.NotContains(t, doc.Content, "<script>alert(1)</script>")
	assert.Contains(t, doc.Content, "&lt;script&gt;")
}

func TestRenderDefaultsToExecutionOrderAndMarkdown(t *testing.T) {
	doc, err := Render(sampleData(), Options{})
	require.NoError(t, err)
	assert.Equal(t, FormatMarkdown, doc.Format)
	assert.Equal(t, "Batch 1", doc.Sections[0].Title)
}

func TestRenderUnknownStrategyErrors(t *testing.T) {
	_, err := Render(sampleData(), Options{Strategy: "bogus"})
	assert.Error(t, err)
}

func TestRenderUnknownFormatErrors(t *testing.T) {
	_, err := Render(sampleData(), Options{Format: "bogus"})
	assert.Error(t, err)
}

func TestRenderTruncatesAtMaxContentLength(t *testing.T) {
	doc, err := Render(sampleData(), Options{Format: FormatPlain, MaxContentLength: 40})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(doc.Content), 40)
	assert.False(t, strings.HasSuffix(doc.Content, "\n\n\n"))
}

func TestTruncateAtNewlineBacksUpToLastNewline(t *testing.T) {
	s := "line one\nline two\nline three"
	got := truncateAtNewline(s, 15)
	assert.Equal(t, "line one", got)
	assert.False(t, strings.Contains(got, "line tw"))
}

func TestTruncateAtNewlineNoNewlineCutsExactly(t *testing.T) {
	s := "no newlines here at all"
	got := truncateAtNewline(s, 5)
	assert.Equal(t, "no ne", got)
}

func TestTruncateAtNewlineUnderLimitReturnsUnchanged(t *testing.T) {
	s := "short"
	assert.Equal(t, s, truncateAtNewline(s, 100))
}
