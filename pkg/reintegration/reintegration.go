// Package reintegration assembles a workflow's persisted subtask results
// back into one final document, grouped by a chosen sectioning strategy and
// rendered through a per-format template table (markdown, HTML, or plain
// text).
package reintegration

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/agentflow/orchestrator/pkg/model"
	"github.com/agentflow/orchestrator/pkg/store"
)

// Strategy selects how subtask results are grouped into sections.
type Strategy string

const (
	ByType            Strategy = "by-type"
	ByDependencyLevel Strategy = "by-dependency-level"
	ByExecutionOrder  Strategy = "by-execution-order"
)

// Format selects the rendered document's markup.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatPlain    Format = "plain"
)

// Options configures a single Render call.
type Options struct {
	Strategy         Strategy
	Format           Format
	MaxContentLength int // 0 means unbounded
}

// Section is one grouped chunk of the final document: a title (a subtask
// type, a dependency level, or a batch) and the results belonging to it, in
// execution order, except in a dependency-level section, where they are
// ordered by subtask ID.
type Section struct {
	Title   string
	Results []*model.SubtaskResult
}

// Document is Render's output: the assembled text plus the section
// boundaries that produced it, for callers that want structure instead of
// (or alongside) the rendered string.
type Document struct {
	Format   Format
	Content  string
	Sections []Section
	Partial  bool // true when at least one result failed
}

// Render consumes data (as returned by store.GetReintegrationData) and
// assembles a Document per opts. Partial is set when data.Summary.Failed >
// 0, surfacing HALTED workflows' partial results rather than refusing to
// render.
func Render(data *store.ReintegrationData, opts Options) (*Document, error) {
	if opts.Strategy == "" {
		opts.Strategy = ByExecutionOrder
	}
	if opts.Format == "" {
		opts.Format = FormatMarkdown
	}

	sections, err := section(data, opts.Strategy)
	if err != nil {
		return nil, err
	}

	tpl, ok := templateSets[opts.Format]
	if !ok {
		return nil, fmt.Errorf("reintegration: unsupported format %q", opts.Format)
	}

	var buf bytes.Buffer
	if err := tpl.renderHeader(&buf, data); err != nil {
		return nil, fmt.Errorf("rendering header: %w", err)
	}
	for _, sec := range sections {
		if err := tpl.renderSection(&buf, sec, data); err != nil {
			return nil, fmt.Errorf("rendering section %q: %w", sec.Title, err)
		}
	}
	if err := tpl.renderFooter(&buf, data); err != nil {
		return nil, fmt.Errorf("rendering footer: %w", err)
	}

	content := buf.String()
	if opts.MaxContentLength > 0 && len(content) > opts.MaxContentLength {
		content = truncateAtNewline(content, opts.MaxContentLength)
	}

	return &Document{
		Format:   opts.Format,
		Content:  content,
		Sections: sections,
		Partial:  data.Summary.Failed > 0,
	}, nil
}

// truncateAtNewline cuts s to at most limit bytes, backing up to the last
// newline at or before limit so no line is cut mid-word. If no newline
// exists in the first limit bytes, it cuts exactly at limit.
func truncateAtNewline(s string, limit int) string {
	if limit <= 0 || limit >= len(s) {
		return s
	}
	cut := s[:limit]
	if idx := lastIndexByte(cut, '\n'); idx >= 0 {
		return cut[:idx]
	}
	return cut
}

func lastIndexByte(s string, b byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// section groups data's results per strategy, sorted deterministically.
func section(data *store.ReintegrationData, strategy Strategy) ([]Section, error) {
	switch strategy {
	case ByExecutionOrder:
		return sectionByExecutionOrder(data), nil
	case ByDependencyLevel:
		return sectionByDependencyLevel(data), nil
	case ByType:
		return sectionByType(data), nil
	default:
		return nil, fmt.Errorf("reintegration: unknown strategy %q", strategy)
	}
}

func sectionByExecutionOrder(data *store.ReintegrationData) []Section {
	resultsByBatch := make(map[string][]*model.SubtaskResult)
	for _, r := range data.Results {
		resultsByBatch[r.BatchID] = append(resultsByBatch[r.BatchID], r)
	}

	batches := append([]store.BatchMetadata(nil), data.Batches...)
	sort.Slice(batches, func(i, j int) bool { return batches[i].BatchIndex < batches[j].BatchIndex })

	sections := make([]Section, 0, len(batches))
	for _, b := range batches {
		sections = append(sections, Section{
			Title:   fmt.Sprintf("Batch %d", b.BatchIndex+1),
			Results: resultsByBatch[b.BatchID],
		})
	}
	return sections
}

func sectionByDependencyLevel(data *store.ReintegrationData) []Section {
	resultBySubtask := make(map[string]*model.SubtaskResult, len(data.Results))
	for _, r := range data.Results {
		resultBySubtask[r.SubtaskID] = r
	}

	levels := append([]store.DependencyLevel(nil), data.DependencyLevels...)
	sort.Slice(levels, func(i, j int) bool { return levels[i].Level < levels[j].Level })

	sections := make([]Section, 0, len(levels))
	for _, lvl := range levels {
		ids := append([]string(nil), lvl.SubtaskIDs...)
		sort.Strings(ids)
		var results []*model.SubtaskResult
		for _, id := range ids {
			if r, ok := resultBySubtask[id]; ok {
				results = append(results, r)
			}
		}
		sections = append(sections, Section{
			Title:   fmt.Sprintf("Dependency Level %d", lvl.Level),
			Results: results,
		})
	}
	return sections
}

func sectionByType(data *store.ReintegrationData) []Section {
	order := []model.SubtaskType{model.SubtaskTypeResearch, model.SubtaskTypeAnalysis, model.SubtaskTypeCreation, model.SubtaskTypeValidation}
	byType := make(map[model.SubtaskType][]*model.SubtaskResult)

	for _, r := range data.Results {
		t := data.Subtasks[r.SubtaskID]
		typ := model.SubtaskType("")
		if t != nil {
			typ = t.Type
		}
		byType[typ] = append(byType[typ], r)
	}

	sections := make([]Section, 0, len(order))
	for _, typ := range order {
		if results, ok := byType[typ]; ok {
			sections = append(sections, Section{Title: titleCase(string(typ)), Results: results})
			delete(byType, typ)
		}
	}
	// any type outside the known four (shouldn't occur, but keeps Render
	// total — no subtask silently dropped from the document) sorted after.
	var rest []model.SubtaskType
	for typ := range byType {
		rest = append(rest, typ)
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	for _, typ := range rest {
		title := titleCase(string(typ))
		if title == "" {
			title = "Uncategorized"
		}
		sections = append(sections, Section{Title: title, Results: byType[typ]})
	}
	return sections
}

func titleCase(s string) string {
	if s == "" {
		return ""
	}
	lower := []byte(s)
	for i := range lower {
		if lower[i] >= 'A' && lower[i] <= 'Z' && i > 0 {
			lower[i] = lower[i] - 'A' + 'a'
		}
	}
	if len(lower) > 0 && lower[0] >= 'a' && lower[0] <= 'z' {
		lower[0] = lower[0] - 'a' + 'A'
	}
	return string(lower)
}

// textTemplates and htmlTemplates below implement the per-format fragment
// table (header/section/content/error/footer) spec §4.9 calls for. text-
// based formats (markdown, plain) share text/template; html uses
// html/template so interpolated subtask content is escaped.
type templateSet interface {
	renderHeader(w *bytes.Buffer, data *store.ReintegrationData) error
	renderSection(w *bytes.Buffer, sec Section, data *store.ReintegrationData) error
	renderFooter(w *bytes.Buffer, data *store.ReintegrationData) error
}

var templateSets = map[Format]templateSet{
	FormatMarkdown: newTextTemplateSet(markdownFragments),
	FormatPlain:    newTextTemplateSet(plainFragments),
	FormatHTML:     newHTMLTemplateSet(htmlFragments),
}
