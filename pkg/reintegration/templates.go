package reintegration

import (
	"bytes"
	"html/template"
	"strings"
	ttemplate "text/template"
	"time"

	"github.com/agentflow/orchestrator/pkg/model"
	"github.com/agentflow/orchestrator/pkg/store"
)

// fragments is the per-format template table spec §4.9 calls for: one
// fragment per document piece (header, section heading, one result's
// content, one result's error, footer). Every fragment is parsed once at
// package init and reused across Render calls.
type fragments struct {
	Header        string
	SectionHeader string
	Content       string
	Error         string
	Footer        string
}

var markdownFragments = fragments{
	Header:        "# Workflow Report\n\nWorkflow: {{.WorkflowID}}\nGenerated: {{.Now}}\nResults: {{.Summary.Succeeded}}/{{.Summary.Total}} succeeded\n\n",
	SectionHeader: "## {{.Title}}\n\n",
	Content:       "### {{.SubtaskTitle}}\n\n{{.Content}}\n\n",
	Error:         "### {{.SubtaskTitle}} (failed)\n\n> {{.Message}}\n\n",
	Footer:        "---\n\n_{{.Summary.Total}} subtasks, {{.Summary.Failed}} failed, generated in {{.Summary.TotalDuration}}_\n",
}

var plainFragments = fragments{
	Header:        "WORKFLOW REPORT\nWorkflow: {{.WorkflowID}}\nGenerated: {{.Now}}\nResults: {{.Summary.Succeeded}}/{{.Summary.Total}} succeeded\n\n",
	SectionHeader: "{{.Title}}\n{{.Underline}}\n\n",
	Content:       "{{.SubtaskTitle}}:\n{{.Content}}\n\n",
	Error:         "{{.SubtaskTitle}} (FAILED): {{.Message}}\n\n",
	Footer:        "----\n{{.Summary.Total}} subtasks, {{.Summary.Failed}} failed, generated in {{.Summary.TotalDuration}}\n",
}

var htmlFragments = fragments{
	Header:        "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>Workflow Report</title></head><body>\n<h1>Workflow Report</h1>\n<p>Workflow: {{.WorkflowID}}<br>Generated: {{.Now}}<br>Results: {{.Summary.Succeeded}}/{{.Summary.Total}} succeeded</p>\n",
	SectionHeader: "<h2>{{.Title}}</h2>\n",
	Content:       "<h3>{{.SubtaskTitle}}</h3>\n<pre>{{.Content}}</pre>\n",
	Error:         "<h3>{{.SubtaskTitle}} (failed)</h3>\n<p class=\"error\">{{.Message}}</p>\n",
	Footer:        "<hr><p><em>{{.Summary.Total}} subtasks, {{.Summary.Failed}} failed, generated in {{.Summary.TotalDuration}}</em></p>\n</body></html>\n",
}

// headerView/sectionView/resultView/errorView/footerView are the data each
// fragment is executed against.
type headerView struct {
	WorkflowID string
	Now        string
	Summary    store.ExecutionSummary
}

type sectionView struct {
	Title     string
	Underline string
}

type resultView struct {
	SubtaskTitle string
	Content      string
}

type errorView struct {
	SubtaskTitle string
	Message      string
}

type footerView struct {
	Summary store.ExecutionSummary
}

func buildHeaderView(data *store.ReintegrationData) headerView {
	return headerView{WorkflowID: data.WorkflowID, Now: time.Now().UTC().Format(time.RFC3339), Summary: data.Summary}
}

func buildFooterView(data *store.ReintegrationData) footerView {
	return footerView{Summary: data.Summary}
}

func subtaskTitle(data *store.ReintegrationData, r *model.SubtaskResult) string {
	if t, ok := data.Subtasks[r.SubtaskID]; ok && t.Title != "" {
		return t.Title
	}
	return r.SubtaskID
}

func firstErrorMessage(r *model.SubtaskResult) string {
	if len(r.Errors) == 0 {
		return "no error detail recorded"
	}
	return r.Errors[0].Message
}

// textTemplateSet implements templateSet over text/template, shared by
// markdown and plain since both are plain-text formats with no escaping
// concerns.
type textTemplateSet struct {
	header        *ttemplate.Template
	sectionHeader *ttemplate.Template
	content       *ttemplate.Template
	errTpl        *ttemplate.Template
	footer        *ttemplate.Template
}

func newTextTemplateSet(f fragments) *textTemplateSet {
	return &textTemplateSet{
		header:        ttemplate.Must(ttemplate.New("header").Parse(f.Header)),
		sectionHeader: ttemplate.Must(ttemplate.New("sectionHeader").Parse(f.SectionHeader)),
		content:       ttemplate.Must(ttemplate.New("content").Parse(f.Content)),
		errTpl:        ttemplate.Must(ttemplate.New("error").Parse(f.Error)),
		footer:        ttemplate.Must(ttemplate.New("footer").Parse(f.Footer)),
	}
}

func (t *textTemplateSet) renderHeader(w *bytes.Buffer, data *store.ReintegrationData) error {
	return t.header.Execute(w, buildHeaderView(data))
}

func (t *textTemplateSet) renderSection(w *bytes.Buffer, sec Section, data *store.ReintegrationData) error {
	if err := t.sectionHeader.Execute(w, sectionView{Title: sec.Title, Underline: strings.Repeat("-", len(sec.Title))}); err != nil {
		return err
	}
	for _, r := range sec.Results {
		if r.Status == model.SubtaskFailed {
			if err := t.errTpl.Execute(w, errorView{SubtaskTitle: subtaskTitle(data, r), Message: firstErrorMessage(r)}); err != nil {
				return err
			}
			continue
		}
		if err := t.content.Execute(w, resultView{SubtaskTitle: subtaskTitle(data, r), Content: r.Content}); err != nil {
			return err
		}
	}
	return nil
}

func (t *textTemplateSet) renderFooter(w *bytes.Buffer, data *store.ReintegrationData) error {
	return t.footer.Execute(w, buildFooterView(data))
}

// htmlTemplateSet implements templateSet over html/template, so interpolated
// subtask content and error messages are escaped against injection into the
// assembled page.
type htmlTemplateSet struct {
	header        *template.Template
	sectionHeader *template.Template
	content       *template.Template
	errTpl        *template.Template
	footer        *template.Template
}

func newHTMLTemplateSet(f fragments) *htmlTemplateSet {
	return &htmlTemplateSet{
		header:        template.Must(template.New("header").Parse(f.Header)),
		sectionHeader: template.Must(template.New("sectionHeader").Parse(f.SectionHeader)),
		content:       template.Must(template.New("content").Parse(f.Content)),
		errTpl:        template.Must(template.New("error").Parse(f.Error)),
		footer:        template.Must(template.New("footer").Parse(f.Footer)),
	}
}

func (t *htmlTemplateSet) renderHeader(w *bytes.Buffer, data *store.ReintegrationData) error {
	return t.header.Execute(w, buildHeaderView(data))
}

func (t *htmlTemplateSet) renderSection(w *bytes.Buffer, sec Section, data *store.ReintegrationData) error {
	if err := t.sectionHeader.Execute(w, sectionView{Title: sec.Title}); err != nil {
		return err
	}
	for _, r := range sec.Results {
		if r.Status == model.SubtaskFailed {
			if err := t.errTpl.Execute(w, errorView{SubtaskTitle: subtaskTitle(data, r), Message: firstErrorMessage(r)}); err != nil {
				return err
			}
			continue
		}
		if err := t.content.Execute(w, resultView{SubtaskTitle: subtaskTitle(data, r), Content: r.Content}); err != nil {
			return err
		}
	}
	return nil
}

func (t *htmlTemplateSet) renderFooter(w *bytes.Buffer, data *store.ReintegrationData) error {
	return t.footer.Execute(w, buildFooterView(data))
}
