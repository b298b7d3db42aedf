package output

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/newtron-network/ncbulk/pkg/bulk"
	"github.com/newtron-network/ncbulk/pkg/operation"
	"github.com/newtron-network/ncbulk/pkg/util"
)

const (
	HTMLReportName = "config_report.html"
	JSONReportName = "config_report.json"

	// TimestampLayout is the report timestamp format (day first).
	TimestampLayout = "02/01/2006 15:04:05"
)

//go:embed templates
var templatesFS embed.FS

var reportTemplate = template.Must(
	template.New("config_report.html.tmpl").Funcs(templateFuncs).ParseFS(templatesFS, "templates/config_report.html.tmpl"),
)

var templateFuncs = template.FuncMap{
	"timestamp": func(t time.Time) string { return t.Format(TimestampLayout) },
	"duration":  func(d time.Duration) string { return d.Round(time.Millisecond).String() },
}

// reportView is the data handed to the HTML template.
type reportView struct {
	*bulk.Report
	Title  string
	Config string
}

// RenderHTML renders r as an HTML page. For an apply, the applied
// configuration is shown pretty-printed above the results.
func RenderHTML(w io.Writer, r *bulk.Report) error {
	view := reportView{Report: r, Title: "NETCONF bulk report"}
	if op := r.Operation; op != nil {
		switch op.Kind {
		case operation.KindApply:
			view.Title = "NETCONF edit-config report"
			cfg, err := Indent(op.Apply.Payload)
			if err != nil {
				cfg = op.Apply.Payload
			}
			view.Config = string(cfg)
		case operation.KindRead:
			view.Title = "NETCONF get report"
		}
	}
	return reportTemplate.Execute(w, view)
}

// WriteHTMLReport writes r to <dir>/config_report.html and returns the path.
// Failures are returned as *util.ReportError.
func WriteHTMLReport(dir string, r *bulk.Report) (string, error) {
	path := filepath.Join(dir, HTMLReportName)
	var buf bytes.Buffer
	if err := RenderHTML(&buf, r); err != nil {
		return path, &util.ReportError{Path: path, Err: fmt.Errorf("render: %w", err)}
	}
	if err := writeReport(path, buf.Bytes()); err != nil {
		return path, err
	}
	return path, nil
}

// WriteJSONReport writes r to <dir>/config_report.json and returns the path.
func WriteJSONReport(dir string, r *bulk.Report) (string, error) {
	path := filepath.Join(dir, JSONReportName)
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(r); err != nil {
		return path, &util.ReportError{Path: path, Err: fmt.Errorf("marshal: %w", err)}
	}
	if err := writeReport(path, buf.Bytes()); err != nil {
		return path, err
	}
	return path, nil
}

func writeReport(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return &util.ReportError{Path: path, Err: err}
	}
	if err := writeFileAtomic(path, data); err != nil {
		return &util.ReportError{Path: path, Err: err}
	}
	return nil
}
