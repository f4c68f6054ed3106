package textextract

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"annualreports/pkg/core/errs"
	"annualreports/pkg/models"

	"github.com/rotisserie/eris"
)

const esefReport = `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:ix="http://www.xbrl.org/2013/inlineXBRL">
<head><title>Annual Report 2023</title><style>td { color: red; }</style></head>
<body>
<div style="display:none"><ix:header><ix:hidden>HIDDEN-FACTS</ix:hidden></ix:header></div>
<h1>Consolidated income statement</h1>
<table>
  <tr><th>EUR million</th><th>2023</th><th>2022</th></tr>
  <tr><td>Revenue</td><td>1,234</td><td>1,100</td></tr>
  <tr><td>Net profit</td><td>(56)</td><td>40</td></tr>
</table>
<p>Notes<br/>see page 12</p>
<script>var tracking = "SCRIPT-TEXT";</script>
</body></html>`

func writeDoc(t *testing.T, name, content string) *models.AnnualReportDocument {
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return &models.AnnualReportDocument{CompanyID: "acme", FiscalYear: 2023, LocalPath: path, SizeBytes: int64(len(content))}
}

func TestExtractXHTML(t *testing.T) {
	doc := writeDoc(t, "2023.xhtml", esefReport)

	text, err := New(0, nil).Extract(context.Background(), doc)
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	lines := strings.Split(text, "\n")
	wantLines := []string{"Revenue 1,234 1,100", "Net profit (56) 40", "Notes", "see page 12"}
	for _, want := range wantLines {
		found := false
		for _, l := range lines {
			if l == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("missing line %q in:\n%s", want, text)
		}
	}
	for _, unwanted := range []string{"SCRIPT-TEXT", "HIDDEN-FACTS", "color: red"} {
		if strings.Contains(text, unwanted) {
			t.Errorf("text should not contain %q", unwanted)
		}
	}
}

func TestExtractXHTMLRespectsMaxChars(t *testing.T) {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < 500; i++ {
		b.WriteString("<p>Consolidated statement of cash flows</p>")
	}
	b.WriteString("</body></html>")
	doc := writeDoc(t, "2023.xhtml", b.String())

	text, err := New(200, nil).Extract(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	if n := len(text); n > 250 {
		t.Errorf("extracted %d characters, want about 200", n)
	}
}

func TestExtractCorruptPDF(t *testing.T) {
	doc := writeDoc(t, "2023.pdf", "%PDF-1.7\nthis is not really a pdf\n%%EOF")

	_, err := New(0, nil).Extract(context.Background(), doc)
	if !eris.Is(err, errs.ErrExtractionUnreadable) {
		t.Fatalf("expected ErrExtractionUnreadable, got %v", err)
	}
}

func TestExtractUnsupported(t *testing.T) {
	doc := writeDoc(t, "2023.docx", "PK")
	if _, err := New(0, nil).Extract(context.Background(), doc); !eris.Is(err, errs.ErrExtractionUnreadable) {
		t.Fatalf("expected ErrExtractionUnreadable, got %v", err)
	}
}
