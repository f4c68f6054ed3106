// Package textextract converts stored annual reports to plain text.
package textextract

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"annualreports/pkg/core/errs"
	"annualreports/pkg/models"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultMaxChars bounds how much text is read from one document.
const DefaultMaxChars = 100000

// Extractor reads the text of PDF and (X)HTML reports.
type Extractor struct {
	MaxChars int
	Logger   *zap.Logger
}

// New creates an Extractor that stops reading after maxChars characters.
func New(maxChars int, logger *zap.Logger) *Extractor {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{MaxChars: maxChars, Logger: logger}
}

// Extract returns the text of doc. Documents that cannot be parsed are reported
// as errs.ErrExtractionUnreadable.
func (e *Extractor) Extract(ctx context.Context, doc *models.AnnualReportDocument) (string, error) {
	switch kind(doc) {
	case models.FormatPDF:
		return e.pdfText(ctx, doc.LocalPath)
	case models.FormatXHTML:
		return e.htmlText(doc.LocalPath)
	}
	return "", eris.Wrapf(errs.ErrExtractionUnreadable, "unsupported document %s (%s)", doc.LocalPath, doc.ContentType)
}

func kind(doc *models.AnnualReportDocument) models.DocumentFormat {
	switch strings.ToLower(filepath.Ext(doc.LocalPath)) {
	case ".pdf":
		return models.FormatPDF
	case ".xhtml", ".xhtm", ".html", ".htm":
		return models.FormatXHTML
	}
	switch doc.ContentType {
	case "application/pdf", "application/x-pdf":
		return models.FormatPDF
	case "application/xhtml+xml", "text/html":
		return models.FormatXHTML
	}
	return models.FormatOther
}

// pdfText reads page text until MaxChars characters are collected.
// Recovers from panics (e.g. zlib: invalid header) caused by corrupt PDFs.
func (e *Extractor) pdfText(ctx context.Context, path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = eris.Wrapf(errs.ErrExtractionUnreadable, "panic during PDF extraction of %s: %v", path, r)
		}
	}()

	f, r, openErr := pdf.Open(path)
	if openErr != nil {
		return "", eris.Wrapf(errs.ErrExtractionUnreadable, "failed to open PDF %s: %v", path, openErr)
	}
	defer f.Close()

	var sb strings.Builder
	chars := 0
	skipped := 0
	totalPages := r.NumPage()

	for i := 1; i <= totalPages && chars < e.MaxChars; i++ {
		if err := ctx.Err(); err != nil {
			return "", eris.Wrap(err, "text extraction interrupted")
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, pageErr := page.GetPlainText(nil)
		if pageErr != nil {
			skipped++
			continue
		}
		sb.WriteString(pageText)
		sb.WriteString("\n")
		chars += utf8.RuneCountInString(pageText) + 1
	}
	if skipped > 0 {
		e.Logger.Debug("pages without text", zap.String("path", path), zap.Int("skipped", skipped), zap.Int("pages", totalPages))
	}
	return strings.TrimSpace(sb.String()), nil
}

// htmlText flattens an (X)HTML report, keeping one table row per line.
func (e *Extractor) htmlText(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", eris.Wrapf(errs.ErrExtractionUnreadable, "failed to open %s: %v", path, err)
	}
	defer file.Close()

	doc, err := goquery.NewDocumentFromReader(file)
	if err != nil {
		return "", eris.Wrapf(errs.ErrExtractionUnreadable, "failed to parse %s: %v", path, err)
	}

	// Inline XBRL keeps its hidden facts in ix:header.
	doc.Find(`script, style, noscript, ix\:header`).Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("td, th").AppendHtml(" \t")
	doc.Find("p, div, tr, li, table, h1, h2, h3, h4, h5, h6").AppendHtml("\n")

	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}

	var sb strings.Builder
	chars := 0
	for _, line := range strings.Split(body.Text(), "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			continue
		}
		sb.WriteString(line)
		sb.WriteString("\n")
		chars += utf8.RuneCountInString(line) + 1
		if chars >= e.MaxChars {
			break
		}
	}
	return strings.TrimSpace(sb.String()), nil
}
