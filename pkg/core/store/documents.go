package store

import (
	"os"
	"sort"
	"strconv"
	"strings"

	"annualreports/pkg/models"

	"github.com/rotisserie/eris"
)

// DocumentRepo tracks downloaded annual reports through a JSON sidecar next to
// each file. A document counts as present only when both exist and the file is
// at least minSize bytes.
type DocumentRepo struct {
	layout  Layout
	minSize int64
}

// NewDocumentRepo creates a document repository.
func NewDocumentRepo(layout Layout, minSize int64) *DocumentRepo {
	return &DocumentRepo{layout: layout, minSize: minSize}
}

// DocumentPath is where the document of a year is stored; ext includes the dot.
func (r *DocumentRepo) DocumentPath(companyID string, year int, ext string) string {
	return r.layout.ReportPath(companyID, year, ext)
}

// FindDocument returns the stored document of a year, if usable.
func (r *DocumentRepo) FindDocument(companyID string, year int) (*models.AnnualReportDocument, bool) {
	var doc models.AnnualReportDocument
	found, err := readJSON(r.layout.ReportMetaPath(companyID, year), &doc)
	if err != nil || !found {
		return nil, false
	}
	info, err := os.Stat(doc.LocalPath)
	if err != nil || info.IsDir() || info.Size() < r.minSize {
		return nil, false
	}
	doc.SizeBytes = info.Size()
	return &doc, true
}

// SaveDocument writes the sidecar of a downloaded document.
func (r *DocumentRepo) SaveDocument(doc *models.AnnualReportDocument) error {
	if doc.CompanyID == "" || doc.FiscalYear == 0 {
		return eris.New("document without company or fiscal year")
	}
	return writeJSON(r.layout.ReportMetaPath(doc.CompanyID, doc.FiscalYear), doc)
}

// ListDocuments returns the usable documents of a company, newest year first.
func (r *DocumentRepo) ListDocuments(companyID string) ([]models.AnnualReportDocument, error) {
	entries, err := os.ReadDir(r.layout.ReportsDir(companyID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "failed to list reports of %s", companyID)
	}
	var docs []models.AnnualReportDocument
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".meta.json") {
			continue
		}
		year, err := strconv.Atoi(strings.TrimSuffix(name, ".meta.json"))
		if err != nil {
			continue
		}
		if doc, ok := r.FindDocument(companyID, year); ok {
			docs = append(docs, *doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].FiscalYear > docs[j].FiscalYear })
	return docs, nil
}
