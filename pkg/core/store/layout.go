// Package store persists pipeline artifacts: downloaded documents, per-year
// extraction records and consolidated records. Files under the data directory
// are always written; Postgres is used in addition when configured.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
)

var companyIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,99}$`)

// ValidCompanyID reports whether id is safe to use as a directory name.
func ValidCompanyID(id string) bool {
	return companyIDPattern.MatchString(id) && id != "." && id != ".."
}

// Layout maps artifacts onto the data directory:
//
//	<root>/companies/<id>/reports/<year>.pdf
//	<root>/companies/<id>/reports/<year>.meta.json
//	<root>/companies/<id>/extractions/<year>.json
//	<root>/companies/<id>/consolidated.json
//	<root>/companies/<id>/exports/
type Layout struct {
	Root string
}

// NewLayout returns the layout rooted at root.
func NewLayout(root string) Layout {
	if root == "" {
		root = "data"
	}
	return Layout{Root: root}
}

func (l Layout) CompanyDir(companyID string) string {
	return filepath.Join(l.Root, "companies", companyID)
}

func (l Layout) ReportsDir(companyID string) string {
	return filepath.Join(l.CompanyDir(companyID), "reports")
}

// ReportPath is the document file of a year; ext includes the dot.
func (l Layout) ReportPath(companyID string, year int, ext string) string {
	return filepath.Join(l.ReportsDir(companyID), strconv.Itoa(year)+ext)
}

func (l Layout) ReportMetaPath(companyID string, year int) string {
	return filepath.Join(l.ReportsDir(companyID), strconv.Itoa(year)+".meta.json")
}

func (l Layout) ExtractionsDir(companyID string) string {
	return filepath.Join(l.CompanyDir(companyID), "extractions")
}

func (l Layout) ExtractionPath(companyID string, year int) string {
	return filepath.Join(l.ExtractionsDir(companyID), strconv.Itoa(year)+".json")
}

func (l Layout) ConsolidatedPath(companyID string) string {
	return filepath.Join(l.CompanyDir(companyID), "consolidated.json")
}

func (l Layout) ExportsDir(companyID string) string {
	return filepath.Join(l.CompanyDir(companyID), "exports")
}

// Companies lists the company directories, sorted.
func (l Layout) Companies() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(l.Root, "companies"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "failed to list companies")
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && ValidCompanyID(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// writeJSON writes v to path through a temporary file so readers never see a
// partial record.
func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "failed to marshal %s", filepath.Base(path))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return eris.Wrapf(err, "failed to create %s", filepath.Dir(path))
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return eris.Wrapf(err, "failed to write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return eris.Wrapf(err, "failed to move %s into place", filepath.Base(path))
	}
	return nil
}

// readJSON decodes path into v. A missing file reports found=false without error.
func readJSON(path string, v interface{}) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "failed to read %s", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, eris.Wrapf(err, "failed to parse %s", path)
	}
	return true, nil
}
