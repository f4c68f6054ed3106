package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"annualreports/pkg/models"

	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

func TestValidCompanyID(t *testing.T) {
	for id, want := range map[string]bool{
		"acme":         true,
		"ir.acme.com":  true,
		"acme-group_2": true,
		"":             false,
		"..":           false,
		"../etc":       false,
		"Acme":         false,
		"a/b":          false,
	} {
		if got := ValidCompanyID(id); got != want {
			t.Errorf("ValidCompanyID(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestDocumentRepo(t *testing.T) {
	layout := NewLayout(t.TempDir())
	repo := NewDocumentRepo(layout, 1024)

	if _, ok := repo.FindDocument("acme", 2023); ok {
		t.Fatal("empty repo should not find documents")
	}

	path := repo.DocumentPath("acme", 2023, ".pdf")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, make([]byte, 2048), 0644); err != nil {
		t.Fatal(err)
	}
	doc := &models.AnnualReportDocument{
		CompanyID:    "acme",
		FiscalYear:   2023,
		SourceURL:    "https://ir.example.com/ar-2023.pdf",
		LocalPath:    path,
		SizeBytes:    2048,
		ContentType:  "application/pdf",
		DownloadedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := repo.SaveDocument(doc); err != nil {
		t.Fatalf("SaveDocument() error: %v", err)
	}

	got, ok := repo.FindDocument("acme", 2023)
	if !ok {
		t.Fatal("FindDocument() should find the saved document")
	}
	if diff := cmp.Diff(doc, got); diff != "" {
		t.Errorf("document mismatch (-want +got):\n%s", diff)
	}

	// A truncated file no longer counts as present.
	if err := os.WriteFile(path, []byte("%PDF"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, ok := repo.FindDocument("acme", 2023); ok {
		t.Error("undersized document should not be reused")
	}
}

func TestExtractionRepoFiles(t *testing.T) {
	ctx := context.Background()
	var nilPool *pgxpool.Pool
	repo := NewExtractionRepo(nilPool, NewLayout(t.TempDir()))

	if _, err := repo.Get(ctx, "acme", 2022); !eris.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	for _, year := range []int{2021, 2023, 2022} {
		rec := &models.YearExtraction{
			CompanyID:       "acme",
			FiscalYear:      year,
			SourceFile:      "report.pdf",
			IncomeStatement: models.LineItems{"Revenue": "100"},
			BalanceSheet:    models.LineItems{},
			CashFlow:        models.LineItems{},
			ExtractedAt:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		}
		if err := repo.Save(ctx, rec); err != nil {
			t.Fatalf("Save(%d) error: %v", year, err)
		}
	}

	list, err := repo.List(ctx, "acme")
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	var years []int
	for _, rec := range list {
		years = append(years, rec.FiscalYear)
	}
	if diff := cmp.Diff([]int{2023, 2022, 2021}, years); diff != "" {
		t.Errorf("years mismatch (-want +got):\n%s", diff)
	}

	got, err := repo.Get(ctx, "acme", 2022)
	if err != nil {
		t.Fatal(err)
	}
	if got.IncomeStatement["Revenue"] != "100" {
		t.Errorf("Get() = %+v", got)
	}

	if _, err := os.Stat(repo.layout.ExtractionPath("acme", 2022) + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}
}

func TestConsolidatedRepoFiles(t *testing.T) {
	ctx := context.Background()
	layout := NewLayout(t.TempDir())
	repo := NewConsolidatedRepo(nil, layout)

	if _, err := repo.Load(ctx, "acme"); !eris.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	rec := &models.ConsolidatedFinancials{
		Company: "acme",
		Statements: map[models.StatementType]models.YearSeries{
			models.IncomeStatement: {"2023": {"Revenue": "100"}},
			models.BalanceSheet:    {},
			models.CashFlow:        {},
		},
		Metadata: models.ConsolidationMetadata{
			ParsedAt:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			TotalFiles:   1,
			YearsCovered: []string{"2023"},
			AIProvider:   "gemini",
			ModelUsed:    "gemini-2.0-flash",
		},
	}
	if err := repo.Save(ctx, rec); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	// A company directory without a consolidated record is not listed.
	if err := os.MkdirAll(layout.ReportsDir("other"), 0755); err != nil {
		t.Fatal(err)
	}

	got, err := repo.Load(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}

	ids, err := repo.Companies(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"acme"}, ids); diff != "" {
		t.Errorf("companies mismatch (-want +got):\n%s", diff)
	}
}
