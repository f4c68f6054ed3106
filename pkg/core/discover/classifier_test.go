package discover

import (
	"testing"
	"time"

	"annualreports/pkg/models"
)

func fixedClock() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }

func TestClassify(t *testing.T) {
	c := NewClassifier(10, fixedClock)

	tests := []struct {
		name     string
		text     string
		url      string
		accept   bool
		year     int
		format   models.DocumentFormat
		formCode bool
	}{
		{"interim report rejected", "Q3 2022 Interim Report.pdf", "https://ir.example.com/q3-2022.pdf", false, 0, "", false},
		{"form 20-F accepted", "Form 20-F Annual Report 2020.pdf", "https://ir.example.com/20f-2020.pdf", true, 2020, models.FormatPDF, true},
		{"xhtml annual report", "2021 Annual Report (XHTML)", "https://ir.example.com/ar2021.xhtml", true, 2021, models.FormatXHTML, false},
		{"form code without annual", "Form 10-K", "https://ir.example.com/filings/10-K2023.pdf", true, 2023, models.FormatPDF, true},
		{"amended form rejected", "Form 10-K/A 2023", "https://ir.example.com/10ka-2023.pdf", false, 0, "", false},
		{"amendment word rejected", "Annual Report 2022 Amendment No. 1", "https://ir.example.com/ar-2022-a1.pdf", false, 0, "", false},
		{"sustainability rejected", "Sustainability Report 2023", "https://ir.example.com/sr-2023.pdf", false, 0, "", false},
		{"esg supplement rejected", "Annual Report 2023 ESG supplement", "https://ir.example.com/esg.pdf", false, 0, "", false},
		{"quarter in file name rejected", "Annual report", "https://ir.example.com/ar_q4_2023.pdf", false, 0, "", false},
		{"remuneration rejected", "Annual Report 2023 - Remuneration Report", "https://ir.example.com/rem.pdf", false, 0, "", false},
		{"presentation rejected", "Annual Report 2023 presentation", "https://ir.example.com/p.pdf", false, 0, "", false},
		{"german locale", "Geschäftsbericht 2022", "https://ir.example.com/gb22.pdf", true, 2022, models.FormatPDF, false},
		{"swedish locale", "Årsredovisning 2019", "https://ir.example.com/ar19.pdf", true, 2019, models.FormatPDF, false},
		{"zip package rejected", "Annual Report 2023 (ESEF package)", "https://ir.example.com/ar-2023.zip", false, 0, "", false},
		{"year outside window", "Annual Report 2010", "https://ir.example.com/ar-2010.pdf", true, 0, models.FormatPDF, false},
		{"governance folder is fine", "Annual Report", "https://ir.example.com/governance/ar-2019.pdf", true, 2019, models.FormatPDF, false},
		{"governance statement rejected", "Corporate governance statement 2023", "https://ir.example.com/cg.pdf", false, 0, "", false},
		{"unrelated link", "Contact us", "https://ir.example.com/contact", false, 0, "", false},
		{"german annual report", "Jahresbericht 2023", "https://ir.example.com/jb-2023.pdf", true, 2023, models.FormatPDF, false},
		{"german half-year rejected", "Halbjahresbericht 2024", "https://ir.example.com/hjb-2024.pdf", false, 0, "", false},
		{"german quarterly statement rejected", "Quartalsmitteilung Geschäftsbericht 2024", "https://ir.example.com/qm-2024.pdf", false, 0, "", false},
		{"german interim rejected", "Geschäftsbericht Zwischenbericht 2024", "https://ir.example.com/zb-2024.pdf", false, 0, "", false},
		{"swedish annual report", "Årsrapport 2022", "https://ir.example.com/ar-2022.pdf", true, 2022, models.FormatPDF, false},
		{"swedish interim rejected", "Delårsrapport januari-juni 2024", "https://ir.example.com/q2-rapport.pdf", false, 0, "", false},
		{"french half-year rejected", "Rapport annuel semestriel 2024", "https://ir.example.com/rs-2024.pdf", false, 0, "", false},
		{"quarterly report rejected", "Annual Report quarterly update 2023", "https://ir.example.com/u.pdf", false, 0, "", false},
		{"headquarters is not a quarter", "Annual Report 2024 - Headquarters", "https://ir.example.com/ar-2024.pdf", true, 2024, models.FormatPDF, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := c.Classify(tt.text, tt.url)
			if ok != tt.accept {
				t.Fatalf("Classify() accepted = %v, want %v", ok, tt.accept)
			}
			if !ok {
				return
			}
			if got.Year != tt.year || got.Format != tt.format || got.FormCode != tt.formCode {
				t.Errorf("Classify() = %+v, want year=%d format=%s formCode=%v", got, tt.year, tt.format, tt.formCode)
			}
		})
	}
}

func TestInferYear(t *testing.T) {
	c := NewClassifier(10, fixedClock)
	tests := []struct {
		text string
		url  string
		want int
	}{
		{"Annual Report 2023/24", "", 2023},
		{"Annual Report", "https://ir.example.com/2022/ar.pdf", 2022},
		{"Annual Report 2031", "https://ir.example.com/ar-2019.pdf", 2019},
		{"Published 20230415", "", 0},
		{"Annual Report 2014", "", 0},
		{"Annual Report 2015", "", 2015},
		{"Annual Report 2024", "", 2024},
		{"Annual Report 2025", "", 0},
	}
	for _, tt := range tests {
		if got := c.InferYear(tt.text, tt.url); got != tt.want {
			t.Errorf("InferYear(%q, %q) = %d, want %d", tt.text, tt.url, got, tt.want)
		}
	}
}

func TestSelect(t *testing.T) {
	candidates := []models.CandidateLink{
		{URL: "a-2021.xhtml", InferredYear: 2021, Format: models.FormatXHTML},
		{URL: "a-2023.pdf", InferredYear: 2023, Format: models.FormatPDF},
		{URL: "b-2023.pdf", InferredYear: 2023, Format: models.FormatPDF},
		{URL: "a-2021.pdf", InferredYear: 2021, Format: models.FormatPDF},
		{URL: "b-2021.pdf", InferredYear: 2021, Format: models.FormatOther},
		{URL: "none.pdf", InferredYear: 0, Format: models.FormatPDF},
		{URL: "a-2022.pdf", InferredYear: 2022, Format: models.FormatPDF},
	}
	got := Select(candidates, 10)

	want := []string{"a-2023.pdf", "a-2022.pdf", "a-2021.pdf"}
	if len(got) != len(want) {
		t.Fatalf("Select() returned %d candidates, want %d: %+v", len(got), len(want), got)
	}
	for i, u := range want {
		if got[i].URL != u {
			t.Errorf("Select()[%d] = %s, want %s", i, got[i].URL, u)
		}
	}
}

func TestSelectInvariants(t *testing.T) {
	c := NewClassifier(10, fixedClock)
	first, last := c.Window()

	var candidates []models.CandidateLink
	for i := 0; i < 3; i++ {
		for y := first; y <= last; y++ {
			candidates = append(candidates, models.CandidateLink{URL: "x", InferredYear: y, Format: models.FormatPDF})
		}
	}
	got := Select(candidates, 10)
	if len(got) != 10 {
		t.Fatalf("len = %d, want 10", len(got))
	}
	seen := make(map[int]bool)
	for i, cand := range got {
		if seen[cand.InferredYear] {
			t.Errorf("year %d retained twice", cand.InferredYear)
		}
		seen[cand.InferredYear] = true
		if i > 0 && got[i-1].InferredYear <= cand.InferredYear {
			t.Errorf("not descending at %d: %d then %d", i, got[i-1].InferredYear, cand.InferredYear)
		}
		if !c.InWindow(cand.InferredYear) {
			t.Errorf("year %d outside window", cand.InferredYear)
		}
	}

	if capped := Select(candidates, 3); len(capped) != 3 || capped[0].InferredYear != last {
		t.Errorf("Select(max=3) = %+v", capped)
	}
}
