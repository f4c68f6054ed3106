// Package discover finds annual-report documents on an investor-relations page.
package discover

import (
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"annualreports/pkg/models"
)

// DefaultWindowYears is the size of the fiscal-year window ending at the current year.
const DefaultWindowYears = 10

var includePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)annual[\s_\-]*(financial[\s_\-]*)?report`),
	regexp.MustCompile(`(?i)integrated[\s_\-]*report`),
	regexp.MustCompile(`(?i)gesch(ä|ae|a)ftsbericht`),
	regexp.MustCompile(`(?i)(?:^|[^\p{L}])jahresbericht`),
	regexp.MustCompile(`(?i)rapport[\s_\-]*annuel`),
	regexp.MustCompile(`(?i)informe[\s_\-]*anual`),
	regexp.MustCompile(`(?i)relazione[\s_\-]*(finanziaria[\s_\-]*)?annuale`),
	regexp.MustCompile(`(?i)jaarverslag`),
	regexp.MustCompile(`(?i)(?:^|[^\p{L}])(å|a)rsredovisning`),
	regexp.MustCompile(`(?i)(?:^|[^\p{L}])(å|a)rsrapport`),
	regexp.MustCompile(`(?i)vuosikertomus`),
	regexp.MustCompile(`(?i)relat(ó|o)rio[\s_\-]*anual`),
}

var (
	formCodePattern  = regexp.MustCompile(`(?i)(?:^|[^0-9a-z])(10-?k|20-?f|40-?f)(?:[^a-z]|$)`)
	amendmentPattern = regexp.MustCompile(`(?i)(10-?k|20-?f|40-?f)(\s*/\s*a|a)(?:[^a-z]|$)|amend(ment|ed)`)
)

var excludePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)sustainab|\besg\b|\bcsr\b|corporate[\s_\-]*responsibility|climate|\btcfd\b`),
	regexp.MustCompile(`(?i)\btax(es|ation)?\b`),
	regexp.MustCompile(`(?i)interim|\bquarter(ly|s)?\b|half[\s_\-]*year|semi[\s_\-]*annual|\bq[1-4]\b|\bh1\b`),
	regexp.MustCompile(`(?i)halbjahr|zwischenbericht|quartal|del(å|a)rs|semestriel|semestrale|trimestr`),
	regexp.MustCompile(`(?i)governance|remuneration|compensation`),
	regexp.MustCompile(`(?i)(press|news)[\s_\-]*release`),
	regexp.MustCompile(`(?i)registration|prospectus`),
	regexp.MustCompile(`(?i)presentation|\bslides?\b|webcast|transcript`),
}

var (
	xhtmlMarker = regexp.MustCompile(`(?i)xhtml|\besef\b|ixbrl|inline[\s_\-]*xbrl`)
	digitRun    = regexp.MustCompile(`\d+`)
)

// Classification is the verdict on one link.
type Classification struct {
	Year     int // 0 when no year in the window was found
	Format   models.DocumentFormat
	FormCode bool // accepted on a filing-form code
}

// Classifier decides which links are annual reports and which fiscal year they cover.
type Classifier struct {
	WindowYears int
	Now         func() time.Time
}

// NewClassifier returns a classifier for the window of windowYears ending at the
// current year. A nil now uses the wall clock.
func NewClassifier(windowYears int, now func() time.Time) *Classifier {
	if windowYears <= 0 {
		windowYears = DefaultWindowYears
	}
	if now == nil {
		now = time.Now
	}
	return &Classifier{WindowYears: windowYears, Now: now}
}

// Window returns the inclusive fiscal-year range considered.
func (c *Classifier) Window() (first, last int) {
	last = c.Now().Year()
	return last - c.WindowYears + 1, last
}

// InWindow reports whether year lies in the window.
func (c *Classifier) InWindow(year int) bool {
	first, last := c.Window()
	return year >= first && year <= last
}

// Classify reports whether a link with the given text and URL is an annual
// report. Exclusions are matched against the text and the URL's file name so a
// report stored under a "governance" folder is still found.
func (c *Classifier) Classify(text, rawURL string) (Classification, bool) {
	if isPackage(rawURL) {
		return Classification{}, false
	}
	full := text + " " + rawURL
	local := strings.ReplaceAll(text+" "+fileName(rawURL), "_", " ")

	var verdict Classification
	included := false
	for _, re := range includePatterns {
		if re.MatchString(full) {
			included = true
			break
		}
	}
	if formCodePattern.MatchString(full) {
		if amendmentPattern.MatchString(full) {
			return Classification{}, false
		}
		included = true
		verdict.FormCode = true
	}
	if !included {
		return Classification{}, false
	}

	for _, re := range excludePatterns {
		if re.MatchString(local) {
			return Classification{}, false
		}
	}
	if amendmentPattern.MatchString(local) {
		return Classification{}, false
	}

	verdict.Year = c.InferYear(text, rawURL)
	verdict.Format = DetectFormat(text, rawURL)
	return verdict, true
}

// InferYear returns the first four-digit token inside the window, looking at the
// link text before the URL, or 0 when there is none.
func (c *Classifier) InferYear(text, rawURL string) int {
	for _, s := range []string{text, rawURL} {
		for _, run := range digitRun.FindAllString(s, -1) {
			if len(run) != 4 {
				continue
			}
			year, _ := strconv.Atoi(run)
			if c.InWindow(year) {
				return year
			}
		}
	}
	return 0
}

// DetectFormat infers the document rendering from the URL extension and text markers.
func DetectFormat(text, rawURL string) models.DocumentFormat {
	ext := strings.ToLower(path.Ext(urlPath(rawURL)))
	switch {
	case ext == ".pdf":
		return models.FormatPDF
	case ext == ".xhtml" || ext == ".xhtm" || xhtmlMarker.MatchString(text+" "+rawURL):
		return models.FormatXHTML
	case strings.Contains(strings.ToLower(text), "pdf"):
		return models.FormatPDF
	}
	return models.FormatOther
}

func isPackage(rawURL string) bool {
	return strings.EqualFold(path.Ext(urlPath(rawURL)), ".zip")
}

func urlPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Path
}

func fileName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	name := path.Base(u.Path)
	if u.RawQuery != "" {
		name += "?" + u.RawQuery
	}
	return name
}
