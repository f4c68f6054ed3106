package discover

import (
	"context"
	"net/url"
	"path"
	"sort"
	"strings"

	"annualreports/pkg/core/browser"
	"annualreports/pkg/core/errs"
	"annualreports/pkg/core/ingest"
	"annualreports/pkg/models"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	DefaultMaxDocuments = 10
	DefaultMaxYearPages = 10
	maxFrames           = 10
	maxContextChars     = 300
)

// PageFetcher retrieves raw page markup without running scripts.
type PageFetcher interface {
	GetPage(ctx context.Context, pageURL string) (*ingest.Page, error)
}

// Discoverer scans an investor-relations page for annual-report links.
type Discoverer struct {
	Pages        PageFetcher
	Classifier   *Classifier
	Browser      browser.Factory // nil disables the scripted fallback
	MaxDocuments int
	MaxYearPages int
	Logger       *zap.Logger
}

// New creates a Discoverer with default limits.
func New(pages PageFetcher, classifier *Classifier, factory browser.Factory, logger *zap.Logger) *Discoverer {
	if classifier == nil {
		classifier = NewClassifier(DefaultWindowYears, nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{
		Pages:        pages,
		Classifier:   classifier,
		Browser:      factory,
		MaxDocuments: DefaultMaxDocuments,
		MaxYearPages: DefaultMaxYearPages,
		Logger:       logger,
	}
}

// renderFunc returns the markup at a URL and the URL to resolve its links against.
type renderFunc func(ctx context.Context, pageURL string) (string, *url.URL, error)

// Discover returns at most MaxDocuments candidates, one per fiscal year, newest
// first. The raw page is tried first; the scripted browser is only started when
// that yields nothing, and is always released before returning.
func (d *Discoverer) Discover(ctx context.Context, irURL string) ([]models.CandidateLink, error) {
	if u, err := url.Parse(irURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, eris.Wrapf(errs.ErrDiscoveryFailure, "invalid investor-relations url %q", irURL)
	}
	log := d.Logger.With(zap.String("url", irURL))

	static := func(ctx context.Context, pageURL string) (string, *url.URL, error) {
		page, err := d.Pages.GetPage(ctx, pageURL)
		if err != nil {
			return "", nil, err
		}
		return page.HTML, page.URL, nil
	}

	if html, base, err := static(ctx, irURL); err != nil {
		log.Warn("static fetch failed", zap.Error(err))
	} else {
		found, _ := d.scan(html, base, 0)
		if selected := Select(found, d.MaxDocuments); len(selected) > 0 {
			log.Info("candidates found", zap.String("strategy", "static"), zap.Int("count", len(selected)))
			return selected, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "discovery interrupted")
	}

	strategy := "static-deep"
	source := renderFunc(static)
	session := browser.NewLazy(d.Browser, log)
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn("browser release failed", zap.Error(err))
		}
	}()
	if session.Available() {
		strategy = "browser"
		source = func(ctx context.Context, pageURL string) (string, *url.URL, error) {
			page, err := session.Render(ctx, pageURL)
			if err != nil {
				return "", nil, err
			}
			u, err := url.Parse(page.URL)
			if err != nil {
				return "", nil, eris.Wrapf(err, "invalid rendered url %q", page.URL)
			}
			return page.HTML, u, nil
		}
	}

	found, err := d.deepScan(ctx, source, irURL, log)
	if err != nil {
		return nil, err
	}
	selected := Select(found, d.MaxDocuments)
	if len(selected) == 0 {
		return nil, eris.Wrapf(errs.ErrDiscoveryFailure, "%s", irURL)
	}
	log.Info("candidates found", zap.String("strategy", strategy), zap.Int("count", len(selected)))
	return selected, nil
}

// deepScan renders the landing page, then its frames, then per-year pages.
func (d *Discoverer) deepScan(ctx context.Context, render renderFunc, irURL string, log *zap.Logger) ([]models.CandidateLink, error) {
	html, base, err := render(ctx, irURL)
	if err != nil {
		log.Warn("page render failed", zap.Error(err))
		return nil, nil
	}
	found, doc := d.scan(html, base, 0)
	if doc == nil {
		return found, nil
	}
	docs := []*goquery.Document{doc}

	for _, frame := range frameSources(doc, base) {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "discovery interrupted")
		}
		html, frameBase, err := render(ctx, frame)
		if err != nil {
			log.Debug("frame render failed", zap.String("frame", frame), zap.Error(err))
			continue
		}
		more, frameDoc := d.scan(html, frameBase, 0)
		found = append(found, more...)
		if frameDoc != nil {
			docs = append(docs, frameDoc)
		}
	}
	if len(found) > 0 {
		return found, nil
	}

	var nav []yearLink
	seen := make(map[string]bool)
	for _, doc := range docs {
		for _, l := range d.yearLinks(doc, base) {
			if !seen[l.url] {
				seen[l.url] = true
				nav = append(nav, l)
			}
		}
	}
	if len(nav) > d.MaxYearPages {
		nav = nav[:d.MaxYearPages]
	}
	for _, l := range nav {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "discovery interrupted")
		}
		html, pageBase, err := render(ctx, l.url)
		if err != nil {
			log.Debug("year page render failed", zap.Int("year", l.year), zap.Error(err))
			continue
		}
		more, _ := d.scan(html, pageBase, l.year)
		found = append(found, more...)
	}
	return found, nil
}

// scan classifies every anchor of a page. The surrounding row or list item only
// decides inclusion when the anchor alone does not; the year comes from the
// anchor's own text and URL first. navYear tags candidates that carry no year.
func (d *Discoverer) scan(html string, pageURL *url.URL, navYear int) ([]models.CandidateLink, *goquery.Document) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		d.Logger.Debug("unparseable page", zap.Error(err))
		return nil, nil
	}
	base := baseURL(doc, pageURL)

	var out []models.CandidateLink
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		link := ingest.Resolve(base, href)
		if link == "" {
			return
		}
		own := linkText(a)
		text := own
		verdict, ok := d.Classifier.Classify(text, link)
		if !ok {
			// "Download" buttons often sit next to the title that names the report.
			if surrounding := contextText(a); surrounding != "" {
				text = surrounding
				verdict, ok = d.Classifier.Classify(text, link)
			}
		}
		if !ok {
			return
		}
		year := d.Classifier.InferYear(own, link)
		if year == 0 {
			year = verdict.Year
		}
		if year == 0 {
			year = navYear
		}
		if year == 0 {
			return
		}
		out = append(out, models.CandidateLink{
			DisplayText:  text,
			URL:          link,
			InferredYear: year,
			Format:       verdict.Format,
		})
	})
	return out, doc
}

type yearLink struct {
	url  string
	year int
}

// yearLinks returns navigation links naming a fiscal year in the window, such as
// the "2022" tab of a report archive.
func (d *Discoverer) yearLinks(doc *goquery.Document, pageURL *url.URL) []yearLink {
	base := baseURL(doc, pageURL)
	var out []yearLink
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		link := ingest.Resolve(base, href)
		if link == "" || isDocumentLink(link) {
			return
		}
		text := linkText(a)
		year := 0
		if len(text) <= 40 {
			year = d.Classifier.InferYear(text, "")
		}
		if year == 0 {
			year = d.Classifier.InferYear("", link)
		}
		if year != 0 {
			out = append(out, yearLink{url: link, year: year})
		}
	})
	return out
}

// Select keeps one candidate per fiscal year and orders them newest first. The
// first candidate seen for a year wins, except that a non-XHTML candidate
// displaces an XHTML one. Candidates without a year are dropped.
func Select(candidates []models.CandidateLink, max int) []models.CandidateLink {
	if max <= 0 {
		max = DefaultMaxDocuments
	}
	index := make(map[int]int)
	var out []models.CandidateLink
	for _, c := range candidates {
		if c.InferredYear == 0 {
			continue
		}
		if i, ok := index[c.InferredYear]; ok {
			if out[i].Format == models.FormatXHTML && c.Format != models.FormatXHTML {
				out[i] = c
			}
			continue
		}
		index[c.InferredYear] = len(out)
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].InferredYear > out[j].InferredYear
	})
	if len(out) > max {
		out = out[:max]
	}
	return out
}

func baseURL(doc *goquery.Document, pageURL *url.URL) *url.URL {
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved := ingest.Resolve(pageURL, href); resolved != "" {
			if u, err := url.Parse(resolved); err == nil {
				return u
			}
		}
	}
	return pageURL
}

func linkText(a *goquery.Selection) string {
	parts := []string{a.Text()}
	for _, attr := range []string{"title", "aria-label"} {
		if v, ok := a.Attr(attr); ok {
			parts = append(parts, v)
		}
	}
	a.Find("img[alt]").Each(func(_ int, img *goquery.Selection) {
		alt, _ := img.Attr("alt")
		parts = append(parts, alt)
	})
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

func contextText(a *goquery.Selection) string {
	container := a.Closest("li, tr, article, figure, div")
	if container.Length() == 0 {
		return ""
	}
	text := strings.Join(strings.Fields(container.Text()), " ")
	if len(text) > maxContextChars {
		return ""
	}
	return text
}

func frameSources(doc *goquery.Document, pageURL *url.URL) []string {
	base := baseURL(doc, pageURL)
	var out []string
	doc.Find("iframe[src], frame[src]").Each(func(_ int, f *goquery.Selection) {
		src, _ := f.Attr("src")
		if link := ingest.Resolve(base, src); link != "" && len(out) < maxFrames {
			out = append(out, link)
		}
	})
	return out
}

func isDocumentLink(link string) bool {
	switch strings.ToLower(path.Ext(urlPath(link))) {
	case ".pdf", ".zip", ".xhtml", ".xhtm", ".xlsx", ".xls", ".doc", ".docx":
		return true
	}
	return false
}
