package extract

import (
	"bytes"
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"annualreports/pkg/core/errs"
	"annualreports/pkg/core/utils"
	"annualreports/pkg/models"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

var requiredSections = []string{
	string(models.IncomeStatement),
	string(models.BalanceSheet),
	string(models.CashFlow),
}

var (
	currencyPattern = regexp.MustCompile(`(?i)(usd|eur|gbp|chf|sek|nok|dkk|jpy|cny|rmb|inr|aud|cad)`)
	unitPattern     = regexp.MustCompile(`(?i)(millions?|billions?|thousands?|mio|mn|mm|bn|m)\b`)
	billionsPattern = regexp.MustCompile(`(?i)(billions?|bn)\b`)
	thousandPattern = regexp.MustCompile(`(?i)thousands?\b`)
	numberPattern   = regexp.MustCompile(`^\d+(\.\d+)?$`)
)

var missingMarkers = map[string]bool{
	"": true, "n/a": true, "na": true, "n.a.": true, "null": true, "none": true, "nil": true,
	"-": true, "--": true, "nm": true, "not available": true, "not reported": true, "not disclosed": true,
}

// decodeResponse locates the answer object in a service response: a fenced json
// block when present, otherwise the first balanced object in the text.
func decodeResponse(raw string) (map[string]json.RawMessage, error) {
	body := raw
	if blocks := utils.FencedBlocks(raw, "json"); len(blocks) > 0 {
		body = blocks[0]
	}
	if obj, ok := utils.ExtractFirstObject(body); ok {
		body = obj
	} else if i := strings.IndexByte(body, '{'); i >= 0 {
		// Unbalanced, usually a truncated answer; leave it to the repair step.
		body = body[i:]
	} else {
		return nil, eris.Wrapf(errs.ErrMalformedResponse, "no JSON object in response: %.200s", raw)
	}

	var sections map[string]json.RawMessage
	if _, err := utils.SmartParse(body, &sections); err != nil {
		return nil, eris.Wrapf(errs.ErrMalformedResponse, "%v", err)
	}
	if missing := utils.MissingKeys(sections, requiredSections...); len(missing) > 0 {
		return nil, eris.Wrapf(errs.ErrMalformedResponse, "response lacks %s", strings.Join(missing, ", "))
	}
	return sections, nil
}

// normalizeStatement maps reported labels onto canonical items and normalizes
// their values. Every canonical item is present in the result; unknown labels
// are dropped.
func (a *Adapter) normalizeStatement(st models.StatementType, raw json.RawMessage) (models.LineItems, error) {
	var values map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&values); err != nil {
		return nil, eris.Wrapf(errs.ErrMalformedResponse, "%s is not an object: %v", st, err)
	}

	items := make(models.LineItems)
	for _, name := range a.vocab.Items(st) {
		items[name] = models.NotAvailable
	}

	labels := make([]string, 0, len(values))
	for label := range values {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	// Labels spelled exactly like a canonical item win over synonyms.
	sort.SliceStable(labels, func(i, j int) bool {
		return a.isCanonical(st, labels[i]) && !a.isCanonical(st, labels[j])
	})

	assigned := make(map[string]bool)
	var dropped []string
	for _, label := range labels {
		name, ok := a.vocab.Canonical(st, label)
		if !ok {
			dropped = append(dropped, label)
			continue
		}
		if assigned[name] {
			continue
		}
		if v := normalizeValue(values[label]); v != models.NotAvailable {
			items[name] = v
			assigned[name] = true
		}
	}
	if len(dropped) > 0 {
		a.logger.Debug("dropped non-canonical items",
			zap.String("statement", string(st)),
			zap.Strings("labels", dropped))
	}
	return items, nil
}

func (a *Adapter) isCanonical(st models.StatementType, label string) bool {
	name, ok := a.vocab.Canonical(st, label)
	return ok && strings.EqualFold(strings.TrimSpace(label), name)
}

// normalizeValue renders a reported amount as a plain number in millions with a
// leading "-" for negatives, or NotAvailable. A reported zero stays "0".
func normalizeValue(v interface{}) string {
	switch val := v.(type) {
	case json.Number:
		f, err := strconv.ParseFloat(val.String(), 64)
		if err != nil {
			return models.NotAvailable
		}
		return normalizeText(strconv.FormatFloat(f, 'f', -1, 64))
	case float64:
		return normalizeText(strconv.FormatFloat(val, 'f', -1, 64))
	case string:
		return normalizeText(val)
	}
	return models.NotAvailable
}

func normalizeText(s string) string {
	s = strings.NewReplacer("\u2212", "-", "\u2013", "-", "\u2014", "-", "\u00a0", " ").Replace(strings.TrimSpace(s))
	if missingMarkers[strings.ToLower(s)] {
		return models.NotAvailable
	}

	negative := false
	if strings.Contains(s, "(") && strings.Contains(s, ")") {
		negative = true
		s = strings.NewReplacer("(", "", ")", "").Replace(s)
	}
	if i := strings.IndexByte(s, '-'); i >= 0 && i < strings.IndexFunc(s, unicode.IsDigit) {
		negative = true
	}

	billions := billionsPattern.MatchString(s)
	thousands := thousandPattern.MatchString(s)
	s = currencyPattern.ReplaceAllString(s, "")
	s = unitPattern.ReplaceAllString(s, "")
	if strings.IndexFunc(s, unicode.IsLetter) >= 0 {
		return models.NotAvailable
	}

	if dot, comma := strings.LastIndexByte(s, '.'), strings.LastIndexByte(s, ','); dot >= 0 && comma > dot {
		// "1.234,5": the later comma is the decimal mark.
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) || r == '.' {
			return r
		}
		return -1
	}, s)
	if strings.Count(digits, ".") > 1 {
		// Dots used as thousands separators.
		digits = strings.ReplaceAll(digits, ".", "")
	}
	if !numberPattern.MatchString(digits) {
		return models.NotAvailable
	}

	if billions || thousands {
		f, err := strconv.ParseFloat(digits, 64)
		if err != nil {
			return models.NotAvailable
		}
		if billions {
			f *= 1000
		} else {
			f /= 1000
		}
		digits = strconv.FormatFloat(f, 'f', -1, 64)
	}

	if f, _ := strconv.ParseFloat(digits, 64); f == 0 {
		return digits
	}
	if negative {
		return "-" + digits
	}
	return digits
}
