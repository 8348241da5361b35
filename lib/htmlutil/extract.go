package htmlutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ParseError is returned whenever the markup does not contain what a scraper
// expected to find in it.
type ParseError struct {
	What string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("parse %s: not found", e.What)
	}
	return fmt.Sprintf("parse %s: %s", e.What, e.Err.Error())
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var ErrNotFound = errors.New("not found")

const CsrfFieldName = "csrfmiddlewaretoken"

// ExtractCsrfToken returns the value of the django csrf hidden field, ok is
// false when the form does not have one.
func ExtractCsrfToken(doc *goquery.Document) (token string, ok bool) {
	token = strings.TrimSpace(
		doc.Find(fmt.Sprintf("input[name=%s]", CsrfFieldName)).First().AttrOr("value", ""),
	)
	return token, token != ""
}

type SelectOption struct {
	// Label is the cleaned visible text of the option.
	Label string
	// Parts is Label split on the delimiter, each part trimmed.
	Parts []string
	Value string
}

// ExtractSelectOptions returns the options of the first <select> matching
// selector in document order.
func ExtractSelectOptions(doc *goquery.Document, selector, delimiter string) []SelectOption {
	var options []SelectOption
	doc.Find(selector).First().Find("option").Each(func(_ int, s *goquery.Selection) {
		label := CleanText(s.Get(0))
		var parts []string
		for _, p := range strings.Split(label, delimiter) {
			parts = append(parts, strings.TrimSpace(p))
		}
		options = append(options, SelectOption{
			Label: label,
			Parts: parts,
			Value: strings.TrimSpace(s.AttrOr("value", "")),
		})
	})
	return options
}

// ExtractTable turns the first table matching selector into one map per body
// row, keyed by the header text of each column. the footer row is dropped:
// either every row inside <tfoot> or, when the table has no <tfoot>, the last
// body row (the portal renders its totals there).
func ExtractTable(doc *goquery.Document, selector string) ([]map[string]string, error) {
	table := doc.Find(selector).First()
	if table.Length() == 0 {
		return nil, &ParseError{What: fmt.Sprintf("table %q", selector), Err: ErrNotFound}
	}

	var headers []string
	headerCells := table.Find("thead tr").First().Find("th, td")
	if headerCells.Length() == 0 {
		headerCells = table.Find("tr").First().Find("th")
	}
	headerCells.Each(func(_ int, s *goquery.Selection) {
		headers = append(headers, CleanText(s.Get(0)))
	})
	if len(headers) == 0 {
		return nil, &ParseError{What: fmt.Sprintf("table %q header", selector), Err: ErrNotFound}
	}

	hasFooter := table.Find("tfoot").Length() > 0
	rows := table.Find("tr").Not("thead tr, tfoot tr").Filter(":has(td)")
	if !hasFooter && rows.Length() > 0 {
		rows = rows.Slice(0, rows.Length()-1)
	}

	result := []map[string]string{}
	rows.Each(func(_ int, tr *goquery.Selection) {
		row := map[string]string{}
		tr.Find("td").Each(func(i int, td *goquery.Selection) {
			if i >= len(headers) {
				return
			}
			row[headers[i]] = CleanText(td.Get(0))
		})
		if len(row) > 0 {
			result = append(result, row)
		}
	})
	return result, nil
}

// ExtractInlineJson finds the text between the start and end markers (both
// are regular expressions, matched lazily and across lines) and unmarshals
// it into out.
func ExtractInlineJson(text, start, end string, out any) error {
	pattern, err := regexp.Compile(`(?s)` + start + `\s*(.+?)\s*` + end)
	if err != nil {
		return &ParseError{What: "inline json boundary", Err: err}
	}
	groups := pattern.FindStringSubmatch(text)
	if len(groups) < 2 {
		return &ParseError{What: fmt.Sprintf("inline json after %q", start), Err: ErrNotFound}
	}
	err = json.Unmarshal([]byte(groups[1]), out)
	if err != nil {
		return &ParseError{What: fmt.Sprintf("inline json after %q", start), Err: err}
	}
	return nil
}

// ExtractLabeledParagraphs reads paragraphs shaped like
// <p><strong>Label:</strong> value</p> into a label -> value map.
func ExtractLabeledParagraphs(doc *goquery.Document, selector string) map[string]string {
	out := map[string]string{}
	doc.Find(selector).Each(func(_ int, p *goquery.Selection) {
		labelSel := p.Find("strong, b").First()
		if labelSel.Length() == 0 {
			return
		}
		label := strings.TrimSuffix(CleanText(labelSel.Get(0)), ":")
		label = strings.TrimSpace(label)
		if label == "" {
			return
		}

		full := CleanText(p.Get(0))
		value := strings.TrimSpace(strings.TrimPrefix(full, CleanText(labelSel.Get(0))))
		out[label] = value
	})
	return out
}

// FragmentText returns the cleaned text content of an html fragment such as
// the cells of a json listing, plain text only gets its whitespace cleaned.
func FragmentText(fragment string) string {
	if !strings.Contains(fragment, "<") && !strings.Contains(fragment, "&") {
		return strings.Join(strings.Fields(fragment), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	return CleanText(doc.Get(0))
}
