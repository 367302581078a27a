package drift

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	maxSelectOptions = 5
	maxScripts       = 10

	viewStateField = "__VIEWSTATE"
	generatorField = "__VIEWSTATEGENERATOR"
	productListID  = "ListBox1"

	doPostBackMarker      = "__doPostBack"
	webFormPostBackMarker = "WebForm_DoPostBackWithOptions"
)

var datePattern = regexp.MustCompile(`\d{2}/\d{2}/\d{4}`)

// CaptureHTML builds a Fingerprint from a fetched page body. The product
// list and the button and radio identifiers are only captured for the bulk
// download page.
func CaptureHTML(url, category string, body []byte, now time.Time) (*Fingerprint, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", url, err)
	}
	raw := string(body)

	generator := doc.Find(fmt.Sprintf(`input[name=%q]`, generatorField))
	fp := &Fingerprint{
		Version:          FingerprintVersion,
		Category:         category,
		URL:              url,
		CapturedAt:       now.UTC(),
		ViewStatePresent: doc.Find(fmt.Sprintf(`input[name=%q]`, viewStateField)).Length() > 0,
		GeneratorPresent: generator.Length() > 0,
		GeneratorValue:   generator.AttrOr("value", ""),
		FormElements:     formElements(doc),

		UsesDoPostBack:      strings.Contains(raw, doPostBackMarker),
		UsesWebFormPostBack: strings.Contains(raw, webFormPostBackMarker),
	}

	if category == CategoryBulkDownload {
		fp.Products = products(doc)
		fp.DownloadButtonIDs = uniqueIDs(doc.Find(`[id^="Download"]`))
		fp.RadioButtonIDs = uniqueIDs(doc.Find(`input[type="radio"][id]`))
	}

	doc.Find("script[src]").EachWithBreak(func(i int, s *goquery.Selection) bool {
		fp.ScriptSources = append(fp.ScriptSources, s.AttrOr("src", ""))
		return len(fp.ScriptSources) < maxScripts
	})
	if datePattern.MatchString(raw) {
		fp.DatePattern = datePattern.String()
	}

	fp.Hash = fp.CalculateHash()
	return fp, nil
}

// formElements lists named, identified selects and inputs. Framework fields
// (names starting with "__") are skipped.
func formElements(doc *goquery.Document) []FormElement {
	var elements []FormElement
	doc.Find("select[name][id]").Each(func(_ int, s *goquery.Selection) {
		var options []string
		s.Find("option").EachWithBreak(func(_ int, o *goquery.Selection) bool {
			if v := o.AttrOr("value", ""); v != "" {
				options = append(options, v)
			}
			return len(options) < maxSelectOptions
		})
		elements = append(elements, FormElement{
			Name:    s.AttrOr("name", ""),
			ID:      s.AttrOr("id", ""),
			Kind:    "select",
			Options: options,
		})
	})
	doc.Find("input[type][name][id]").Each(func(_ int, s *goquery.Selection) {
		name := s.AttrOr("name", "")
		if strings.HasPrefix(name, "__") {
			return
		}
		elements = append(elements, FormElement{
			Name: name,
			ID:   s.AttrOr("id", ""),
			Kind: strings.ToLower(s.AttrOr("type", "")),
		})
	})
	return elements
}

func products(doc *goquery.Document) []ProductOption {
	var out []ProductOption
	doc.Find("#" + productListID + " option").Each(func(_ int, o *goquery.Selection) {
		value := o.AttrOr("value", "")
		if value == "" {
			return
		}
		out = append(out, ProductOption{Value: value, Text: strings.TrimSpace(o.Text())})
	})
	return out
}

func uniqueIDs(sel *goquery.Selection) []string {
	seen := map[string]bool{}
	var ids []string
	sel.Each(func(_ int, s *goquery.Selection) {
		id := s.AttrOr("id", "")
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		ids = append(ids, id)
	})
	sort.Strings(ids)
	return ids
}
