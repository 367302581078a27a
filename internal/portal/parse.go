package portal

import (
	"bytes"
	"fmt"
	"log/slog"
	"mime"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/call-report/data-collector/internal/model"
	"github.com/call-report/data-collector/internal/util"
)

// Form field names of the bulk download page.
const (
	FieldEventTarget        = "__EVENTTARGET"
	FieldEventArgument      = "__EVENTARGUMENT"
	FieldViewState          = "__VIEWSTATE"
	FieldViewStateGenerator = "__VIEWSTATEGENERATOR"

	controlPrefix = "ctl00$MainContentHolder$"

	FieldProduct  = controlPrefix + "ListBox1"
	FieldPeriod   = controlPrefix + "DatesDropDownList"
	FieldFormat   = controlPrefix + "FormatType"
	FieldDownload = controlPrefix + "TabStrip1$Download_0"
)

var (
	callUpdatedRe = regexp.MustCompile(`Call Updated:\s*(\d{1,2}/\d{1,2}/\d{4})`)
	ubprUpdatedRe = regexp.MustCompile(`UBPR Updated:\s*(\d{1,2}/\d{1,2}/\d{4})`)
	filenameRe    = regexp.MustCompile(`filename\*?=["']?(?:UTF-8'')?([^"';]+)`)
)

func parseDocument(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}
	return doc, nil
}

// extractState returns the view state token and its generator.
func extractState(doc *goquery.Document) (string, string, error) {
	viewState := doc.Find(fmt.Sprintf(`input[name=%q]`, FieldViewState)).AttrOr("value", "")
	if viewState == "" {
		return "", "", fmt.Errorf("%w: %s marker missing", ErrProtocolAssumption, FieldViewState)
	}
	generator := doc.Find(fmt.Sprintf(`input[name=%q]`, FieldViewStateGenerator)).AttrOr("value", "")
	if generator == "" {
		return "", "", fmt.Errorf("%w: %s marker missing", ErrProtocolAssumption, FieldViewStateGenerator)
	}
	return viewState, generator, nil
}

// extractLastUpdated reads the free-text "Call Updated:" and "UBPR Updated:"
// markers. Missing or unparsable dates are returned as nil.
func extractLastUpdated(doc *goquery.Document) (call, ubpr *time.Time) {
	text := doc.Text()
	return matchDate(callUpdatedRe, text), matchDate(ubprUpdatedRe, text)
}

func matchDate(re *regexp.Regexp, text string) *time.Time {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	d, err := util.ParseSlashDate(m[1])
	if err != nil {
		return nil
	}
	return util.DatePtr(d)
}

// extractPeriods reads the period selector in document order, which the
// portal renders most-recent-first.
func extractPeriods(doc *goquery.Document) ([]model.ReportingPeriod, error) {
	sel := doc.Find(fmt.Sprintf(`select[name=%q]`, FieldPeriod))
	if sel.Length() == 0 {
		return nil, fmt.Errorf("%w: period selector missing", ErrNoPeriods)
	}
	var periods []model.ReportingPeriod
	sel.Find("option").Each(func(_ int, opt *goquery.Selection) {
		value, ok := opt.Attr("value")
		if !ok || value == "" {
			return
		}
		p, err := model.NewReportingPeriod(value, opt.Text())
		if err != nil {
			slog.Warn("skipping unparsable period option", "value", value, "err", err)
			return
		}
		periods = append(periods, p)
	})
	if len(periods) == 0 {
		return nil, fmt.Errorf("%w: period selector is empty", ErrNoPeriods)
	}
	return periods, nil
}

// isAttachment classifies the final download response by its headers.
func isAttachment(contentType, disposition string) bool {
	return strings.Contains(contentType, "application/octet-stream") ||
		strings.Contains(strings.ToLower(disposition), "attachment")
}

// suggestedFilename extracts the filename from a Content-Disposition header.
func suggestedFilename(disposition string) string {
	if disposition == "" {
		return ""
	}
	if _, params, err := mime.ParseMediaType(disposition); err == nil {
		if name := strings.TrimSpace(params["filename"]); name != "" {
			return name
		}
	}
	if m := filenameRe.FindStringSubmatch(disposition); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}
