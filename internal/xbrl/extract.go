// Package xbrl turns downloaded XBRL instance documents into flat, typed
// observations. Extraction is best-effort: an element that cannot be read
// is counted under a skip reason and the document continues.
package xbrl

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/call-report/data-collector/internal/model"
)

// Namespace prefixes of the data elements that are extracted.
var dataPrefixes = map[string]bool{"cc": true, "uc": true}

var contextDate = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// Skip reasons recorded in Stats.SkipReasons.
const (
	SkipMissingContext   = "missing_context"
	SkipMalformedContext = "malformed_context"
	SkipMissingDate      = "missing_date"
	SkipBadValue         = "bad_value"
)

// ItemError explains why one element was skipped.
type ItemError struct {
	Element string
	Reason  string
	Err     error
}

func (e *ItemError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Element, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Element, e.Reason)
}

func (e *ItemError) Unwrap() error { return e.Err }

// Stats counts what happened to the data elements of one or more documents.
type Stats struct {
	Elements    int            `json:"elements"`
	Extracted   int            `json:"extracted"`
	Skipped     int            `json:"skipped"`
	SkipReasons map[string]int `json:"skip_reasons,omitempty"`
}

func (s *Stats) skip(reason string) {
	s.Skipped++
	if s.SkipReasons == nil {
		s.SkipReasons = map[string]int{}
	}
	s.SkipReasons[reason]++
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Elements += o.Elements
	s.Extracted += o.Extracted
	s.Skipped += o.Skipped
	for reason, n := range o.SkipReasons {
		if s.SkipReasons == nil {
			s.SkipReasons = map[string]int{}
		}
		s.SkipReasons[reason] += n
	}
}

// SkipRate is the share of data elements that were skipped.
func (s Stats) SkipRate() float64 {
	if s.Elements == 0 {
		return 0
	}
	return float64(s.Skipped) / float64(s.Elements)
}

// Extraction is the output of one document.
type Extraction struct {
	Observations []model.Observation
	Stats        Stats
}

// ExtractDocument reads one instance document. Only direct children of the
// root carrying a known data prefix are considered. An error is returned
// only when the document itself cannot be read.
func ExtractDocument(r io.Reader) (*Extraction, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel

	out := &Extraction{}
	depth := 0
	sawRoot := false
	for {
		tok, err := dec.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				if t.Name.Local != "xbrl" {
					return nil, fmt.Errorf("root element %q is not an xbrl instance", qualified(t.Name))
				}
				sawRoot = true
			}
			if depth == 1 && dataPrefixes[t.Name.Space] {
				text, err := elementText(dec)
				if err != nil {
					return nil, fmt.Errorf("reading %s: %w", qualified(t.Name), err)
				}
				out.Stats.Elements++
				obs, err := ParseItem(t.Name.Local, attr(t, "contextRef"), attr(t, "unitRef"), text)
				if err != nil {
					var ie *ItemError
					if errors.As(err, &ie) {
						out.Stats.skip(ie.Reason)
					}
					slog.Debug("skipping xbrl element", "err", err)
					continue
				}
				out.Observations = append(out.Observations, obs)
				out.Stats.Extracted++
				continue
			}
			depth++
		case xml.EndElement:
			depth--
		}
	}
	if !sawRoot {
		return nil, errors.New("empty document")
	}
	return out, nil
}

// ParseItem builds one observation from an element's metric code, context
// reference, unit reference and text. The context reference is
// "<prefix>_<entity>_<YYYY-MM-DD>..."; the unit picks the value kind:
// USD is scaled to thousands, PURE and NON-MONETARY are floats, a bare
// true/false is a bool and everything else is kept as a string.
func ParseItem(metric, contextRef, unitRef, text string) (model.Observation, error) {
	fail := func(reason string, err error) (model.Observation, error) {
		return model.Observation{}, &ItemError{Element: metric, Reason: reason, Err: err}
	}
	if contextRef == "" {
		return fail(SkipMissingContext, nil)
	}
	parts := strings.Split(contextRef, "_")
	if len(parts) < 2 || parts[1] == "" {
		return fail(SkipMalformedContext, fmt.Errorf("context %q has no entity segment", contextRef))
	}
	quarter := contextDate.FindString(contextRef)
	if quarter == "" {
		return fail(SkipMissingDate, fmt.Errorf("context %q has no date", contextRef))
	}

	text = strings.TrimSpace(text)
	var value model.Value
	switch {
	case strings.EqualFold(unitRef, "USD"):
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return fail(SkipBadValue, err)
		}
		value = model.IntValue(n / 1000)
	case strings.EqualFold(unitRef, "PURE"), strings.EqualFold(unitRef, "NON-MONETARY"):
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return fail(SkipBadValue, err)
		}
		value = model.FloatValue(f)
	case text == "true":
		value = model.BoolValue(true)
	case text == "false":
		value = model.BoolValue(false)
	default:
		value = model.StringValue(text)
	}

	return model.Observation{
		MetricCode: metric,
		EntityID:   parts[1],
		Quarter:    quarter,
		Value:      value,
	}, nil
}

// elementText consumes tokens up to the end of the current element and
// returns its character data.
func elementText(dec *xml.Decoder) (string, error) {
	var b strings.Builder
	depth := 1
	for depth > 0 {
		tok, err := dec.RawToken()
		if err != nil {
			if err == io.EOF {
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			b.Write(t)
		}
	}
	return b.String(), nil
}

func attr(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

func qualified(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}
