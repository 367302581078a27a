package drift

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrWebpageChanged matches every *ChangedError.
var ErrWebpageChanged = errors.New("webpage structure changed")

// ChangedError reports critical drift on a page. Dependent downloads must
// not be attempted.
type ChangedError struct {
	Category string
	URL      string
	Changes  []string
}

func (e *ChangedError) Error() string {
	return fmt.Sprintf("critical changes detected in %s (%s):\n  %s",
		e.Category, e.URL, strings.Join(e.Changes, "\n  "))
}

func (e *ChangedError) Is(target error) bool { return target == ErrWebpageChanged }

// Diff is the classified difference between a baseline and a fresh capture.
type Diff struct {
	Critical []string
	Advisory []string
}

// Compare classifies every structural difference between stored and current.
func Compare(stored, current *Fingerprint) Diff {
	var d Diff

	if stored.ViewStatePresent != current.ViewStatePresent {
		d.Critical = append(d.Critical, fmt.Sprintf("ViewState presence changed: %t -> %t",
			stored.ViewStatePresent, current.ViewStatePresent))
	}
	if stored.GeneratorPresent != current.GeneratorPresent {
		d.Critical = append(d.Critical, fmt.Sprintf("ViewStateGenerator presence changed: %t -> %t",
			stored.GeneratorPresent, current.GeneratorPresent))
	}
	if stored.GeneratorValue != current.GeneratorValue {
		d.Critical = append(d.Critical, fmt.Sprintf("ViewStateGenerator changed: %s -> %s",
			orNone(stored.GeneratorValue), orNone(current.GeneratorValue)))
	}

	storedSet, currentSet := stored.elementSet(), current.elementSet()
	if missing := subtract(storedSet, currentSet); len(missing) > 0 {
		d.Critical = append(d.Critical, "Missing form elements: "+strings.Join(missing, ", "))
	}
	if added := subtract(currentSet, storedSet); len(added) > 0 {
		d.Advisory = append(d.Advisory, "New form elements found: "+strings.Join(added, ", "))
	}

	// The product list and download buttons are only captured for the bulk
	// download page. There, a list that empties out is drift too.
	bulk := stored.Category == CategoryBulkDownload || current.Category == CategoryBulkDownload
	if bulk && len(stored.Products)+len(current.Products) > 0 {
		was, now := stored.productValues(), current.productValues()
		removed, added := subtractStrings(was, now), subtractStrings(now, was)
		if len(removed)+len(added) > 0 {
			d.Critical = append(d.Critical, fmt.Sprintf("Product options changed: removed [%s] added [%s]",
				strings.Join(removed, ", "), strings.Join(added, ", ")))
		}
	}

	if bulk && len(stored.DownloadButtonIDs)+len(current.DownloadButtonIDs) > 0 &&
		!sameSet(stored.DownloadButtonIDs, current.DownloadButtonIDs) {
		d.Critical = append(d.Critical, fmt.Sprintf("Download button IDs changed: %v -> %v",
			stored.DownloadButtonIDs, current.DownloadButtonIDs))
	}

	if stored.UsesDoPostBack != current.UsesDoPostBack {
		d.Advisory = append(d.Advisory, fmt.Sprintf("%s usage changed: %t -> %t",
			doPostBackMarker, stored.UsesDoPostBack, current.UsesDoPostBack))
	}
	if stored.UsesWebFormPostBack != current.UsesWebFormPostBack {
		d.Advisory = append(d.Advisory, fmt.Sprintf("%s usage changed: %t -> %t",
			webFormPostBackMarker, stored.UsesWebFormPostBack, current.UsesWebFormPostBack))
	}
	return d
}

func orNone(s string) string {
	if s == "" {
		return "<none>"
	}
	return s
}

func subtract(a, b map[elementKey]bool) []string {
	var out []string
	for k := range a {
		if !b[k] {
			out = append(out, k.String())
		}
	}
	sort.Strings(out)
	return out
}

func subtractStrings(a, b map[string]bool) []string {
	var out []string
	for k := range a {
		if !b[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func sameSet(a, b []string) bool {
	as, bs := map[string]bool{}, map[string]bool{}
	for _, s := range a {
		as[s] = true
	}
	for _, s := range b {
		bs[s] = true
	}
	return len(subtractStrings(as, bs)) == 0 && len(subtractStrings(bs, as)) == 0
}
