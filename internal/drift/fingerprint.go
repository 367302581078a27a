// Package drift detects structural changes to the portal pages the protocol
// client depends on. A page is captured into a Fingerprint, hashed, and
// compared against a persisted baseline; differences are classified as
// critical (a download must not be attempted) or advisory.
package drift

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// FingerprintVersion is bumped when the hashed fields change.
const FingerprintVersion = "1.0"

// FormElement describes one form control. Options holds a bounded prefix of
// a select's option values and is empty for inputs.
type FormElement struct {
	Name    string   `yaml:"name" json:"name"`
	ID      string   `yaml:"id" json:"id"`
	Kind    string   `yaml:"kind" json:"kind"`
	Options []string `yaml:"options,omitempty" json:"options,omitempty"`
}

// elementKey identifies an element across captures. Options are not part of
// the identity: a select whose listing changed is still the same control.
type elementKey struct {
	name, id, kind string
}

func (e FormElement) key() elementKey { return elementKey{e.Name, e.ID, e.Kind} }

func (k elementKey) String() string { return fmt.Sprintf("%s %s#%s", k.kind, k.name, k.id) }

func (e FormElement) digest() string {
	sum := md5.Sum([]byte(strings.Join([]string{e.Name, e.ID, e.Kind, strings.Join(e.Options, ",")}, "|")))
	return hex.EncodeToString(sum[:])
}

// ProductOption is one entry of the product selector.
type ProductOption struct {
	Value string `yaml:"value" json:"value"`
	Text  string `yaml:"text" json:"text"`
}

// Fingerprint is the structural signature of one fetched page.
type Fingerprint struct {
	Version    string    `yaml:"version" json:"version"`
	Category   string    `yaml:"category" json:"category"`
	URL        string    `yaml:"url" json:"url"`
	CapturedAt time.Time `yaml:"captured_at" json:"captured_at"`

	ViewStatePresent bool   `yaml:"viewstate_present" json:"viewstate_present"`
	GeneratorPresent bool   `yaml:"viewstate_generator_present" json:"viewstate_generator_present"`
	GeneratorValue   string `yaml:"viewstate_generator_value,omitempty" json:"viewstate_generator_value,omitempty"`

	FormElements      []FormElement   `yaml:"form_elements,omitempty" json:"form_elements,omitempty"`
	Products          []ProductOption `yaml:"products,omitempty" json:"products,omitempty"`
	DownloadButtonIDs []string        `yaml:"download_button_ids,omitempty" json:"download_button_ids,omitempty"`
	RadioButtonIDs    []string        `yaml:"radio_button_ids,omitempty" json:"radio_button_ids,omitempty"`

	UsesDoPostBack      bool     `yaml:"uses_dopostback" json:"uses_dopostback"`
	UsesWebFormPostBack bool     `yaml:"uses_webform_postback" json:"uses_webform_postback"`
	ScriptSources       []string `yaml:"javascript_files,omitempty" json:"javascript_files,omitempty"`
	DatePattern         string   `yaml:"date_format_pattern,omitempty" json:"date_format_pattern,omitempty"`

	Hash string `yaml:"structural_hash" json:"structural_hash"`
}

// CalculateHash returns the sha256 structural hash. Every collection is
// sorted before serialization, so capture order never changes the result.
// The capture time, script sources, postback flags and date pattern are
// diagnostics and are not hashed.
func (f *Fingerprint) CalculateHash() string {
	digests := make([]string, len(f.FormElements))
	for i, e := range f.FormElements {
		digests[i] = e.digest()
	}
	components := []string{
		f.URL,
		strconv.FormatBool(f.ViewStatePresent),
		strconv.FormatBool(f.GeneratorPresent),
		f.GeneratorValue,
		sortedJSON(digests),
	}
	if len(f.Products) > 0 {
		products := make([]string, len(f.Products))
		for i, p := range f.Products {
			products[i] = p.Value + "|" + p.Text
		}
		components = append(components, sortedJSON(products))
	}
	if len(f.DownloadButtonIDs) > 0 {
		components = append(components, sortedJSON(f.DownloadButtonIDs))
	}
	if len(f.RadioButtonIDs) > 0 {
		components = append(components, sortedJSON(f.RadioButtonIDs))
	}
	sum := sha256.Sum256([]byte(strings.Join(components, "|")))
	return hex.EncodeToString(sum[:])
}

func sortedJSON(items []string) string {
	sorted := append([]string(nil), items...)
	sort.Strings(sorted)
	b, _ := json.Marshal(sorted)
	return string(b)
}

func (f *Fingerprint) elementSet() map[elementKey]bool {
	set := make(map[elementKey]bool, len(f.FormElements))
	for _, e := range f.FormElements {
		set[e.key()] = true
	}
	return set
}

func (f *Fingerprint) productValues() map[string]bool {
	set := make(map[string]bool, len(f.Products))
	for _, p := range f.Products {
		set[p.Value] = true
	}
	return set
}
