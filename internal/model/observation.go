package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ValueKind discriminates the populated slot of a Value.
type ValueKind uint8

const (
	KindInvalid ValueKind = iota
	KindInt               // currency amount, scaled to thousands
	KindFloat
	KindBool
	KindString
)

var valueKindNames = [...]string{"invalid", "int", "float", "bool", "str"}

func (k ValueKind) String() string {
	if int(k) < len(valueKindNames) {
		return valueKindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// ParseValueKind is the inverse of ValueKind.String.
func ParseValueKind(s string) (ValueKind, error) {
	for i, n := range valueKindNames {
		if i > 0 && n == s {
			return ValueKind(i), nil
		}
	}
	return KindInvalid, fmt.Errorf("unknown data type %q", s)
}

// Value holds exactly one typed observation value. The zero Value is invalid.
type Value struct {
	kind ValueKind
	i    int64
	f    float64
	b    bool
	s    string
}

func IntValue(v int64) Value     { return Value{kind: KindInt, i: v} }
func FloatValue(v float64) Value { return Value{kind: KindFloat, f: v} }
func BoolValue(v bool) Value     { return Value{kind: KindBool, b: v} }
func StringValue(v string) Value { return Value{kind: KindString, s: v} }

func (v Value) Kind() ValueKind { return v.kind }

func (v Value) Int() (int64, bool)     { return v.i, v.kind == KindInt }
func (v Value) Float() (float64, bool) { return v.f, v.kind == KindFloat }
func (v Value) Bool() (bool, bool)     { return v.b, v.kind == KindBool }
func (v Value) Str() (string, bool)    { return v.s, v.kind == KindString }

// String formats the populated slot for display.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindString:
		return v.s
	}
	return ""
}

// Observation is one flat record extracted from an XBRL document.
type Observation struct {
	MetricCode string // MDRM code without namespace prefix
	EntityID   string // RSSD identifier
	Quarter    string // YYYY-MM-DD
	Value      Value
}

// observationJSON is the flat wire shape: exactly one *_data slot is set.
type observationJSON struct {
	MDRM      string   `json:"mdrm"`
	RSSD      string   `json:"rssd"`
	Quarter   string   `json:"quarter"`
	DataType  string   `json:"data_type"`
	IntData   *int64   `json:"int_data,omitempty"`
	FloatData *float64 `json:"float_data,omitempty"`
	BoolData  *bool    `json:"bool_data,omitempty"`
	StrData   *string  `json:"str_data,omitempty"`
}

func (o Observation) MarshalJSON() ([]byte, error) {
	row := observationJSON{
		MDRM:     o.MetricCode,
		RSSD:     o.EntityID,
		Quarter:  o.Quarter,
		DataType: o.Value.kind.String(),
	}
	switch o.Value.kind {
	case KindInt:
		row.IntData = &o.Value.i
	case KindFloat:
		row.FloatData = &o.Value.f
	case KindBool:
		row.BoolData = &o.Value.b
	case KindString:
		row.StrData = &o.Value.s
	default:
		return nil, fmt.Errorf("observation %s/%s has no value", o.EntityID, o.MetricCode)
	}
	return json.Marshal(row)
}

func (o *Observation) UnmarshalJSON(b []byte) error {
	var row observationJSON
	if err := json.Unmarshal(b, &row); err != nil {
		return err
	}
	kind, err := ParseValueKind(row.DataType)
	if err != nil {
		return err
	}
	var v Value
	switch {
	case kind == KindInt && row.IntData != nil:
		v = IntValue(*row.IntData)
	case kind == KindFloat && row.FloatData != nil:
		v = FloatValue(*row.FloatData)
	case kind == KindBool && row.BoolData != nil:
		v = BoolValue(*row.BoolData)
	case kind == KindString && row.StrData != nil:
		v = StringValue(*row.StrData)
	default:
		return fmt.Errorf("data_type %q without matching %s_data", row.DataType, row.DataType)
	}
	*o = Observation{MetricCode: row.MDRM, EntityID: row.RSSD, Quarter: row.Quarter, Value: v}
	return nil
}

// ExtractionSummary is the persisted telemetry of one archive extraction.
// Status separates "no_data" from "extraction_failed".
type ExtractionSummary struct {
	Source         string         `json:"source"`
	Product        string         `json:"product,omitempty"`
	Period         string         `json:"period,omitempty"`
	Status         string         `json:"status"`
	MembersMatched int            `json:"members_matched"`
	MembersFailed  int            `json:"members_failed"`
	Elements       int            `json:"elements"`
	Extracted      int            `json:"extracted"`
	Skipped        int            `json:"skipped"`
	SkipReasons    map[string]int `json:"skip_reasons,omitempty"`
	ExtractedAt    time.Time      `json:"extracted_at"`
}
