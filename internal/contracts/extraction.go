package contracts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FlexString accepts a JSON string, number, bool or null. Vision models are
// inconsistent about quoting numbers, so every scalar field of a raw
// extraction is decoded through this type.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(strings.TrimSpace(s))
	case '{', '[':
		*f = FlexString(data)
	default:
		*f = FlexString(data)
	}
	return nil
}

// String returns the trimmed value.
func (f FlexString) String() string {
	return strings.TrimSpace(string(f))
}

// IsEmpty reports whether the model left the field blank or wrote a
// placeholder such as "N/A".
func (f FlexString) IsEmpty() bool {
	switch strings.ToLower(f.String()) {
	case "", "n/a", "na", "none", "null", "-", "unknown":
		return true
	}
	return false
}

// ResultEntry is one parameter of a certificate's results table. A
// parameter reported as an array carries several values.
type ResultEntry struct {
	Key    string   `json:"key"`
	Values []string `json:"values"`
}

// ResultSet keeps the results table in document order.
type ResultSet []ResultEntry

// UnmarshalJSON decodes an object of parameter → value while preserving key
// order. Nested objects are flattened as "parent child".
func (r *ResultSet) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("results: expected object, got %v", tok)
	}

	var out ResultSet
	if err := decodeResultObject(dec, "", &out); err != nil {
		return err
	}
	*r = out
	return nil
}

func decodeResultObject(dec *json.Decoder, prefix string, out *ResultSet) error {
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("results: expected key, got %v", tok)
		}
		if prefix != "" {
			key = prefix + " " + key
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		raw = bytes.TrimSpace(raw)

		switch {
		case len(raw) > 0 && raw[0] == '{':
			sub := json.NewDecoder(bytes.NewReader(raw))
			sub.UseNumber()
			if _, err := sub.Token(); err != nil {
				return err
			}
			if err := decodeResultObject(sub, key, out); err != nil {
				return err
			}
		case len(raw) > 0 && raw[0] == '[':
			var items []FlexString
			if err := json.Unmarshal(raw, &items); err != nil {
				return err
			}
			entry := ResultEntry{Key: key}
			for _, item := range items {
				if !item.IsEmpty() {
					entry.Values = append(entry.Values, item.String())
				}
			}
			*out = append(*out, entry)
		default:
			var v FlexString
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			*out = append(*out, ResultEntry{Key: key, Values: []string{v.String()}})
		}
	}
	_, err := dec.Token() // closing brace
	return err
}

// MarshalJSON writes the set back as an ordered object.
func (r ResultSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Quote(e.Key))
		buf.WriteByte(':')
		var val []byte
		var err error
		if len(e.Values) == 1 {
			val, err = json.Marshal(e.Values[0])
		} else {
			val, err = json.Marshal(e.Values)
		}
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// RawExtraction is the common structured shape every extraction provider
// returns. Values are left as text; unit and value parsing happens later.
type RawExtraction struct {
	TaskNumber        FlexString            `json:"task_number"`
	TestingOrdered    FlexString            `json:"testing_ordered"`
	SampleReceived    FlexString            `json:"sample_received"`
	AnalysisConducted FlexString            `json:"analysis_conducted"`
	Client            FlexString            `json:"client"`
	Sample            FlexString            `json:"sample"`
	PeptideName       FlexString            `json:"peptide_name"`
	QuantityNominal   FlexString            `json:"quantity_nominal"`
	UnitOfMeasure     FlexString            `json:"unit_of_measure"`
	Manufacturer      FlexString            `json:"manufacturer"`
	Batch             FlexString            `json:"batch"`
	TestType          FlexString            `json:"test_type"`
	TestCategory      FlexString            `json:"test_category"`
	Results           ResultSet             `json:"results"`
	EndotoxinLevel    FlexString            `json:"endotoxin_level"`
	HeavyMetals       map[string]FlexString `json:"heavy_metals"`
	MicrobiologyTAMC  FlexString            `json:"microbiology_tamc"`
	MicrobiologyTYMC  FlexString            `json:"microbiology_tymc"`
	Comments          FlexString            `json:"comments"`
	VerificationKey   FlexString            `json:"verification_key"`

	// Raw is the exact document the provider returned, kept for audit.
	Raw json.RawMessage `json:"-"`
}
