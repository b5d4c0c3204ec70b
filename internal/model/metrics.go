package model

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Metrics is a read-only view over the untyped metrics object of a report.
// Values are decoded lazily per key; a key that is absent, null, or of the
// wrong shape reads as "not present" rather than an error.
type Metrics struct {
	raw map[string]json.RawMessage
}

func NewMetrics(raw map[string]json.RawMessage) Metrics {
	if len(raw) == 0 {
		return Metrics{}
	}
	cp := make(map[string]json.RawMessage, len(raw))
	for k, v := range raw {
		cp[k] = append(json.RawMessage(nil), v...)
	}
	return Metrics{raw: cp}
}

// MetricsFromValues builds Metrics from plain Go values. Values that cannot
// be encoded are skipped.
func MetricsFromValues(values map[string]any) Metrics {
	raw := make(map[string]json.RawMessage, len(values))
	for k, v := range values {
		buf, err := json.Marshal(v)
		if err != nil {
			continue
		}
		raw[k] = buf
	}
	return Metrics{raw: raw}
}

func (m Metrics) Len() int {
	return len(m.raw)
}

func (m Metrics) Has(key string) bool {
	v, ok := m.raw[key]
	return ok && !isNull(v)
}

func (m Metrics) Keys() []string {
	keys := make([]string, 0, len(m.raw))
	for k := range m.raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Raw returns the undecoded JSON for key.
func (m Metrics) Raw(key string) (json.RawMessage, bool) {
	v, ok := m.raw[key]
	if !ok || isNull(v) {
		return nil, false
	}
	return append(json.RawMessage(nil), v...), true
}

func (m Metrics) String(key string) (string, bool) {
	v, ok := m.raw[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", false
	}
	return s, true
}

// Float reads a numeric value. Numeric strings ("574.7") are accepted since
// some server builds serialise BigDecimal columns as strings. NaN and
// infinities read as absent.
func (m Metrics) Float(key string) (float64, bool) {
	v, ok := m.raw[key]
	if !ok || isNull(v) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		return finite(f)
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return finite(f)
}

func (m Metrics) Int(key string) (int64, bool) {
	f, ok := m.Float(key)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}

func (m Metrics) Bool(key string) (bool, bool) {
	v, ok := m.raw[key]
	if !ok {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(v, &b); err != nil {
		return false, false
	}
	return b, true
}

// Object returns a nested metrics object.
func (m Metrics) Object(key string) (Metrics, bool) {
	v, ok := m.raw[key]
	if !ok {
		return Metrics{}, false
	}
	var nested map[string]json.RawMessage
	if err := json.Unmarshal(v, &nested); err != nil || nested == nil {
		return Metrics{}, false
	}
	return Metrics{raw: nested}, true
}

func (m Metrics) MarshalJSON() ([]byte, error) {
	if m.raw == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m.raw)
}

func (m *Metrics) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		m.raw = nil
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.raw = raw
	return nil
}

func isNull(v json.RawMessage) bool {
	return len(bytes.TrimSpace(v)) == 0 || bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

func finite(f float64) (float64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
