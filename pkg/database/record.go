package database

import (
	"bytes"
	"encoding/json"
	"reflect"
	"sort"
)

const (
	Users       = "users"
	Videos      = "videos"
	PlayHistory = "play_history"
)

// Collections lists the collections Initialize guarantees to exist, in
// the order they are written to the backing document.
var Collections = []string{Users, Videos, PlayHistory}

// TimeLayout is the ISO-8601 form used for created_at, updated_at and
// every other timestamp the store writes.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Record is one entry of a collection. Values are kept in their JSON
// form: numbers are float64, nested objects are map[string]any.
type Record map[string]any

// Conditions selects records by field equality. All pairs must match.
type Conditions map[string]any

func (r Record) ID() int64 {
	return r.Int64("id")
}

func (r Record) Int64(key string) int64 {
	switch v := r[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}

func (r Record) Float64(key string) float64 {
	switch v := r[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

func (r Record) String(key string) string {
	s, _ := r[key].(string)
	return s
}

func (r Record) Bool(key string) bool {
	b, _ := r[key].(bool)
	return b
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func (r Record) matches(cond Conditions) bool {
	for k, want := range cond {
		got, ok := r[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = cloneValue(e)
		}
		return m
	case Record:
		return t.Clone()
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	default:
		return v
	}
}

// canonicalRecord converts caller supplied values (ints, structs, typed
// slices) into the form they take after a JSON round trip, so matching
// behaves the same whether data came from disk or from memory.
func canonicalRecord(fields Record) (Record, error) {
	if len(fields) == 0 {
		return Record{}, nil
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	var out Record
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func canonicalConditions(cond Conditions) (Conditions, error) {
	if len(cond) == 0 {
		return nil, nil
	}
	r, err := canonicalRecord(Record(cond))
	if err != nil {
		return nil, err
	}
	return Conditions(r), nil
}

// Dataset is the whole persisted state: collection name to ordered records.
type Dataset map[string][]Record

func NewDataset() Dataset {
	d := make(Dataset, len(Collections))
	for _, name := range Collections {
		d[name] = []Record{}
	}
	return d
}

func (d Dataset) Clone() Dataset {
	out := make(Dataset, len(d))
	for name, recs := range d {
		cp := make([]Record, len(recs))
		for i, r := range recs {
			cp[i] = r.Clone()
		}
		out[name] = cp
	}
	return out
}

// names returns the known collections first, then any extra ones sorted.
func (d Dataset) names() []string {
	names := make([]string, 0, len(d))
	seen := make(map[string]bool, len(Collections))
	for _, name := range Collections {
		if _, ok := d[name]; ok {
			names = append(names, name)
			seen[name] = true
		}
	}
	var extra []string
	for name := range d {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

// MarshalJSON keeps users, videos and play_history at the top of the
// document instead of the alphabetical order encoding/json would pick.
func (d Dataset) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range d.names() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		recs := d[name]
		if recs == nil {
			recs = []Record{}
		}
		val, err := json.Marshal(recs)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func decodeDataset(data []byte) (Dataset, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return NewDataset(), nil
	}
	var d Dataset
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	if d == nil {
		d = Dataset{}
	}
	return d, nil
}

func encodeDataset(d Dataset) ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}
