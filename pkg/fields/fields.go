// Package fields builds per-metadata-type field registries and compiles
// keyword/range queries into typed predicate expressions.
package fields

import (
	"fmt"
	"time"

	"catalogcore/pkg/domain"
)

// Kind classifies a search field's comparison behaviour.
type Kind string

// Supported field kinds. Scalar kinds compare single extracted values;
// range kinds extract inclusive [min, max] bounds from the document.
const (
	KindString        Kind = "string"
	KindDouble        Kind = "double"
	KindInteger       Kind = "integer"
	KindDatetime      Kind = "datetime"
	KindNumericRange  Kind = "numeric-range"
	KindDoubleRange   Kind = "double-range"
	KindIntegerRange  Kind = "integer-range"
	KindDatetimeRange Kind = "datetime-range"
)

func (k Kind) isRange() bool {
	switch k {
	case KindNumericRange, KindDoubleRange, KindIntegerRange, KindDatetimeRange:
		return true
	}
	return false
}

func (k Kind) isTemporal() bool {
	return k == KindDatetime || k == KindDatetimeRange
}

// Registry maps field name to its extraction/comparison rule for one
// metadata type. Registries are built once per metadata type and shared by
// reference.
type Registry map[string]domain.Field

// Get looks a field up by name.
func (r Registry) Get(name string) (domain.Field, bool) {
	f, ok := r[name]
	return f, ok
}

// Names returns the declared field names in unspecified order.
func (r Registry) Names() []string {
	out := make([]string, 0, len(r))
	for name := range r {
		out = append(out, name)
	}
	return out
}

// NewRegistry parses the dataset.search_fields block of a metadata type
// definition into a field registry.
func NewRegistry(definition domain.Document) (Registry, error) {
	dataset, ok := definition["dataset"].(map[string]any)
	if !ok {
		return nil, &domain.InvalidDocumentError{Reason: "definition has no dataset block"}
	}
	raw, ok := dataset["search_fields"].(map[string]any)
	if !ok {
		return nil, &domain.InvalidDocumentError{Reason: "definition has no dataset.search_fields"}
	}
	registry := make(Registry, len(raw))
	for name, spec := range raw {
		specDoc, ok := spec.(map[string]any)
		if !ok {
			return nil, &domain.InvalidDocumentError{Reason: fmt.Sprintf("search field %s is not an object", name)}
		}
		field, err := parseField(name, specDoc)
		if err != nil {
			return nil, err
		}
		registry[name] = field
	}
	return registry, nil
}

func parseField(name string, spec map[string]any) (domain.Field, error) {
	kind := KindString
	if raw, ok := spec["type"].(string); ok {
		kind = Kind(raw)
	}
	description, _ := spec["description"].(string)

	if kind.isRange() {
		minOffsets, err := offsetList(spec["min_offset"])
		if err != nil {
			return nil, &domain.InvalidDocumentError{Reason: fmt.Sprintf("search field %s min_offset: %v", name, err)}
		}
		maxOffsets, err := offsetList(spec["max_offset"])
		if err != nil {
			return nil, &domain.InvalidDocumentError{Reason: fmt.Sprintf("search field %s max_offset: %v", name, err)}
		}
		return &RangeField{name: name, description: description, kind: kind, minOffsets: minOffsets, maxOffsets: maxOffsets}, nil
	}

	offset, err := domain.DocumentPath(spec["offset"])
	if err != nil {
		return nil, &domain.InvalidDocumentError{Reason: fmt.Sprintf("search field %s offset: %v", name, err)}
	}
	return &SimpleField{name: name, description: description, kind: kind, offset: offset}, nil
}

// offsetList parses a list of document offsets ([[a,b],[c,d]] or a single
// offset which is promoted to a one-element list).
func offsetList(raw any) ([][]string, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list of offsets, got %T", raw)
	}
	// A flat path like [extent, from_dt] is a single offset.
	flat := true
	for _, el := range list {
		if _, ok := el.(string); !ok {
			flat = false
			break
		}
	}
	if flat {
		path, err := domain.DocumentPath(raw)
		if err != nil {
			return nil, err
		}
		return [][]string{path}, nil
	}
	out := make([][]string, 0, len(list))
	for _, el := range list {
		path, err := domain.DocumentPath(el)
		if err != nil {
			return nil, err
		}
		out = append(out, path)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("offset list must not be empty")
	}
	return out, nil
}

// SimpleField extracts a single scalar value at a fixed document offset.
type SimpleField struct {
	name        string
	description string
	kind        Kind
	offset      []string
}

// Name returns the field name.
func (f *SimpleField) Name() string { return f.name }

// Description returns the declared human description, possibly empty.
func (f *SimpleField) Description() string { return f.description }

// Kind returns the field's comparison kind.
func (f *SimpleField) Kind() Kind { return f.kind }

// Offset returns the document path the field reads.
func (f *SimpleField) Offset() []string { return append([]string(nil), f.offset...) }

// Extract reads the scalar value, coerced per the field kind.
func (f *SimpleField) Extract(doc domain.Document) (any, bool) {
	raw, ok := doc.Get(f.offset...)
	if !ok {
		return nil, false
	}
	return coerce(f.kind, raw)
}

// RangeField extracts an inclusive [min, max] pair. The minimum is the
// least value found at any min offset, the maximum the greatest value at
// any max offset.
type RangeField struct {
	name        string
	description string
	kind        Kind
	minOffsets  [][]string
	maxOffsets  [][]string
}

// Name returns the field name.
func (f *RangeField) Name() string { return f.name }

// Description returns the declared human description, possibly empty.
func (f *RangeField) Description() string { return f.description }

// Kind returns the field's comparison kind.
func (f *RangeField) Kind() Kind { return f.kind }

// Extract reads the stored bounds as a domain.Range.
func (f *RangeField) Extract(doc domain.Document) (any, bool) {
	low, okLow := f.bound(doc, f.minOffsets, true)
	high, okHigh := f.bound(doc, f.maxOffsets, false)
	if !okLow || !okHigh {
		return nil, false
	}
	if f.kind.isTemporal() {
		return domain.Range{Begin: formatTime(low), End: formatTime(high)}, true
	}
	return domain.Range{Begin: low, End: high}, true
}

func (f *RangeField) bound(doc domain.Document, offsets [][]string, min bool) (float64, bool) {
	found := false
	var best float64
	for _, offset := range offsets {
		raw, ok := doc.Get(offset...)
		if !ok {
			continue
		}
		v, ok := scalar(f.kind, raw)
		if !ok {
			continue
		}
		if !found || (min && v < best) || (!min && v > best) {
			best = v
			found = true
		}
	}
	return best, found
}

// coerce normalizes an extracted raw value per field kind.
func coerce(kind Kind, raw any) (any, bool) {
	switch kind {
	case KindString:
		s, ok := raw.(string)
		return s, ok
	case KindDatetime:
		v, ok := scalar(kind, raw)
		if !ok {
			return nil, false
		}
		return formatTime(v), true
	case KindDouble, KindInteger:
		v, ok := scalar(kind, raw)
		return v, ok
	default:
		return raw, true
	}
}

// scalar coerces a raw document value to an orderable float64. Temporal
// kinds parse RFC 3339 timestamps (with a date-only fallback) to epoch
// seconds.
func scalar(kind Kind, raw any) (float64, bool) {
	if kind.isTemporal() {
		switch t := raw.(type) {
		case string:
			ts, err := parseTime(t)
			if err != nil {
				return 0, false
			}
			return float64(ts.UnixNano()) / float64(time.Second), true
		case time.Time:
			return float64(t.UnixNano()) / float64(time.Second), true
		default:
			return 0, false
		}
	}
	switch t := raw.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"}

func parseTime(s string) (time.Time, error) {
	var err error
	for _, layout := range timeLayouts {
		var ts time.Time
		ts, err = time.Parse(layout, s)
		if err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, err
}

func formatTime(epochSeconds float64) string {
	sec := int64(epochSeconds)
	nsec := int64((epochSeconds - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC().Format(time.RFC3339)
}
