package fields

import (
	"fmt"
	"time"

	"catalogcore/pkg/domain"
)

// ToExpressions compiles a query mapping of field name to literal value,
// Range, or value set into predicate expressions. get resolves field names
// against the target product's registry; an unresolved name fails with
// UnknownFieldError.
func ToExpressions(get func(name string) (domain.Field, bool), query map[string]any) ([]domain.Expression, error) {
	exprs := make([]domain.Expression, 0, len(query))
	for name, value := range query {
		field, ok := get(name)
		if !ok {
			return nil, &domain.UnknownFieldError{Name: name}
		}
		expr, err := compileOne(field, value)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, expr)
	}
	return exprs, nil
}

func compileOne(field domain.Field, value any) (domain.Expression, error) {
	switch v := value.(type) {
	case domain.Range:
		return newRangeExpression(field, v)
	case *domain.Range:
		return newRangeExpression(field, *v)
	case []any:
		return &inExpression{field: field, values: v}, nil
	case []string:
		values := make([]any, len(v))
		for i, s := range v {
			values[i] = s
		}
		return &inExpression{field: field, values: values}, nil
	default:
		return &equalExpression{field: field, value: v}, nil
	}
}

// ProductIDExpression pins a search to one product. It evaluates against
// the record's product reference, not its metadata document.
func ProductIDExpression(id int) domain.Expression {
	return &productExpression{id: id}
}

type productExpression struct {
	id int
}

func (e *productExpression) Field() domain.Field { return productField{} }

func (e *productExpression) Matches(rec domain.DatasetRecord) bool {
	return rec.ProductID == e.id
}

func (e *productExpression) String() string {
	return fmt.Sprintf("product_id == %d", e.id)
}

// productField is the synthetic field backing ProductIDExpression.
type productField struct{}

func (productField) Name() string        { return "product_id" }
func (productField) Description() string { return "owning product id" }
func (productField) Extract(domain.Document) (any, bool) {
	return nil, false
}

type equalExpression struct {
	field domain.Field
	value any
}

func (e *equalExpression) Field() domain.Field { return e.field }

func (e *equalExpression) Matches(rec domain.DatasetRecord) bool {
	switch f := e.field.(type) {
	case *SimpleField:
		raw, ok := rec.Metadata.Get(f.offset...)
		if !ok {
			return false
		}
		return scalarEqual(f.kind, raw, e.value)
	case *RangeField:
		// Equality against a range field means containment.
		want, ok := queryScalar(f.kind, e.value)
		if !ok {
			return false
		}
		low, okLow := f.bound(rec.Metadata, f.minOffsets, true)
		high, okHigh := f.bound(rec.Metadata, f.maxOffsets, false)
		return okLow && okHigh && low <= want && want <= high
	default:
		got, ok := e.field.Extract(rec.Metadata)
		return ok && got == e.value
	}
}

func (e *equalExpression) String() string {
	return fmt.Sprintf("%s == %v", e.field.Name(), e.value)
}

type inExpression struct {
	field  domain.Field
	values []any
}

func (e *inExpression) Field() domain.Field { return e.field }

func (e *inExpression) Matches(rec domain.DatasetRecord) bool {
	for _, v := range e.values {
		if (&equalExpression{field: e.field, value: v}).Matches(rec) {
			return true
		}
	}
	return false
}

func (e *inExpression) String() string {
	return fmt.Sprintf("%s in %v", e.field.Name(), e.values)
}

type rangeExpression struct {
	field      domain.Field
	begin, end float64
	display    domain.Range
}

func newRangeExpression(field domain.Field, r domain.Range) (domain.Expression, error) {
	var kind Kind
	switch f := field.(type) {
	case *SimpleField:
		kind = f.kind
	case *RangeField:
		kind = f.kind
	default:
		return nil, &domain.InvalidDocumentError{Reason: fmt.Sprintf("field %s does not support range queries", field.Name())}
	}
	if kind == KindString {
		return nil, &domain.InvalidDocumentError{Reason: fmt.Sprintf("field %s is a string field and does not support range queries", field.Name())}
	}
	begin, okBegin := queryScalar(kind, r.Begin)
	end, okEnd := queryScalar(kind, r.End)
	if !okBegin || !okEnd {
		return nil, &domain.InvalidDocumentError{Reason: fmt.Sprintf("range bounds for field %s are not comparable values", field.Name())}
	}
	return &rangeExpression{field: field, begin: begin, end: end, display: r}, nil
}

func (e *rangeExpression) Field() domain.Field { return e.field }

func (e *rangeExpression) Matches(rec domain.DatasetRecord) bool {
	switch f := e.field.(type) {
	case *SimpleField:
		raw, ok := rec.Metadata.Get(f.offset...)
		if !ok {
			return false
		}
		v, ok := scalar(f.kind, raw)
		if !ok {
			return false
		}
		return e.begin <= v && v <= e.end
	case *RangeField:
		low, okLow := f.bound(rec.Metadata, f.minOffsets, true)
		high, okHigh := f.bound(rec.Metadata, f.maxOffsets, false)
		if !okLow || !okHigh {
			return false
		}
		// Inclusive overlap of [low, high] with [begin, end].
		return low <= e.end && e.begin <= high
	default:
		return false
	}
}

func (e *rangeExpression) String() string {
	return fmt.Sprintf("%s in [%v, %v]", e.field.Name(), e.display.Begin, e.display.End)
}

// scalarEqual compares a stored raw value to a query literal under the
// field kind's comparison semantics.
func scalarEqual(kind Kind, raw, want any) bool {
	if kind == KindString {
		got, okGot := raw.(string)
		s, okWant := want.(string)
		return okGot && okWant && got == s
	}
	got, okGot := scalar(kind, raw)
	w, okWant := queryScalar(kind, want)
	return okGot && okWant && got == w
}

// queryScalar coerces a caller-supplied query value to the field's
// orderable representation.
func queryScalar(kind Kind, value any) (float64, bool) {
	if kind.isTemporal() {
		switch t := value.(type) {
		case time.Time:
			return float64(t.UnixNano()) / float64(time.Second), true
		case string:
			ts, err := parseTime(t)
			if err != nil {
				return 0, false
			}
			return float64(ts.UnixNano()) / float64(time.Second), true
		}
		return 0, false
	}
	switch t := value.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}
