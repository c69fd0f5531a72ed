package types

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm/clause"
)

type CommonFilterOperator string

const (
	CommonFilterOperatorEq        CommonFilterOperator = "eq"
	CommonFilterOperatorNotEq     CommonFilterOperator = "not_eq"
	CommonFilterOperatorLt        CommonFilterOperator = "lt"
	CommonFilterOperatorLte       CommonFilterOperator = "lte"
	CommonFilterOperatorGt        CommonFilterOperator = "gt"
	CommonFilterOperatorGte       CommonFilterOperator = "gte"
	CommonFilterOperatorDateRange CommonFilterOperator = "date_range"
	CommonFilterOperatorRange     CommonFilterOperator = "range"
	CommonFilterOperatorIn        CommonFilterOperator = "in"
	// CommonFilterOperatorOr matches when any nested filter matches.
	CommonFilterOperatorOr CommonFilterOperator = "or"
)

var ErrInvalidFilter = errors.New("invalid filter")

// CommonFilter is a client-supplied WHERE condition. Field must be checked
// with Validate before the filter reaches a query.
type CommonFilter struct {
	Field    string               `json:"field"`
	Operator CommonFilterOperator `json:"operator"`
	Values   []any                `json:"values"`
	Filters  []CommonFilter       `json:"filters"`
}

// Validate rejects unknown columns and operators with too few values.
func (f *CommonFilter) Validate(columns map[string]struct{}) error {
	if f.Operator == CommonFilterOperatorOr {
		if len(f.Filters) == 0 {
			return fmt.Errorf("%w: %q needs nested filters", ErrInvalidFilter, f.Operator)
		}
		for i := range f.Filters {
			if err := f.Filters[i].Validate(columns); err != nil {
				return err
			}
		}
		return nil
	}
	if _, ok := columns[f.Field]; !ok {
		return fmt.Errorf("%w: unknown field %q", ErrInvalidFilter, f.Field)
	}
	need := 1
	switch f.Operator {
	case CommonFilterOperatorEq, CommonFilterOperatorNotEq, CommonFilterOperatorLt, CommonFilterOperatorLte,
		CommonFilterOperatorGt, CommonFilterOperatorGte, CommonFilterOperatorIn:
	case CommonFilterOperatorRange:
		need = 2
	case CommonFilterOperatorDateRange:
		need = 2
		for _, v := range f.Values[:min(2, len(f.Values))] {
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("%w: %s expects YYYY-MM-DD strings", ErrInvalidFilter, f.Operator)
			}
			if _, err := time.Parse(time.DateOnly, s); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalidFilter, f.Operator, err)
			}
		}
	default:
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidFilter, f.Operator)
	}
	if len(f.Values) < need {
		return fmt.Errorf("%w: %s on %s needs %d value(s)", ErrInvalidFilter, f.Operator, f.Field, need)
	}
	return nil
}

// Build constructs a GORM expression.
func (f *CommonFilter) Build(builder clause.Builder) {
	if f.Operator == CommonFilterOperatorOr {
		exprs := make([]clause.Expression, 0, len(f.Filters))
		for i := range f.Filters {
			exprs = append(exprs, &f.Filters[i])
		}
		clause.Or(exprs...).Build(builder)
		return
	}
	if len(f.Values) == 0 {
		return
	}

	value := f.Values[0]

	switch f.Operator {
	case CommonFilterOperatorEq:
		clause.Eq{Column: f.Field, Value: value}.Build(builder)
	case CommonFilterOperatorNotEq:
		clause.Neq{Column: f.Field, Value: value}.Build(builder)
	case CommonFilterOperatorLt:
		clause.Lt{Column: f.Field, Value: value}.Build(builder)
	case CommonFilterOperatorLte:
		clause.Lte{Column: f.Field, Value: value}.Build(builder)
	case CommonFilterOperatorGt:
		clause.Gt{Column: f.Field, Value: value}.Build(builder)
	case CommonFilterOperatorGte:
		clause.Gte{Column: f.Field, Value: value}.Build(builder)
	case CommonFilterOperatorRange:
		if len(f.Values) < 2 {
			return
		}
		clause.And(clause.Gte{Column: f.Field, Value: f.Values[0]}, clause.Lte{Column: f.Field, Value: f.Values[1]}).Build(builder)
	case CommonFilterOperatorDateRange:
		if len(f.Values) < 2 {
			return
		}
		from, err1 := time.Parse(time.DateOnly, fmt.Sprint(f.Values[0]))
		to, err2 := time.Parse(time.DateOnly, fmt.Sprint(f.Values[1]))
		if err1 != nil || err2 != nil {
			return
		}
		// whole days, upper bound exclusive
		clause.And(clause.Gte{Column: f.Field, Value: from}, clause.Lt{Column: f.Field, Value: to.AddDate(0, 0, 1)}).Build(builder)
	case CommonFilterOperatorIn:
		clause.IN{Column: f.Field, Values: f.Values}.Build(builder)
	default:
		return
	}
}

// ValidateFilters checks every filter against the allowed columns.
func ValidateFilters(filters []*CommonFilter, columns map[string]struct{}) error {
	for _, f := range filters {
		if f == nil {
			return fmt.Errorf("%w: null filter", ErrInvalidFilter)
		}
		if err := f.Validate(columns); err != nil {
			return err
		}
	}
	return nil
}
