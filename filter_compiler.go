package connpager

import (
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MaxFilterValueLength is the maximum length, in characters, of a string
// filter value.
const MaxFilterValueLength = 250

// likeEscape is the escape character of LIKE patterns. It is not special in
// any supported dialect, unlike the backslash.
const likeEscape = "!"

var _likeEscaper = strings.NewReplacer(
	likeEscape, likeEscape+likeEscape,
	"%", likeEscape+"%",
	"_", likeEscape+"_",
)

type (
	// ColumnRef is one physical column of an Alias.
	ColumnRef struct {
		Column clause.Column
		// ValueKey selects the sub-field of a compound filter value consumed by
		// this column. Empty means the whole value.
		ValueKey string
		// Operator overrides the operator of the filter for this column, e.g. a
		// unit column matched with eq while its sibling value column uses gte.
		Operator Operator
		// Time binds string values as RFC3339 timestamps. Other columns bind
		// values as given.
		Time bool
	}

	// Alias maps a logical filter field to one or more physical columns.
	// Conditions on several columns are joined with Combine (AND by default).
	Alias struct {
		Columns []ColumnRef
		Combine Logical
	}
)

// Columns returns an alias whose conditions must hold on every column.
func Columns(columns ...clause.Column) Alias {
	return Alias{Columns: refs(columns), Combine: LogicalAND}
}

// AnyOf returns an alias whose condition must hold on at least one column.
func AnyOf(columns ...clause.Column) Alias {
	return Alias{Columns: refs(columns), Combine: LogicalOR}
}

func refs(columns []clause.Column) []ColumnRef {
	return lo.Map(columns, func(c clause.Column, _ int) ColumnRef {
		return ColumnRef{Column: c}
	})
}

func (a Alias) combine() Logical {
	if a.Combine == "" {
		return LogicalAND
	}

	return a.Combine
}

func (a Alias) validate() error {
	if !a.combine().Valid() {
		return fmt.Errorf("invalid combine operator '%s'", a.Combine)
	}

	for _, ref := range a.Columns {
		if err := validateColumn(ref.Column); err != nil {
			return err
		}
		if ref.Operator != "" && !ref.Operator.Valid() {
			return fmt.Errorf("%w '%s' for column '%s'", ErrUnknownOperator, ref.Operator, columnString(ref.Column))
		}
	}

	return nil
}

// FieldRegistry holds the filterable fields of one entity and compiles filter
// trees into GORM expressions. Build it once at startup.
type FieldRegistry struct {
	aliases   map[string]Alias
	paramName func() string
}

// NewFieldRegistry validates the aliases and returns a registry. An alias with
// no columns is allowed: filters on it never restrict anything.
func NewFieldRegistry(aliases map[string]Alias) (*FieldRegistry, error) {
	for field, alias := range aliases {
		if field == filterKeyAND || field == filterKeyOR {
			return nil, fmt.Errorf("filter field name '%s' is reserved", field)
		}

		if err := alias.validate(); err != nil {
			return nil, fmt.Errorf("filter field '%s': %w", field, err)
		}
	}

	return &FieldRegistry{
		aliases:   aliases,
		paramName: newParamName,
	}, nil
}

// MustFieldRegistry is like NewFieldRegistry but panics on error.
func MustFieldRegistry(aliases map[string]Alias) *FieldRegistry {
	r, err := NewFieldRegistry(aliases)
	if err != nil {
		panic(err)
	}

	return r
}

// newParamName returns a globally unique bound parameter name. The same field
// may appear several times in one filter, e.g. once per OR branch.
func newParamName() string {
	return "f_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Apply compiles the filter and adds it to the query.
func (r *FieldRegistry) Apply(db *gorm.DB, f *Filter) (*gorm.DB, error) {
	expr, err := r.Compile(f)
	if err != nil {
		return nil, err
	}
	if expr == nil {
		return db, nil
	}

	return db.Clauses(expr), nil
}

// Compile turns the filter tree into an expression with every value bound as
// a parameter. A nil expression means no restriction.
func (r *FieldRegistry) Compile(f *Filter) (clause.Expression, error) {
	if err := validateFilter(f); err != nil {
		return nil, err
	}

	return r.compile(f)
}

func (r *FieldRegistry) compile(f *Filter) (clause.Expression, error) {
	if f == nil {
		return nil, nil
	}

	exprs := make([]clause.Expression, 0, len(f.Fields)+2)
	for _, field := range sortedFields(f) {
		expr, err := r.compileLeaf(field, f.Fields[field])
		if err != nil {
			return nil, err
		}
		if expr != nil {
			exprs = append(exprs, expr)
		}
	}

	for _, group := range []struct {
		op      Logical
		filters []Filter
	}{
		{LogicalOR, f.OR},
		{LogicalAND, f.AND},
	} {
		expr, err := r.compileGroup(group.op, group.filters)
		if err != nil {
			return nil, err
		}
		if expr != nil {
			exprs = append(exprs, expr)
		}
	}

	return combine(LogicalAND, exprs), nil
}

func (r *FieldRegistry) compileGroup(op Logical, filters []Filter) (clause.Expression, error) {
	exprs := make([]clause.Expression, 0, len(filters))
	unrestricted := false
	for i := range filters {
		expr, err := r.compile(&filters[i])
		if err != nil {
			return nil, err
		}

		if expr == nil {
			unrestricted = unrestricted || op == LogicalOR
			continue
		}
		exprs = append(exprs, expr)
	}

	// One unrestricted OR branch matches every row.
	if unrestricted {
		return nil, nil
	}

	return combine(op, exprs), nil
}

func (r *FieldRegistry) compileLeaf(field string, leaf FieldFilter) (clause.Expression, error) {
	alias, ok := r.aliases[field]
	if !ok || len(alias.Columns) == 0 {
		return nil, nil
	}

	conds := make([]clause.Expression, 0, len(alias.Columns))
	for _, ref := range alias.Columns {
		value := leaf.Value
		if ref.ValueKey != "" {
			obj, ok := value.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: field '%s' expects an object value", ErrInvalidFilterValue, field)
			}

			value, ok = obj[ref.ValueKey]
			if !ok {
				return nil, fmt.Errorf("%w: field '%s' misses '%s'", ErrInvalidFilterValue, field, ref.ValueKey)
			}
		}

		if ref.Time {
			ts, err := timeValue(value)
			if err != nil {
				return nil, fmt.Errorf("%w: field '%s': %w", ErrInvalidFilterValue, field, err)
			}
			value = ts
		}

		op := leaf.Operator
		if ref.Operator != "" {
			op = ref.Operator
		}

		cond, err := r.condition(ref.Column, op, value, leaf.CaseInsensitive)
		if err != nil {
			return nil, fmt.Errorf("filter field '%s': %w", field, err)
		}

		if cond == nil {
			if alias.combine() == LogicalOR {
				return nil, nil
			}
			continue
		}
		conds = append(conds, cond)
	}

	return combine(alias.combine(), conds), nil
}

// condition builds "column op @param". A nil expression matches every row.
func (r *FieldRegistry) condition(column clause.Column, op Operator, value any, caseInsensitive bool) (clause.Expression, error) {
	sqlOp, err := op.SQL()
	if err != nil {
		return nil, err
	}

	param := r.paramName()
	if op == OperatorContains {
		s, ok := value.(string)
		if !ok {
			s = fmt.Sprint(value)
		}

		// Every string contains the empty string.
		if s == "" {
			return nil, nil
		}

		pattern := "? LIKE @" + param + " ESCAPE '" + likeEscape + "'"
		if caseInsensitive {
			pattern = "LOWER(?) LIKE LOWER(@" + param + ") ESCAPE '" + likeEscape + "'"
		}

		return clause.NamedExpr{
			SQL:  pattern,
			Vars: []any{column, sql.Named(param, "%"+_likeEscaper.Replace(s)+"%")},
		}, nil
	}

	pattern := fmt.Sprintf("? %s @%s", sqlOp, param)
	if _, isString := value.(string); isString && caseInsensitive {
		pattern = fmt.Sprintf("LOWER(?) %s LOWER(@%s)", sqlOp, param)
	}

	return clause.NamedExpr{
		SQL:  pattern,
		Vars: []any{column, sql.Named(param, value)},
	}, nil
}

func timeValue(value any) (any, error) {
	switch vt := value.(type) {
	case nil, time.Time:
		return vt, nil
	case string:
		return time.Parse(time.RFC3339Nano, vt)
	default:
		return nil, fmt.Errorf("value %v is not a timestamp", value)
	}
}

// combine joins expressions with the logical operator. A single expression is
// returned as-is: GORM joins a one-element OR group with OR.
func combine(op Logical, exprs []clause.Expression) clause.Expression {
	switch len(exprs) {
	case 0:
		return nil
	case 1:
		return exprs[0]
	}

	if op == LogicalOR {
		return clause.Or(exprs...)
	}

	return clause.And(exprs...)
}

func sortedFields(f *Filter) []string {
	fields := lo.Keys(f.Fields)
	slices.Sort(fields)

	return fields
}

// validateFilter rejects the whole tree before any predicate is built.
func validateFilter(f *Filter) error {
	if f == nil {
		return nil
	}

	for _, field := range sortedFields(f) {
		leaf := f.Fields[field]
		if !leaf.Operator.Valid() {
			return fmt.Errorf("%w '%s' for field '%s'", ErrUnknownOperator, leaf.Operator, field)
		}

		if err := validateFilterValue(leaf.Value); err != nil {
			return fmt.Errorf("filter field '%s': %w", field, err)
		}
	}

	for _, group := range [][]Filter{f.OR, f.AND} {
		for i := range group {
			if err := validateFilter(&group[i]); err != nil {
				return err
			}
		}
	}

	return nil
}

func validateFilterValue(value any) error {
	switch vt := value.(type) {
	case string:
		if utf8.RuneCountInString(vt) > MaxFilterValueLength {
			return fmt.Errorf("%w: %d characters, at most %d allowed", ErrFilterValueTooLong, utf8.RuneCountInString(vt), MaxFilterValueLength)
		}
	case map[string]any:
		for _, sub := range vt {
			if err := validateFilterValue(sub); err != nil {
				return err
			}
		}
	}

	return nil
}
