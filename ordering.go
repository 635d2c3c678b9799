package connpager

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Order defines the sort order requested for a dataset.
type Order string

const (
	OrderASC  Order = "ASC"
	OrderDESC Order = "DESC"
)

func (o Order) Valid() bool {
	return o == OrderASC || o == OrderDESC
}

// Invert returns the opposite order.
func (o Order) Invert() Order {
	if o == OrderDESC {
		return OrderASC
	}

	return OrderDESC
}

func (o Order) forOperator() seekOperator {
	switch o {
	case OrderASC:
		return seekGT
	case OrderDESC:
		return seekLT
	default:
		panic(fmt.Errorf("cannot map order '%s' to operator", o))
	}
}

// Direction defines which side of the cursor a page is read from.
type Direction string

const (
	DirectionForward  Direction = "FORWARD"
	DirectionBackward Direction = "BACKWARD"
)

func (d Direction) Valid() bool {
	return d == DirectionForward || d == DirectionBackward
}

type (
	Orderings []OrderBy
	OrderBy   struct {
		Column clause.Column
		Order  Order
	}

	// SortInput is the client-facing sort request.
	SortInput struct {
		Field string `json:"field"`
		Order Order  `json:"order"`
	}

	// SortConfig describes how an entity can be sorted.
	//
	// PrimaryKey is always the final sort column, which makes the ordering
	// total even when the requested field has duplicate values. Aliases map
	// client sort fields to one or more physical columns.
	SortConfig struct {
		PrimaryKey clause.Column
		Aliases    map[string][]clause.Column
		Sort       *SortInput
	}
)

// Key is the name under which the column value is stored in a cursor and
// looked up in Getters: the table qualified column, e.g. "roles.id", so that
// joined columns of the same name do not collide.
func (o OrderBy) Key() string {
	return columnString(o.Column)
}

func (o OrderBy) validate() error {
	if !o.Order.Valid() {
		return fmt.Errorf("invalid sort order '%s'", o.Order)
	}

	return validateColumn(o.Column)
}

// ToSQLSlice converts Orderings to a slice of strings in the form
// "<order_column> <order>".
//
// Example: for Orderings: [{roles.name, ASC}, {roles.id, ASC}] returns ["roles.name ASC", "roles.id ASC"].
func (o Orderings) ToSQLSlice() []string {
	ret := make([]string, 0, len(o))
	for _, ordering := range o {
		ret = append(ret, fmt.Sprintf("%s %s", columnString(ordering.Column), ordering.Order))
	}

	return ret
}

// ToSQL converts Orderings to a single string
// "<order_column_1> <order_1>, <order_column_2> <order_2>".
func (o Orderings) ToSQL() string {
	return strings.Join(o.ToSQLSlice(), ", ")
}

// ToClause converts Orderings to a GORM ORDER BY clause with quoted columns.
func (o Orderings) ToClause() clause.OrderBy {
	return clause.OrderBy{
		Columns: lo.Map(o, func(ordering OrderBy, _ int) clause.OrderByColumn {
			return clause.OrderByColumn{Column: ordering.Column, Desc: ordering.Order == OrderDESC}
		}),
	}
}

// ToExpr renders Orderings as an expression suitable for an OVER (ORDER BY ...) window.
func (o Orderings) ToExpr() clause.Expr {
	parts := make([]string, 0, len(o))
	vars := make([]any, 0, len(o))
	for _, ordering := range o {
		parts = append(parts, "? "+string(ordering.Order))
		vars = append(vars, ordering.Column)
	}

	return clause.Expr{SQL: strings.Join(parts, ", "), Vars: vars}
}

// Columns returns the ordered columns.
func (o Orderings) Columns() []clause.Column {
	return lo.Map(o, func(ordering OrderBy, _ int) clause.Column {
		return ordering.Column
	})
}

// Order returns the effective order shared by every column.
func (o Orderings) Order() Order {
	if len(o) == 0 {
		return OrderASC
	}

	return o[0].Order
}

// Apply applies the ordering to a gorm query.
func (o Orderings) Apply(db *gorm.DB) *gorm.DB {
	return db.Order(o.ToClause())
}

func (o Orderings) validate() error {
	if len(o) == 0 {
		return fmt.Errorf("empty ordering list")
	}

	keys := make(map[string]struct{}, len(o))
	for _, ordering := range o {
		if err := ordering.validate(); err != nil {
			return err
		}

		if _, ok := keys[ordering.Key()]; ok {
			return fmt.Errorf("duplicate ordering column '%s'", ordering.Key())
		}
		keys[ordering.Key()] = struct{}{}
	}

	return nil
}

// Validate checks the columns of the configuration. Call it once when the
// configuration is built.
func (s SortConfig) Validate() error {
	if err := validateColumn(s.PrimaryKey); err != nil {
		return fmt.Errorf("primary key: %w", err)
	}

	for field, columns := range s.Aliases {
		if len(columns) == 0 {
			return fmt.Errorf("sort alias '%s' has no columns", field)
		}

		for _, c := range columns {
			if err := validateColumn(c); err != nil {
				return fmt.Errorf("sort alias '%s': %w", field, err)
			}
		}
	}

	return nil
}

// WithSort returns a copy of the configuration with the requested sort.
func (s SortConfig) WithSort(sort *SortInput) SortConfig {
	s.Sort = sort
	return s
}

// Resolve returns the orderings for the given direction.
//
// The effective order is the requested one, inverted for BACKWARD: reading
// backward in ascending order is reading forward in descending order and
// reversing the rows afterwards. The primary key is appended last in the same
// effective order.
func (s SortConfig) Resolve(direction Direction) (Orderings, error) {
	if !direction.Valid() {
		return nil, fmt.Errorf("invalid pagination direction '%s'", direction)
	}

	order := OrderASC
	var columns []clause.Column
	if s.Sort != nil {
		if s.Sort.Order != "" {
			order = s.Sort.Order
		}
		if !order.Valid() {
			return nil, fmt.Errorf("invalid sort order '%s'", order)
		}

		aliased, ok := s.Aliases[s.Sort.Field]
		if !ok {
			return nil, fmt.Errorf("%w '%s'. closest: '%s'", ErrUnknownSortField, s.Sort.Field, closestAlias(s.Sort.Field, lo.Keys(s.Aliases)))
		}
		columns = append(columns, aliased...)
	}

	if direction == DirectionBackward {
		order = order.Invert()
	}

	if !slices.Contains(columns, s.PrimaryKey) {
		columns = append(columns, s.PrimaryKey)
	}

	ret := Orderings(lo.Map(columns, func(c clause.Column, _ int) OrderBy {
		return OrderBy{Column: c, Order: order}
	}))
	if err := ret.validate(); err != nil {
		return nil, err
	}

	return ret, nil
}

// ParseSortInput builds a SortInput from a string in the format
// "field asc|desc". A bare field sorts ascending.
func ParseSortInput(s string) (*SortInput, error) {
	parts := strings.Fields(s)
	switch len(parts) {
	case 1:
		return &SortInput{Field: parts[0], Order: OrderASC}, nil
	case 2:
		order := Order(strings.ToUpper(parts[1]))
		if !order.Valid() {
			return nil, fmt.Errorf("invalid sort order '%s'", parts[1])
		}

		return &SortInput{Field: parts[0], Order: order}, nil
	default:
		return nil, fmt.Errorf("invalid sort string format '%s'", s)
	}
}

func closestAlias(input string, dataSet []string) string {
	minDist := math.MaxInt
	closest := ""

	// Ties resolve to the alphabetically first alias.
	slices.Sort(dataSet)
	for _, alias := range dataSet {
		dist := levenshtein([]rune(alias), []rune(input))
		if dist < minDist {
			minDist = dist
			closest = alias
		}
	}

	return closest
}
