package connpager

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PaginationArgs is intended for API payloads: the connection arguments as a
// client sends them.
type PaginationArgs struct {
	// Direction - FORWARD (default) or BACKWARD.
	Direction Direction `json:"direction,omitempty"`
	// Count - maximum number of edges to return. Defaults to DefaultPageSize.
	Count *int `json:"count,omitempty"`
	// Cursor - cursor of the edge to continue after (FORWARD) or before
	// (BACKWARD). If empty, the page starts at the respective end of the dataset.
	Cursor string     `json:"cursor,omitempty"`
	Sort   *SortInput `json:"sort,omitempty"`
	Filter *Filter    `json:"filter,omitempty"`
}

// Decode converts PaginationArgs into *CursorPager, normalizing Count and
// validating Cursor against the resolved orderings. The requested sort, when
// set, replaces the default sort of the configuration.
func (a PaginationArgs) Decode(sort SortConfig) (*CursorPager, error) {
	cursor, err := DecodeCursor(a.Cursor)
	if err != nil {
		return nil, err
	}

	if a.Sort != nil {
		sort = sort.WithSort(a.Sort)
	}

	direction := a.Direction
	if direction == "" {
		direction = DirectionForward
	}

	pager := NewCursorPager(sort).
		WithDirection(direction).
		WithCount(a.Count).
		WithCursor(cursor)
	if err = pager.validate(); err != nil {
		return nil, err
	}

	return pager, nil
}

// CursorPager applies seek pagination to a sorted, filtered query.
type CursorPager struct {
	sort              SortConfig
	direction         Direction
	pageSize          int
	cursor            CursorRecord
	includeTotalCount bool
}

// NewCursorPager returns a FORWARD pager with the default page size.
func NewCursorPager(sort SortConfig) *CursorPager {
	return &CursorPager{
		sort:      sort,
		direction: DirectionForward,
		pageSize:  DefaultPageSize,
	}
}

// WithDirection sets the side of the cursor the page is read from.
func (c *CursorPager) WithDirection(direction Direction) *CursorPager {
	if c == nil {
		c = new(CursorPager)
	}

	c.direction = direction

	return c
}

// WithCount sets the page size. NormalizeCount is applied.
func (c *CursorPager) WithCount(count *int) *CursorPager {
	if c == nil {
		c = new(CursorPager)
	}

	c.pageSize = NormalizeCount(count)

	return c
}

// WithCursor sets the decoded cursor explicitly.
func (c *CursorPager) WithCursor(cursor CursorRecord) *CursorPager {
	if c == nil {
		c = new(CursorPager)
	}

	c.cursor = cursor

	return c
}

// WithTotalCount makes FetchPage compute the total count of the filtered,
// unpaginated query.
func (c *CursorPager) WithTotalCount(include bool) *CursorPager {
	if c == nil {
		c = new(CursorPager)
	}

	c.includeTotalCount = include

	return c
}

// Direction returns the pagination direction.
func (c *CursorPager) Direction() Direction {
	if c == nil {
		return DirectionForward
	}

	return c.direction
}

// PageSize returns the normalized number of edges per page.
func (c *CursorPager) PageSize() int {
	if c == nil {
		return DefaultPageSize
	}

	return c.pageSize
}

// GetDatasetLimit returns the number of rows to fetch: one more than the page
// size, the extra row tells whether another page exists.
func (c *CursorPager) GetDatasetLimit() int {
	return c.PageSize() + 1
}

// Cursor returns the decoded cursor as-is.
func (c *CursorPager) Cursor() CursorRecord {
	if c == nil {
		return nil
	}

	return c.cursor
}

// IncludeTotalCount reports whether the total count is requested.
func (c *CursorPager) IncludeTotalCount() bool {
	return c != nil && c.includeTotalCount
}

// Orderings returns the effective orderings, inverted for BACKWARD.
func (c *CursorPager) Orderings() (Orderings, error) {
	if c == nil {
		return nil, fmt.Errorf("cursor pager is nil")
	}

	return c.sort.Resolve(c.direction)
}

// ApplySeek adds the cursor predicate to the query. Without a cursor the
// query is returned unchanged.
func (c *CursorPager) ApplySeek(db *gorm.DB) (*gorm.DB, error) {
	orderings, err := c.Orderings()
	if err != nil {
		return nil, err
	}

	expr, err := seekExpr(orderings, c.cursor)
	if err != nil {
		return nil, err
	}
	if expr == nil {
		return db, nil
	}

	return db.Clauses(expr), nil
}

// ApplyOrder adds the effective ORDER BY to the query.
func (c *CursorPager) ApplyOrder(db *gorm.DB) (*gorm.DB, error) {
	orderings, err := c.Orderings()
	if err != nil {
		return nil, err
	}

	return orderings.Apply(db), nil
}

// Paginate applies pagination to the dataset: seek predicate, order and
// GetDatasetLimit rows. Returns an error if pagination cannot be applied.
func (c *CursorPager) Paginate(db *gorm.DB) (*gorm.DB, error) {
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("cannot paginate: %w", err)
	}

	db, err := c.ApplySeek(db)
	if err != nil {
		return nil, err
	}

	db, err = c.ApplyOrder(db)
	if err != nil {
		return nil, err
	}

	return db.Limit(c.GetDatasetLimit()), nil
}

func (c *CursorPager) validate() error {
	if c == nil {
		return fmt.Errorf("cursor pager is nil")
	}

	if c.pageSize < 0 {
		return fmt.Errorf("negative page size %d", c.pageSize)
	}

	orderings, err := c.Orderings()
	if err != nil {
		return err
	}

	if c.cursor.IsEmpty() {
		return nil
	}

	return c.cursor.Matches(orderings)
}

// seekExpr builds the composite comparison
//
//	(c1, c2, ..., pk) > (v1, v2, ..., vpk)
//
// with < for descending orderings. Ties on leading columns are broken by the
// following ones in the same direction.
func seekExpr(orderings Orderings, cursor CursorRecord) (clause.Expression, error) {
	if cursor.IsEmpty() {
		return nil, nil
	}

	if err := cursor.Matches(orderings); err != nil {
		return nil, err
	}

	op := orderings.Order().forOperator()
	vars := make([]any, 0, 2*len(orderings))
	for _, column := range orderings.Columns() {
		vars = append(vars, column)
	}
	vars = append(vars, cursor.Values()...)

	if len(orderings) == 1 {
		return clause.Expr{SQL: fmt.Sprintf("? %s ?", op), Vars: vars}, nil
	}

	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(orderings)), ", ") + ")"

	return clause.Expr{
		SQL:  fmt.Sprintf("%s %s %s", placeholders, op, placeholders),
		Vars: vars,
	}, nil
}
