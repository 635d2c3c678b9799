package connpager

import (
	"context"
	"fmt"
	"slices"

	"gorm.io/gorm"
)

type (
	// Page is a Relay connection: edges of one page plus page info.
	Page[T any] struct {
		TotalCount *int64    `json:"totalCount,omitempty"`
		PageInfo   PageInfo  `json:"pageInfo"`
		Edges      []Edge[T] `json:"edges"`
	}

	PageInfo struct {
		StartCursor     string `json:"startCursor"`
		EndCursor       string `json:"endCursor"`
		HasNextPage     bool   `json:"hasNextPage"`
		HasPreviousPage bool   `json:"hasPreviousPage"`
	}

	Edge[T any] struct {
		Cursor string `json:"cursor"`
		Node   T      `json:"node"`
	}
)

// Nodes returns the nodes of the page in edge order.
func (p *Page[T]) Nodes() []T {
	if p == nil {
		return nil
	}

	ret := make([]T, 0, len(p.Edges))
	for _, e := range p.Edges {
		ret = append(ret, e.Node)
	}

	return ret
}

// emptyPage is the page of a dataset without rows.
func emptyPage[T any](pager *CursorPager) *Page[T] {
	page, _ := BuildPage[T](pager, nil, nil)
	return page
}

// BuildPage turns rows fetched by a query paginated with pager, i.e. at most
// GetDatasetLimit rows in effective order, into a page.
//
// For FORWARD the extra row is dropped from the end. For BACKWARD the rows
// come in inverted order: they are reversed and the extra row is dropped from
// the start. A supplied cursor sets the flag of the side it came from.
func BuildPage[T any](pager *CursorPager, rows []T, getters Getters[T]) (*Page[T], error) {
	orderings, err := pager.Orderings()
	if err != nil {
		return nil, err
	}

	size := pager.PageSize()
	hasMore := len(rows) > size
	if hasMore {
		rows = rows[:size]
	}

	backward := pager.Direction() == DirectionBackward
	if backward {
		rows = slices.Clone(rows)
		slices.Reverse(rows)
	}

	cursorSupplied := !pager.Cursor().IsEmpty()
	page := &Page[T]{
		PageInfo: PageInfo{
			HasNextPage:     hasMore,
			HasPreviousPage: cursorSupplied,
		},
		Edges: make([]Edge[T], 0, len(rows)),
	}
	if backward {
		page.PageInfo.HasNextPage, page.PageInfo.HasPreviousPage = cursorSupplied, hasMore
	}

	for _, row := range rows {
		cursor, err := getters.CursorFor(row, orderings)
		if err != nil {
			return nil, err
		}

		page.Edges = append(page.Edges, Edge[T]{Cursor: cursor, Node: row})
	}

	if len(page.Edges) > 0 {
		page.PageInfo.StartCursor = page.Edges[0].Cursor
		page.PageInfo.EndCursor = page.Edges[len(page.Edges)-1].Cursor
	}

	return page, nil
}

// FetchPage executes the sorted, filtered query db as a page. db must select
// rows of T, e.g. db.Model(&T{}) with the filter already applied.
//
// When the pager requests it, the total count is computed on the filtered but
// unpaginated query.
func FetchPage[T any](ctx context.Context, db *gorm.DB, pager *CursorPager, getters Getters[T]) (*Page[T], error) {
	db = db.WithContext(ctx)

	var total *int64
	if pager.IncludeTotalCount() {
		var n int64
		err := db.Session(&gorm.Session{NewDB: true}).
			Table("(?) AS counted", db.Session(&gorm.Session{})).
			Count(&n).Error
		if err != nil {
			return nil, fmt.Errorf("cannot count rows: %w", err)
		}

		total = &n
	}

	query, err := pager.Paginate(db.Session(&gorm.Session{}))
	if err != nil {
		return nil, err
	}

	var rows []T
	if err = query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("cannot fetch page: %w", err)
	}

	page, err := BuildPage(pager, rows, getters)
	if err != nil {
		return nil, err
	}
	page.TotalCount = total

	return page, nil
}

// MapPage converts the nodes of a page keeping cursors and page info, e.g.
// entities into API nodes.
func MapPage[T, R any](page *Page[T], fn func(T) R) *Page[R] {
	if page == nil {
		return nil
	}

	ret := &Page[R]{
		TotalCount: page.TotalCount,
		PageInfo:   page.PageInfo,
		Edges:      make([]Edge[R], 0, len(page.Edges)),
	}
	for _, e := range page.Edges {
		ret.Edges = append(ret.Edges, Edge[R]{Cursor: e.Cursor, Node: fn(e.Node)})
	}

	return ret
}
