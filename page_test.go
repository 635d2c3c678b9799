package connpager

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// tRoleSet sorted by (name, id): r2 r5 r1 r3 r6 r4 r7.
var tRoleSet = []tRole{
	{ID: "r1", OrganizationID: "o1", Name: "b", Status: "ACTIVE", Rank: 3},
	{ID: "r2", OrganizationID: "o1", Name: "a", Status: "ACTIVE", Rank: 1},
	{ID: "r3", OrganizationID: "o2", Name: "b", Status: "ARCHIVED", Rank: 3},
	{ID: "r4", OrganizationID: "o2", Name: "c", Status: "ACTIVE", Rank: 2},
	{ID: "r5", OrganizationID: "o2", Name: "a", Status: "ACTIVE", Rank: 2},
	{ID: "r6", OrganizationID: "o2", Name: "b", Status: "ACTIVE", Rank: 1},
	{ID: "r7", OrganizationID: "o2", Name: "c", Status: "ARCHIVED", Rank: 3},
}

func Test_BuildPage(t *testing.T) {
	rows := []tRole{{ID: "r1"}, {ID: "r2"}, {ID: "r3"}}
	cursor := CursorRecord{{"roles.id", "r0"}}

	tests := []struct {
		name     string
		pager    *CursorPager
		rows     []tRole
		wantIDs  []string
		wantNext bool
		wantPrev bool
	}{
		{
			name:     "forward first page with lookahead",
			pager:    NewCursorPager(tRoleSort).WithCount(intPtr(2)),
			rows:     rows,
			wantIDs:  []string{"r1", "r2"},
			wantNext: true,
			wantPrev: false,
		},
		{
			name:     "forward last page after cursor",
			pager:    NewCursorPager(tRoleSort).WithCount(intPtr(3)).WithCursor(cursor),
			rows:     rows,
			wantIDs:  []string{"r1", "r2", "r3"},
			wantNext: false,
			wantPrev: true,
		},
		{
			name:     "backward rows are reversed, lookahead dropped",
			pager:    NewCursorPager(tRoleSort).WithCount(intPtr(2)).WithDirection(DirectionBackward).WithCursor(cursor),
			rows:     []tRole{{ID: "r5"}, {ID: "r4"}, {ID: "r3"}},
			wantIDs:  []string{"r4", "r5"},
			wantNext: true,
			wantPrev: true,
		},
		{
			name:     "backward without cursor is the last page",
			pager:    NewCursorPager(tRoleSort).WithCount(intPtr(5)).WithDirection(DirectionBackward),
			rows:     []tRole{{ID: "r5"}, {ID: "r4"}},
			wantIDs:  []string{"r4", "r5"},
			wantNext: false,
			wantPrev: false,
		},
		{
			name:     "zero count keeps page info",
			pager:    NewCursorPager(tRoleSort).WithCount(intPtr(0)),
			rows:     rows[:1],
			wantIDs:  []string{},
			wantNext: true,
			wantPrev: false,
		},
		{
			name:     "no rows",
			pager:    NewCursorPager(tRoleSort).WithCursor(cursor),
			rows:     nil,
			wantIDs:  []string{},
			wantNext: false,
			wantPrev: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := BuildPage(tt.pager, tt.rows, tRoleGetters)
			require.NoError(t, err)

			assert.Equal(t, tt.wantIDs, idsOf(page))
			assert.Equal(t, tt.wantNext, page.PageInfo.HasNextPage)
			assert.Equal(t, tt.wantPrev, page.PageInfo.HasPreviousPage)
			assert.Nil(t, page.TotalCount)

			if len(page.Edges) == 0 {
				assert.Empty(t, page.PageInfo.StartCursor)
				assert.Empty(t, page.PageInfo.EndCursor)
				return
			}

			assert.Equal(t, page.Edges[0].Cursor, page.PageInfo.StartCursor)
			assert.Equal(t, page.Edges[len(page.Edges)-1].Cursor, page.PageInfo.EndCursor)
			for _, e := range page.Edges {
				decoded, err := DecodeCursor(e.Cursor)
				require.NoError(t, err)
				assert.Equal(t, CursorRecord{{"roles.id", e.Node.ID}}, decoded)
			}
		})
	}

	// The input rows are not reordered in place.
	assert.Equal(t, "r1", rows[0].ID)
}

func Test_BuildPage_MissingGetter(t *testing.T) {
	pager := NewCursorPager(tRoleSort.WithSort(&SortInput{Field: "name"}))

	_, err := BuildPage(pager, []tRole{{ID: "r1"}}, Getters[tRole]{"roles.id": tRoleGetters["roles.id"]})
	assert.Error(t, err)
}

// roleWalk is a paginated role query.
type roleWalk struct {
	query   func() *gorm.DB
	sort    SortConfig
	getters Getters[tRole]
}

func allRoles(db *gorm.DB) roleWalk {
	return roleWalk{
		query:   func() *gorm.DB { return db.Model(&tRole{}) },
		sort:    tRoleSort,
		getters: tRoleGetters,
	}
}

// walkPages reads the dataset page by page in the given direction and returns
// the ids in dataset order, along with the cursor of the last row read.
func walkPages(t *testing.T, w roleWalk, args PaginationArgs) ([]string, string) {
	t.Helper()

	var (
		ids   []string
		pages int
	)
	for {
		pager, err := args.Decode(w.sort)
		require.NoError(t, err)

		page, err := FetchPage(context.Background(), w.query(), pager, w.getters)
		require.NoError(t, err)
		pages++
		require.Less(t, pages, 20, "pagination does not terminate")

		if args.Direction == DirectionBackward {
			ids = append(idsOf(page), ids...)
			assert.Equal(t, args.Cursor != "", page.PageInfo.HasNextPage)
			if !page.PageInfo.HasPreviousPage {
				return ids, page.PageInfo.StartCursor
			}
			args.Cursor = page.PageInfo.StartCursor
			continue
		}

		ids = append(ids, idsOf(page)...)
		assert.Equal(t, args.Cursor != "", page.PageInfo.HasPreviousPage)
		if !page.PageInfo.HasNextPage {
			return ids, page.PageInfo.EndCursor
		}
		args.Cursor = page.PageInfo.EndCursor
	}
}

func Test_FetchPage_Walk_SQLite(t *testing.T) {
	db := newGORMSQLite(t)
	seedRoles(t, db, tRoleSet...)

	tests := []struct {
		name string
		sort *SortInput
		want []string
	}{
		{
			name: "primary key",
			want: []string{"r1", "r2", "r3", "r4", "r5", "r6", "r7"},
		},
		{
			name: "duplicate names break ties by id",
			sort: &SortInput{Field: "name", Order: OrderASC},
			want: []string{"r2", "r5", "r1", "r3", "r6", "r4", "r7"},
		},
		{
			name: "descending rank",
			sort: &SortInput{Field: "rank", Order: OrderDESC},
			want: []string{"r7", "r3", "r1", "r5", "r4", "r6", "r2"},
		},
	}

	for _, tt := range tests {
		for _, count := range []int{1, 2, 3, 7, 10} {
			t.Run(fmt.Sprintf("%s count %d", tt.name, count), func(t *testing.T) {
				w := allRoles(db)

				forward, last := walkPages(t, w, PaginationArgs{Count: intPtr(count), Sort: tt.sort})
				assert.Equal(t, tt.want, forward, "forward")

				backward, _ := walkPages(t, w, PaginationArgs{Direction: DirectionBackward, Count: intPtr(count), Sort: tt.sort})
				assert.Equal(t, tt.want, backward, "backward")

				before, _ := walkPages(t, w, PaginationArgs{Direction: DirectionBackward, Count: intPtr(count), Sort: tt.sort, Cursor: last})
				assert.Equal(t, tt.want[:len(tt.want)-1], before, "backward from the last row")
			})
		}
	}
}

func Test_FetchPage_Walk_TimestampShapedText_SQLite(t *testing.T) {
	db := newGORMSQLite(t)
	seedRoles(t, db,
		tRole{ID: "r1", Name: "2024-01-02T00:00:00Z"},
		tRole{ID: "r2", Name: "2024-01-01T00:00:00Z"},
		tRole{ID: "r3", Name: "2024-01-03T00:00:00Z"},
		tRole{ID: "r4", Name: "2024-01-01T00:00:00Z"},
	)
	want := []string{"r2", "r4", "r1", "r3"}

	for _, count := range []int{1, 2, 3} {
		t.Run(fmt.Sprintf("count %d", count), func(t *testing.T) {
			w := allRoles(db)
			sort := &SortInput{Field: "name"}

			forward, last := walkPages(t, w, PaginationArgs{Count: intPtr(count), Sort: sort})
			assert.Equal(t, want, forward)

			backward, _ := walkPages(t, w, PaginationArgs{Direction: DirectionBackward, Count: intPtr(count), Sort: sort})
			assert.Equal(t, want, backward)

			record, err := DecodeCursor(last)
			require.NoError(t, err)
			assert.Equal(t, CursorRecord{{"roles.name", "2024-01-03T00:00:00Z"}, {"roles.id", "r3"}}, record)
		})
	}
}

type tOrganization struct {
	ID   string `gorm:"primaryKey"`
	Name string
}

func (tOrganization) TableName() string {
	return "organizations"
}

func Test_FetchPage_Walk_JoinedColumn_SQLite(t *testing.T) {
	db := newGORMSQLite(t)
	require.NoError(t, db.AutoMigrate(&tOrganization{}))
	require.NoError(t, db.Create(&[]tOrganization{{ID: "o1", Name: "Acme"}, {ID: "o2", Name: "Globex"}}).Error)
	seedRoles(t, db, tRoleSet...)

	organizations := Table("organizations")
	w := roleWalk{
		query: func() *gorm.DB {
			return db.Model(&tRole{}).
				Select("roles.*").
				Joins("JOIN organizations ON organizations.id = roles.organization_id")
		},
		sort: SortConfig{
			PrimaryKey: tRoles.Col("id"),
			Aliases: map[string][]clause.Column{
				"organization": {organizations.Col("id")},
			},
		},
		getters: Getters[tRole]{
			"organizations.id": func(r tRole) any { return r.OrganizationID },
			"roles.id":         func(r tRole) any { return r.ID },
		},
	}
	require.NoError(t, w.sort.Validate())
	sort := &SortInput{Field: "organization", Order: OrderDESC}
	want := []string{"r7", "r6", "r5", "r4", "r3", "r2", "r1"}

	for _, count := range []int{1, 3, 10} {
		t.Run(fmt.Sprintf("count %d", count), func(t *testing.T) {
			forward, _ := walkPages(t, w, PaginationArgs{Count: intPtr(count), Sort: sort})
			assert.Equal(t, want, forward)

			backward, _ := walkPages(t, w, PaginationArgs{Direction: DirectionBackward, Count: intPtr(count), Sort: sort})
			assert.Equal(t, want, backward)
		})
	}
}

func Test_FetchPage_FilteredWithTotalCount_SQLite(t *testing.T) {
	db := newGORMSQLite(t)
	seedRoles(t, db, tRoleSet...)

	filter := mustFilter(t, `{"status": {"operator": "eq", "value": "ACTIVE"}}`)
	args := PaginationArgs{Count: intPtr(2), Sort: &SortInput{Field: "name"}, Filter: filter}

	query, err := tRoleFields.Apply(db.Model(&tRole{}), args.Filter)
	require.NoError(t, err)

	pager, err := args.Decode(tRoleSort)
	require.NoError(t, err)

	first, err := FetchPage(context.Background(), query, pager.WithTotalCount(true), tRoleGetters)
	require.NoError(t, err)
	require.NotNil(t, first.TotalCount)
	assert.Equal(t, int64(5), *first.TotalCount)
	assert.Equal(t, []string{"r2", "r5"}, idsOf(first))

	args.Cursor = first.PageInfo.EndCursor
	pager, err = args.Decode(tRoleSort)
	require.NoError(t, err)

	second, err := FetchPage(context.Background(), query, pager.WithTotalCount(true), tRoleGetters)
	require.NoError(t, err)
	assert.Equal(t, int64(5), *second.TotalCount, "total count ignores the cursor")
	assert.Equal(t, []string{"r1", "r6"}, idsOf(second))
	assert.True(t, second.PageInfo.HasNextPage)
	assert.True(t, second.PageInfo.HasPreviousPage)

	pager, err = PaginationArgs{Filter: filter}.Decode(tRoleSort)
	require.NoError(t, err)

	withoutCount, err := FetchPage(context.Background(), query, pager, tRoleGetters)
	require.NoError(t, err)
	assert.Nil(t, withoutCount.TotalCount)
	assert.Len(t, withoutCount.Edges, 5)
}

func Test_MapPage(t *testing.T) {
	page, err := BuildPage(NewCursorPager(tRoleSort).WithCount(intPtr(1)), []tRole{{ID: "r1", Name: "a"}, {ID: "r2"}}, tRoleGetters)
	require.NoError(t, err)
	page.TotalCount = lo.ToPtr(int64(2))

	mapped := MapPage(page, func(r tRole) string { return r.Name })
	assert.Equal(t, []string{"a"}, mapped.Nodes())
	assert.Equal(t, page.PageInfo, mapped.PageInfo)
	assert.Equal(t, page.Edges[0].Cursor, mapped.Edges[0].Cursor)
	assert.Equal(t, int64(2), *mapped.TotalCount)

	assert.Nil(t, MapPage[tRole, string](nil, nil))
	assert.Nil(t, (*Page[tRole])(nil).Nodes())
}

func Test_Page_JSON(t *testing.T) {
	page, err := BuildPage(NewCursorPager(tRoleSort).WithCount(intPtr(0)), nil, tRoleGetters)
	require.NoError(t, err)

	data, err := json.Marshal(page)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"pageInfo": {"startCursor": "", "endCursor": "", "hasNextPage": false, "hasPreviousPage": false},
		"edges": []
	}`, string(data))
}
