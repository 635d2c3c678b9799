package connpager

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	parentIDColumn = "connpager_parent_id"
	rowNumColumn   = "connpager_row_num"
)

type (
	// ParentRelation links child rows to their parent.
	ParentRelation struct {
		// FilterField is the filter field that identifies the parent. Child
		// connection filters must not reference it.
		FilterField string
		// Pivot is the child column, or raw expression, holding the parent id.
		Pivot clause.Column
	}

	// ChildConnectionKey requests the page of children of one parent.
	ChildConnectionKey struct {
		ParentID          string
		Parent            ParentRelation
		Args              PaginationArgs
		IncludeTotalCount bool
	}

	// ChildConnection describes a connection of T nested under a parent entity.
	ChildConnection[T any] struct {
		// Table is the table of T. Its columns are selected in the batch query.
		Table Table
		// Query returns the base query of T with the joins the filter needs and
		// the filter applied, usually through a FieldRegistry.
		Query   func(db *gorm.DB, filter *Filter) (*gorm.DB, error)
		Sort    SortConfig
		Getters Getters[T]
	}
)

func (c ChildConnection[T]) validate() error {
	if err := c.Table.validate(); err != nil {
		return err
	}
	if c.Query == nil {
		return fmt.Errorf("query function is nil")
	}

	return c.Sort.Validate()
}

// loaderKey is the comparable form of ChildConnectionKey: the arguments are
// replaced by their canonical JSON.
type loaderKey struct {
	parentID          string
	parent            ParentRelation
	args              string
	includeTotalCount bool
}

type groupKey struct {
	parent            ParentRelation
	args              string
	includeTotalCount bool
}

func (k loaderKey) group() groupKey {
	return groupKey{parent: k.parent, args: k.args, includeTotalCount: k.includeTotalCount}
}

// childRow is a fetched child with the helper columns of the window query.
type childRow[T any] struct {
	ParentID string `gorm:"column:connpager_parent_id"`
	RowNum   int64  `gorm:"column:connpager_row_num"`
	Node     T      `gorm:"embedded"`
}

type parentCount struct {
	ParentID string `gorm:"column:connpager_parent_id"`
	Total    int64  `gorm:"column:total"`
}

// ChildConnectionLoader resolves child connections of many parents with one
// windowed query per distinct argument set. It is request-scoped: create one
// per operation, results are cached by key for its lifetime.
type ChildConnectionLoader[T any] struct {
	db     *gorm.DB
	cfg    ChildConnection[T]
	opts   options
	loader *dataloader.Loader[loaderKey, *Page[T]]

	mu   sync.Mutex
	args map[string]PaginationArgs
}

// NewChildConnectionLoader returns a loader for the connection. T must be a
// struct GORM can scan the columns of cfg.Table into.
func NewChildConnectionLoader[T any](db *gorm.DB, cfg ChildConnection[T], opts ...Option) (*ChildConnectionLoader[T], error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid child connection: %w", err)
	}

	l := &ChildConnectionLoader[T]{
		db:   db,
		cfg:  cfg,
		opts: newOptions(opts...),
		args: make(map[string]PaginationArgs),
	}

	loaderOpts := []dataloader.Option[loaderKey, *Page[T]]{
		dataloader.WithWait[loaderKey, *Page[T]](l.opts.wait),
	}
	if l.opts.capacity > 0 {
		loaderOpts = append(loaderOpts, dataloader.WithBatchCapacity[loaderKey, *Page[T]](l.opts.capacity))
	}
	l.loader = dataloader.NewBatchedLoader(l.batch, loaderOpts...)

	return l, nil
}

// Load returns the page of children of key.ParentID. Calls made within the
// batch window are answered by one batch. The returned page may be shared
// with other callers requesting the same key: do not modify it.
func (l *ChildConnectionLoader[T]) Load(ctx context.Context, key ChildConnectionKey) (*Page[T], error) {
	thunk, err := l.LoadThunk(ctx, key)
	if err != nil {
		return nil, err
	}

	return thunk()
}

// LoadThunk schedules the key and returns a function that blocks until its
// batch is executed.
func (l *ChildConnectionLoader[T]) LoadThunk(ctx context.Context, key ChildConnectionKey) (dataloader.Thunk[*Page[T]], error) {
	lk, err := l.keyFor(key)
	if err != nil {
		return nil, err
	}

	return l.loader.Load(ctx, lk), nil
}

// Batch resolves the keys right away, bypassing the batch window and the
// cache. Results are in key order.
func (l *ChildConnectionLoader[T]) Batch(ctx context.Context, keys []ChildConnectionKey) ([]*Page[T], []error) {
	pages := make([]*Page[T], len(keys))
	errs := make([]error, len(keys))

	lkeys := make([]loaderKey, 0, len(keys))
	idx := make([]int, 0, len(keys))
	for i, key := range keys {
		lk, err := l.keyFor(key)
		if err != nil {
			errs[i] = err
			continue
		}

		lkeys = append(lkeys, lk)
		idx = append(idx, i)
	}

	for j, res := range l.batch(ctx, lkeys) {
		pages[idx[j]], errs[idx[j]] = res.Data, res.Error
	}

	return pages, errs
}

func (l *ChildConnectionLoader[T]) keyFor(key ChildConnectionKey) (loaderKey, error) {
	fingerprint, err := json.Marshal(key.Args)
	if err != nil {
		return loaderKey{}, fmt.Errorf("cannot fingerprint pagination arguments: %w", err)
	}

	l.mu.Lock()
	l.args[string(fingerprint)] = key.Args
	l.mu.Unlock()

	return loaderKey{
		parentID:          key.ParentID,
		parent:            key.Parent,
		args:              string(fingerprint),
		includeTotalCount: key.IncludeTotalCount,
	}, nil
}

func (l *ChildConnectionLoader[T]) argsFor(fingerprint string) PaginationArgs {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.args[fingerprint]
}

// batch is the dataloader batch function. Keys sharing parent relation,
// arguments and total count flag form a group answered by one query set; a
// failed group fails each of its keys only.
func (l *ChildConnectionLoader[T]) batch(ctx context.Context, keys []loaderKey) []*dataloader.Result[*Page[T]] {
	results := make([]*dataloader.Result[*Page[T]], len(keys))
	if len(keys) == 0 {
		return results
	}

	groups := lo.GroupBy(lo.Range(len(keys)), func(i int) groupKey {
		return keys[i].group()
	})

	var g errgroup.Group
	g.SetLimit(l.opts.concurrency)
	for gk, members := range groups {
		g.Go(func() error {
			parentIDs := lo.Uniq(lo.Map(members, func(i int, _ int) string {
				return keys[i].parentID
			}))

			pages, err := l.loadGroup(ctx, gk, parentIDs)
			for _, i := range members {
				if err != nil {
					results[i] = &dataloader.Result[*Page[T]]{Error: err}
					continue
				}

				results[i] = &dataloader.Result[*Page[T]]{Data: pages[keys[i].parentID]}
			}

			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (l *ChildConnectionLoader[T]) loadGroup(ctx context.Context, gk groupKey, parentIDs []string) (map[string]*Page[T], error) {
	start := time.Now()
	log := l.opts.logger.With(
		zap.String("table", string(l.cfg.Table)),
		zap.String("pivot", columnString(gk.parent.Pivot)),
		zap.Int("parents", len(parentIDs)),
		zap.Bool("total_count", gk.includeTotalCount),
	)

	args := l.argsFor(gk.args)
	if args.Filter.HasField(gk.parent.FilterField) {
		return nil, fmt.Errorf("%w: '%s'", ErrCannotFilterByParentKey, gk.parent.FilterField)
	}

	pager, err := args.Decode(l.cfg.Sort)
	if err != nil {
		return nil, err
	}
	pager.WithTotalCount(gk.includeTotalCount)

	orderings, err := pager.Orderings()
	if err != nil {
		return nil, err
	}

	db := l.db.WithContext(ctx)
	base, err := l.cfg.Query(db.Session(&gorm.Session{}), args.Filter)
	if err != nil {
		return nil, err
	}
	base = base.Clauses(clause.IN{Column: gk.parent.Pivot, Values: lo.ToAnySlice(parentIDs)})

	pages := make(map[string]*Page[T], len(parentIDs))
	for _, id := range parentIDs {
		pages[id] = emptyPage[T](pager)
		if pager.IncludeTotalCount() {
			pages[id].TotalCount = new(int64)
		}
	}

	queryErr := func(err error) error {
		log.Warn("child connection query failed", zap.Error(err))
		return &ChildConnectionQueryError{Pivot: columnString(gk.parent.Pivot), Err: err}
	}

	if pager.IncludeTotalCount() {
		var counts []parentCount
		counted := base.Session(&gorm.Session{}).Select("? AS "+parentIDColumn, gk.parent.Pivot)
		err = db.Session(&gorm.Session{NewDB: true}).
			Table("(?) AS counted", counted).
			Select(parentIDColumn + ", COUNT(*) AS total").
			Group(parentIDColumn).
			Find(&counts).Error
		if err != nil {
			return nil, queryErr(err)
		}

		for _, c := range counts {
			if page, ok := pages[c.ParentID]; ok {
				page.TotalCount = &c.Total
			}
		}
	}

	filtered, err := pager.ApplySeek(base.Session(&gorm.Session{}))
	if err != nil {
		return nil, err
	}
	windowed := filtered.Select(
		"?.*, ? AS "+parentIDColumn+", ROW_NUMBER() OVER (PARTITION BY ? ORDER BY ?) AS "+rowNumColumn,
		clause.Table{Name: string(l.cfg.Table)}, gk.parent.Pivot, gk.parent.Pivot, orderings.ToExpr(),
	)

	var rows []childRow[T]
	err = db.Session(&gorm.Session{NewDB: true}).
		Table("(?) AS children", windowed).
		Where(rowNumColumn+" <= ?", pager.GetDatasetLimit()).
		Order(parentIDColumn + ", " + rowNumColumn).
		Find(&rows).Error
	if err != nil {
		return nil, queryErr(err)
	}

	nodes := make(map[string][]T, len(parentIDs))
	for _, row := range rows {
		nodes[row.ParentID] = append(nodes[row.ParentID], row.Node)
	}

	for id, children := range nodes {
		page, ok := pages[id]
		if !ok {
			continue
		}

		built, err := BuildPage(pager, children, l.cfg.Getters)
		if err != nil {
			return nil, err
		}
		built.TotalCount = page.TotalCount
		pages[id] = built
	}

	log.Debug("child connection batch loaded",
		zap.String("order", orderings.ToSQL()),
		zap.Int("rows", len(rows)),
		zap.Duration("elapsed", time.Since(start)),
	)

	return pages, nil
}
