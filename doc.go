package connpager

// Package connpager provides Relay-style connection pagination primitives for GORM.
//
// Overview
//
// connpager turns an entity query into a cursor page ("connection"):
//   - Seek pagination: the page starts strictly after (or before) the position
//     encoded in the cursor. The position is compared as a row value
//     (sort columns..., primary key), so ties on the sort column never lose or
//     repeat rows.
//   - Lookahead: one extra row is fetched to compute hasNextPage and
//     hasPreviousPage without a count query.
//   - Filtering: a nested AND/OR filter tree is compiled into bound GORM
//     expressions through a per-entity FieldRegistry.
//   - Child connections: ChildConnectionLoader answers "first K children of each
//     of N parents" with at most two queries using ROW_NUMBER() windows.
//
// Key concepts
//   - CursorPager: orchestrates direction, page size, sorting and the cursor
//     predicate applied to GORM queries.
//   - SortConfig / Orderings: maps client sort fields to typed columns and
//     always appends the primary key as the final tie breaker.
//   - Getters: maps column names to node values for building edge cursors.
//   - Page: the {totalCount, pageInfo, edges} connection shape.
//
// See examples/ for runnable programs.
