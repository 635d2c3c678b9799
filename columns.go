package connpager

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
	"gorm.io/gorm/clause"
)

// Table names an entity table and produces typed column references for it.
//
//	var roles = connpager.Table("roles")
//	roles.Col("role_name") // "roles"."role_name"
type Table string

// Col returns a reference to the column of the table.
func (t Table) Col(name string) clause.Column {
	return clause.Column{Table: string(t), Name: name}
}

// Raw returns a raw column expression, e.g. a computed pivot. It is written
// to the query as-is and is exempt from identifier validation.
func Raw(expr string) clause.Column {
	return clause.Column{Name: expr, Raw: true}
}

func (t Table) validate() error {
	if t == "" || !lo.Every(_availableColumnNameSymbols, []rune(t)) {
		return fmt.Errorf("invalid table name '%s'", t)
	}

	return nil
}

var _availableColumnNameSymbols = append([]rune("_$"), lo.AlphanumericCharset...)

// validateColumn guards against SQL injection through column names built from
// configuration.
func validateColumn(c clause.Column) error {
	if c.Raw {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("empty raw column expression")
		}

		return nil
	}

	if c.Name == "" {
		return fmt.Errorf("empty column name")
	}

	for _, part := range []string{c.Table, c.Name} {
		if !lo.Every(_availableColumnNameSymbols, []rune(part)) {
			return fmt.Errorf("column name contains forbidden symbols '%s'", columnString(c))
		}
	}

	return nil
}

// columnString renders a column for messages and diagnostics.
func columnString(c clause.Column) string {
	if c.Raw || c.Table == "" {
		return c.Name
	}

	return c.Table + "." + c.Name
}
