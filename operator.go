package connpager

import "fmt"

// Operator defines a comparison operator of a filter leaf.
type Operator string

const (
	OperatorEq       Operator = "eq"
	OperatorNeq      Operator = "neq"
	OperatorLt       Operator = "lt"
	OperatorLte      Operator = "lte"
	OperatorGt       Operator = "gt"
	OperatorGte      Operator = "gte"
	OperatorContains Operator = "contains"
)

var _sqlOperators = map[Operator]string{
	OperatorEq:       "=",
	OperatorNeq:      "!=",
	OperatorLt:       "<",
	OperatorLte:      "<=",
	OperatorGt:       ">",
	OperatorGte:      ">=",
	OperatorContains: "LIKE",
}

func (o Operator) Valid() bool {
	_, ok := _sqlOperators[o]
	return ok
}

// SQL returns the SQL comparison operator.
func (o Operator) SQL() (string, error) {
	op, ok := _sqlOperators[o]
	if !ok {
		return "", fmt.Errorf("%w '%s'", ErrUnknownOperator, o)
	}

	return op, nil
}

// Logical joins the conditions of a multi-column alias or of a filter group.
type Logical string

const (
	LogicalAND Logical = "AND"
	LogicalOR  Logical = "OR"
)

func (l Logical) Valid() bool {
	return l == LogicalAND || l == LogicalOR
}

// seekOperator is the row value comparison used by the cursor predicate.
type seekOperator string

const (
	seekGT seekOperator = ">"
	seekLT seekOperator = "<"
)
