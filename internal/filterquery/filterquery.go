// Package filterquery is the typed filter AST the read API's get_<entity>
// methods compile into SQL (§6, §9 Design Notes). Every field name is
// checked against a per-entity whitelist before it ever reaches a query
// string, so callers can never smuggle arbitrary SQL through a filter.
package filterquery

import (
	"fmt"
	"strings"
)

// Op is one of the filter comparison operators the read API accepts.
type Op string

const (
	Eq      Op = "=="
	Ne      Op = "!="
	Lt      Op = "<"
	Le      Op = "<="
	Gt      Op = ">"
	Ge      Op = ">="
	In      Op = "IN"
	Like    Op = "LIKE"
)

var validOps = map[Op]string{
	Eq:   "=",
	Ne:   "!=",
	Lt:   "<",
	Le:   "<=",
	Gt:   ">",
	Ge:   ">=",
	In:   "IN",
	Like: "LIKE",
}

// Combinator joins multiple Filters together.
type Combinator string

const (
	And Combinator = "and"
	Or  Combinator = "or"
)

// Filter is one field/op/value clause.
type Filter struct {
	Field string
	Op    Op
	Value interface{}
}

// Query describes one get_<entity> call: a filter list joined by a single
// combinator, a validity restriction, an ordering, and an optional block
// range (§6).
type Query struct {
	Filters    []Filter
	FilterOp   Combinator
	Validity   string
	OrderBy    string
	OrderDir   string
	StartBlock int64
	EndBlock   int64
}

// Entity is a whitelist of queryable fields and their SQL column names,
// plus the table to query and its validity column (most tables use
// "validity", a few use "status").
type Entity struct {
	Table         string
	ValidityField string
	Fields        map[string]string
}

var ErrUnknownField = fmt.Errorf("filterquery: field not whitelisted for this entity")
var ErrUnknownOp = fmt.Errorf("filterquery: unsupported operator")
var ErrBadOrderField = fmt.Errorf("filterquery: order_by field not whitelisted")

// Compile renders q against e into a WHERE clause and its bound
// arguments, e.g. "give_asset = ? AND status = ?", []interface{}{"XCP","open"}.
// Every identifier in the output is drawn from e.Fields or e.ValidityField,
// never from caller-supplied strings.
func Compile(e Entity, q Query) (where string, args []interface{}, err error) {
	var clauses []string

	for _, f := range q.Filters {
		column, ok := e.Fields[f.Field]
		if !ok {
			return "", nil, fmt.Errorf("%w: %q", ErrUnknownField, f.Field)
		}
		sqlOp, ok := validOps[f.Op]
		if !ok {
			return "", nil, fmt.Errorf("%w: %q", ErrUnknownOp, f.Op)
		}

		if f.Op == In {
			values, ok := f.Value.([]interface{})
			if !ok {
				return "", nil, fmt.Errorf("filterquery: IN requires a value list for %q", f.Field)
			}
			placeholders := make([]string, len(values))
			for i, v := range values {
				placeholders[i] = "?"
				args = append(args, v)
			}
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ", ")))
			continue
		}

		clauses = append(clauses, fmt.Sprintf("%s %s ?", column, sqlOp))
		args = append(args, f.Value)
	}

	// The combinator joins only the filters; validity and the block range
	// always restrict the result on top of them.
	if q.FilterOp == Or && len(clauses) > 1 {
		clauses = []string{"(" + strings.Join(clauses, " OR ") + ")"}
	}

	if q.Validity != "" {
		validityField := e.ValidityField
		if validityField == "" {
			validityField = "validity"
		}
		clauses = append(clauses, validityField+" = ?")
		args = append(args, q.Validity)
	}

	if q.StartBlock > 0 {
		clauses = append(clauses, "block_index >= ?")
		args = append(args, q.StartBlock)
	}
	if q.EndBlock > 0 {
		clauses = append(clauses, "block_index <= ?")
		args = append(args, q.EndBlock)
	}

	where = strings.Join(clauses, " AND ")
	return where, args, nil
}

// CompileOrderBy validates and renders an ORDER BY clause, or "" if q
// specifies no ordering.
func CompileOrderBy(e Entity, q Query) (string, error) {
	if q.OrderBy == "" {
		return "", nil
	}
	column, ok := e.Fields[q.OrderBy]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrBadOrderField, q.OrderBy)
	}
	dir := "ASC"
	if strings.EqualFold(q.OrderDir, "desc") {
		dir = "DESC"
	}
	return fmt.Sprintf("ORDER BY %s %s", column, dir), nil
}
