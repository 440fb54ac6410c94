package database

import (
	"fmt"
	"strings"
)

type FilterOp string

const (
	OpEq   FilterOp = "eq"
	OpNe   FilterOp = "ne"
	OpGt   FilterOp = "gt"
	OpGte  FilterOp = "gte"
	OpLt   FilterOp = "lt"
	OpLte  FilterOp = "lte"
	OpLike FilterOp = "like"
	OpIn   FilterOp = "in"
)

type Filter struct {
	Column string
	Op     FilterOp
	Value  any
}

type SortOrder string

const (
	SortAsc  SortOrder = "ASC"
	SortDesc SortOrder = "DESC"
)

// ParseSortOrder accepts asc/desc in any case, plus the abbreviations
// ASC/DSC used by older clients. Empty means ascending.
func ParseSortOrder(s string) (SortOrder, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "asc":
		return SortAsc, true
	case "desc", "dsc":
		return SortDesc, true
	}
	return "", false
}

// SelectBuilder assembles a parameterised SELECT. Column names are written
// into the SQL as given, so callers must only pass trusted identifiers.
type SelectBuilder struct {
	table   string
	columns []string
	filters []Filter
	sorts   []string
	limit   int
	offset  int
}

func Select(table string, columns ...string) *SelectBuilder {
	if len(columns) == 0 {
		columns = []string{"*"}
	}
	return &SelectBuilder{table: table, columns: columns}
}

func (b *SelectBuilder) Where(column string, value any) *SelectBuilder {
	return b.Filter(column, OpEq, value)
}

func (b *SelectBuilder) Filter(column string, op FilterOp, value any) *SelectBuilder {
	b.filters = append(b.filters, Filter{Column: column, Op: op, Value: value})
	return b
}

func (b *SelectBuilder) OrderBy(column string, order SortOrder) *SelectBuilder {
	b.sorts = append(b.sorts, column+" "+string(order))
	return b
}

func (b *SelectBuilder) Limit(n int) *SelectBuilder {
	b.limit = n
	return b
}

func (b *SelectBuilder) Offset(n int) *SelectBuilder {
	b.offset = n
	return b
}

func (b *SelectBuilder) Build() (string, []any) {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(b.columns, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(b.table)

	args := b.writeWhere(&sb)

	if len(b.sorts) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(b.sorts, ", "))
	}
	if b.limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", b.limit)
	}
	if b.offset > 0 {
		fmt.Fprintf(&sb, " OFFSET %d", b.offset)
	}

	return sb.String(), args
}

// BuildCount renders a COUNT(*) over the same filters, ignoring ordering
// and paging.
func (b *SelectBuilder) BuildCount() (string, []any) {
	var sb strings.Builder
	sb.WriteString("SELECT COUNT(*) FROM ")
	sb.WriteString(b.table)
	args := b.writeWhere(&sb)
	return sb.String(), args
}

func (b *SelectBuilder) writeWhere(sb *strings.Builder) []any {
	if len(b.filters) == 0 {
		return nil
	}

	var args []any
	conditions := make([]string, 0, len(b.filters))
	for _, f := range b.filters {
		cond, fargs := f.sql()
		conditions = append(conditions, cond)
		args = append(args, fargs...)
	}
	sb.WriteString(" WHERE ")
	sb.WriteString(strings.Join(conditions, " AND "))
	return args
}

func (f Filter) sql() (string, []any) {
	switch f.Op {
	case OpNe:
		return f.Column + " != ?", []any{f.Value}
	case OpGt:
		return f.Column + " > ?", []any{f.Value}
	case OpGte:
		return f.Column + " >= ?", []any{f.Value}
	case OpLt:
		return f.Column + " < ?", []any{f.Value}
	case OpLte:
		return f.Column + " <= ?", []any{f.Value}
	case OpLike:
		return f.Column + " LIKE ?", []any{f.Value}
	case OpIn:
		values, ok := f.Value.([]any)
		if !ok || len(values) == 0 {
			return "0", nil
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
		return f.Column + " IN (" + placeholders + ")", values
	default:
		return f.Column + " = ?", []any{f.Value}
	}
}

// UpdateBuilder assembles a parameterised UPDATE.
type UpdateBuilder struct {
	table  string
	sets   []string
	values []any
	wheres []Filter
}

func Update(table string) *UpdateBuilder {
	return &UpdateBuilder{table: table}
}

func (b *UpdateBuilder) Set(column string, value any) *UpdateBuilder {
	b.sets = append(b.sets, column+" = ?")
	b.values = append(b.values, value)
	return b
}

// SetExpr assigns a raw SQL expression, e.g. "version + 1".
func (b *UpdateBuilder) SetExpr(column, expr string) *UpdateBuilder {
	b.sets = append(b.sets, column+" = "+expr)
	return b
}

func (b *UpdateBuilder) Where(column string, value any) *UpdateBuilder {
	b.wheres = append(b.wheres, Filter{Column: column, Op: OpEq, Value: value})
	return b
}

func (b *UpdateBuilder) Build() (string, []any) {
	var sb strings.Builder
	args := append([]any(nil), b.values...)

	sb.WriteString("UPDATE ")
	sb.WriteString(b.table)
	sb.WriteString(" SET ")
	sb.WriteString(strings.Join(b.sets, ", "))

	if len(b.wheres) > 0 {
		conditions := make([]string, 0, len(b.wheres))
		for _, f := range b.wheres {
			cond, fargs := f.sql()
			conditions = append(conditions, cond)
			args = append(args, fargs...)
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conditions, " AND "))
	}

	return sb.String(), args
}
