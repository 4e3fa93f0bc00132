package db

import (
	"fmt"
	"sort"
	"strings"
)

// MatchType says how a search parameter is compared with its column.
type MatchType int

const (
	MatchExact    MatchType = iota // col = $n
	MatchContains                  // col ILIKE %v% ESCAPE '\'
	MatchFrom                      // col >= $n
	MatchTo                        // col <= $n
)

// SearchParam maps a query-string parameter to a column.
type SearchParam struct {
	Match  MatchType
	Column string
}

// SearchQuery builds the WHERE clause shared by a count query and a paged
// data query.
type SearchQuery struct {
	table   string
	cols    string
	where   string
	args    []interface{}
	idx     int
	orderBy string
}

func NewSearchQuery(table, cols string) *SearchQuery {
	return &SearchQuery{table: table, cols: cols, idx: 1}
}

// Idx returns the next placeholder index.
func (q *SearchQuery) Idx() int { return q.idx }

// Add appends a clause (without leading "AND") whose placeholders start at Idx().
func (q *SearchQuery) Add(clause string, args ...interface{}) {
	q.where += " AND " + clause
	q.args = append(q.args, args...)
	q.idx += len(args)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ContainsPattern returns the ILIKE pattern matching value anywhere, with the
// wildcards typed by the user taken literally. Use it with ESCAPE '\'.
func ContainsPattern(value string) string {
	return "%" + likeEscaper.Replace(value) + "%"
}

func (q *SearchQuery) ApplyParam(p SearchParam, value string) {
	switch p.Match {
	case MatchContains:
		q.Add(fmt.Sprintf(`%s ILIKE $%d ESCAPE '\'`, p.Column, q.idx), ContainsPattern(value))
	case MatchFrom:
		q.Add(fmt.Sprintf("%s >= $%d", p.Column, q.idx), value)
	case MatchTo:
		q.Add(fmt.Sprintf("%s <= $%d", p.Column, q.idx), value)
	default:
		q.Add(fmt.Sprintf("%s = $%d", p.Column, q.idx), value)
	}
}

// ApplyParams applies the known parameters in a stable order so that the
// generated SQL does not depend on map iteration.
func (q *SearchQuery) ApplyParams(params map[string]string, known map[string]SearchParam) {
	names := make([]string, 0, len(params))
	for name := range params {
		if _, ok := known[name]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if v := strings.TrimSpace(params[name]); v != "" {
			q.ApplyParam(known[name], v)
		}
	}
}

func (q *SearchQuery) OrderBy(orderBy string) { q.orderBy = orderBy }

// ApplySort reads a comma separated list of parameter names, "-" prefixed for
// descending order. Unknown names are ignored.
func (q *SearchQuery) ApplySort(sortParam, defaultOrder string, known map[string]SearchParam) {
	var parts []string
	for _, field := range strings.Split(sortParam, ",") {
		field = strings.TrimSpace(field)
		dir := " ASC"
		if strings.HasPrefix(field, "-") {
			dir = " DESC"
			field = field[1:]
		}
		if p, ok := known[field]; ok {
			parts = append(parts, p.Column+dir)
		}
	}
	if len(parts) == 0 {
		q.orderBy = defaultOrder
		return
	}
	q.orderBy = strings.Join(parts, ", ")
}

func (q *SearchQuery) CountSQL() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE 1=1%s", q.table, q.where)
}

func (q *SearchQuery) CountArgs() []interface{} { return q.args }

func (q *SearchQuery) DataSQL(limit, offset int) string {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE 1=1%s", q.cols, q.table, q.where)
	if q.orderBy != "" {
		sql += " ORDER BY " + q.orderBy
	}
	return sql + fmt.Sprintf(" LIMIT $%d OFFSET $%d", q.idx, q.idx+1)
}

func (q *SearchQuery) DataArgs(limit, offset int) []interface{} {
	out := make([]interface{}, len(q.args)+2)
	copy(out, q.args)
	out[len(q.args)] = limit
	out[len(q.args)+1] = offset
	return out
}
