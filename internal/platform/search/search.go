// Package search builds filtered, paginated SELECT statements from request
// query parameters.
package search

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// ParamType decides how a query parameter value becomes a WHERE clause.
type ParamType int

const (
	ParamExact  ParamType = iota // column = value
	ParamString                  // case-insensitive prefix match; "*x" searches anywhere
	ParamDate                    // YYYY-MM-DD with optional ge/gt/le/lt/eq prefix
	ParamUUID                    // column = uuid; malformed ids match nothing
	ParamBool                    // true/false
)

// ParamConfig maps a query parameter to its column.
type ParamConfig struct {
	Type   ParamType
	Column string
}

// Query accumulates WHERE fragments and positional arguments.
type Query struct {
	from    string
	cols    string
	where   string
	args    []interface{}
	idx     int
	orderBy string
}

// NewQuery starts a query over from, which may be a table or a join.
func NewQuery(from, cols string) *Query {
	return &Query{from: from, cols: cols, idx: 1}
}

// Idx returns the next available parameter index.
func (q *Query) Idx() int { return q.idx }

// likeEscaper makes LIKE wildcards in user input match literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Add appends a raw WHERE clause fragment (without leading "AND").
func (q *Query) Add(clause string, args ...interface{}) {
	q.where += " AND " + clause
	q.args = append(q.args, args...)
	q.idx += len(args)
}

func (q *Query) addf(format string, arg interface{}) {
	q.Add(fmt.Sprintf(format, q.idx), arg)
}

// ApplyParam applies a single parameter. It returns an error for values the
// parameter type cannot interpret.
func (q *Query) ApplyParam(config ParamConfig, value string) error {
	switch config.Type {
	case ParamExact:
		q.addf(config.Column+" = $%d", value)
	case ParamString:
		if strings.HasPrefix(value, "*") {
			q.addf(config.Column+" ILIKE $%d", "%"+likeEscaper.Replace(strings.TrimPrefix(value, "*"))+"%")
		} else {
			q.addf(config.Column+" ILIKE $%d", likeEscaper.Replace(value)+"%")
		}
	case ParamDate:
		op, raw := splitPrefix(value)
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return fmt.Errorf("invalid date %q", value)
		}
		if op == "=" {
			q.Add(fmt.Sprintf("(%s >= $%d AND %s < $%d)", config.Column, q.idx, config.Column, q.idx+1), d, d.AddDate(0, 0, 1))
		} else {
			q.addf(config.Column+" "+op+" $%d", d)
		}
	case ParamUUID:
		id, err := uuid.Parse(value)
		if err != nil {
			return fmt.Errorf("invalid id %q", value)
		}
		q.addf(config.Column+" = $%d", id)
	case ParamBool:
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			q.addf(config.Column+" = $%d", true)
		case "false", "0", "no":
			q.addf(config.Column+" = $%d", false)
		default:
			return fmt.Errorf("invalid boolean %q", value)
		}
	}
	return nil
}

// ApplyParams applies every parameter that has a config, in name order so
// the generated SQL is stable. Unknown parameters are ignored.
func (q *Query) ApplyParams(params map[string]string, configs map[string]ParamConfig) error {
	names := make([]string, 0, len(params))
	for name := range params {
		if _, ok := configs[name]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if err := q.ApplyParam(configs[name], params[name]); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// OrderBy sets the ORDER BY clause (without the "ORDER BY" keyword).
func (q *Query) OrderBy(orderBy string) {
	q.orderBy = orderBy
}

func (q *Query) CountSQL() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE 1=1%s", q.from, q.where)
}

func (q *Query) CountArgs() []interface{} {
	return q.args
}

// DataSQL returns the data query with ORDER BY and LIMIT/OFFSET.
func (q *Query) DataSQL(limit, offset int) string {
	sql := q.SelectSQL()
	sql += fmt.Sprintf(" LIMIT $%d OFFSET $%d", q.idx, q.idx+1)
	return sql
}

// DataArgs returns the search args followed by limit and offset.
func (q *Query) DataArgs(limit, offset int) []interface{} {
	result := make([]interface{}, len(q.args)+2)
	copy(result, q.args)
	result[len(q.args)] = limit
	result[len(q.args)+1] = offset
	return result
}

// SelectSQL returns the unpaginated data query; its arguments are CountArgs.
func (q *Query) SelectSQL() string {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE 1=1%s", q.cols, q.from, q.where)
	if q.orderBy != "" {
		sql += " ORDER BY " + q.orderBy
	}
	return sql
}

func splitPrefix(value string) (string, string) {
	if len(value) > 2 {
		switch value[:2] {
		case "ge":
			return ">=", value[2:]
		case "gt":
			return ">", value[2:]
		case "le":
			return "<=", value[2:]
		case "lt":
			return "<", value[2:]
		case "eq":
			return "=", value[2:]
		}
	}
	return "=", value
}

// ExtractParams returns the request's query parameters minus pagination
// and format controls.
func ExtractParams(c echo.Context) map[string]string {
	params := map[string]string{}
	for k, v := range c.QueryParams() {
		if len(v) == 0 || k == "limit" || k == "offset" || k == "format" {
			continue
		}
		params[k] = v[0]
	}
	return params
}
