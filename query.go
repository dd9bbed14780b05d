package dbsession

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-dbsession/dbsession/driver"
)

// Values holds named parameter bindings for a query.
type Values map[string]any

// Query is anything that can render itself against a dialect. Sessions
// compile queries immediately before execution, so one Query value can be
// reused across databases with different placeholder styles.
type Query interface {
	Compile(d driver.Dialect) (*driver.Statement, error)
}

// Bindable is a Query that can be re-bound to a fresh set of values, the
// contract ExecuteMany needs to compile one template once per row set.
type Bindable interface {
	Query
	Bind(values Values) Query
}

// SQL is a textual query with :name parameters.
//
//	q := dbsession.Q(
//		"SELECT id, text FROM notes WHERE completed = :done",
//		driver.Col("id", driver.Int64),
//		driver.Col("text", driver.String),
//	).Bind(dbsession.Values{"done": true})
//
// Compilation replaces each :name with the dialect's placeholder. A doubled
// colon ("::") is not parameter syntax and passes through unchanged, which
// keeps Postgres casts working. Identifier characters are letters, digits
// and underscore.
type SQL struct {
	text    string
	columns []driver.Column
	values  Values
}

var (
	_ Query    = (*SQL)(nil)
	_ Bindable = (*SQL)(nil)
)

// Q builds a SQL query from text and the columns its result produces.
// Statements that return no rows declare no columns.
func Q(text string, columns ...driver.Column) *SQL {
	return &SQL{text: text, columns: columns}
}

// Bind returns a copy of the query with values bound. Later binds replace
// earlier ones wholesale.
func (q *SQL) Bind(values Values) Query {
	return &SQL{text: q.text, columns: q.columns, values: values}
}

// Compile renders the query for a dialect. Every :name must have a bound
// value and every bound value must be referenced; mismatches in either
// direction are errors, since they are almost always typos.
func (q *SQL) Compile(d driver.Dialect) (*driver.Statement, error) {
	// Numbered dialects ($1, $2) reuse one placeholder per distinct name;
	// anonymous dialects (?) need the value repeated per occurrence.
	numbered := d.Placeholder(1) != d.Placeholder(2)

	var (
		sb       strings.Builder
		args     []any
		position = map[string]int{}
		seen     = map[string]bool{}
	)
	sb.Grow(len(q.text))

	text := q.text
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if ch != ':' {
			sb.WriteByte(ch)
			continue
		}
		if i+1 < len(text) && text[i+1] == ':' {
			sb.WriteString("::")
			i++
			continue
		}

		start := i + 1
		end := start
		for end < len(text) && isIdentChar(text[end]) {
			end++
		}
		if end == start {
			sb.WriteByte(':')
			continue
		}

		name := text[start:end]
		i = end - 1

		val, ok := q.values[name]
		if !ok {
			return nil, fmt.Errorf("dbsession: parameter :%s has no bound value", name)
		}
		seen[name] = true

		if numbered {
			pos, ok := position[name]
			if !ok {
				args = append(args, val)
				pos = len(args)
				position[name] = pos
			}
			sb.WriteString(d.Placeholder(pos))
		} else {
			args = append(args, val)
			sb.WriteString(d.Placeholder(len(args)))
		}
	}

	if len(seen) != len(q.values) {
		var unused []string
		for name := range q.values {
			if !seen[name] {
				unused = append(unused, name)
			}
		}
		sort.Strings(unused)
		return nil, fmt.Errorf("dbsession: bound values not used by the query: %s", strings.Join(unused, ", "))
	}

	return &driver.Statement{SQL: sb.String(), Args: args, Columns: q.columns}, nil
}

func isIdentChar(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}

// Raw is a query already rendered in the target dialect, with positional
// args. It passes through compilation untouched.
type Raw struct {
	text    string
	args    []any
	columns []driver.Column
}

var _ Query = (*Raw)(nil)

// RawQuery builds a Raw query.
func RawQuery(text string, args ...any) *Raw {
	return &Raw{text: text, args: args}
}

// Columns returns a copy with result column descriptors attached.
func (r *Raw) Columns(columns ...driver.Column) *Raw {
	return &Raw{text: r.text, args: r.args, columns: columns}
}

// Compile implements Query.
func (r *Raw) Compile(driver.Dialect) (*driver.Statement, error) {
	return &driver.Statement{SQL: r.text, Args: r.args, Columns: r.columns}, nil
}
