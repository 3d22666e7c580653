package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"strconv"
	"strings"
	"sync"

	// Packages
	pgx "github.com/jackc/pgx/v5"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

// Bind carries a set of named variables used both to substitute
// ${identifier} placeholders into SQL text (table/column names, which pgx
// cannot parameterize) and as pgx.NamedArgs passed alongside the query.
type Bind struct {
	sync.RWMutex
	vars pgx.NamedArgs
}

///////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewBind creates a new Bind from name/value pairs. Returns nil if the
// number of arguments is odd or any key is empty.
func NewBind(pairs ...any) *Bind {
	if len(pairs)%2 != 0 {
		return nil
	}
	vars := make(pgx.NamedArgs, len(pairs)>>1)
	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok || key == "" {
			return nil
		}
		vars[key] = pairs[i+1]
	}
	return &Bind{vars: vars}
}

// Copy returns a new Bind with all existing vars plus the given pairs.
func (bind *Bind) Copy(pairs ...any) *Bind {
	if len(pairs)%2 != 0 {
		return nil
	}
	varsCopy := func() pgx.NamedArgs {
		bind.RLock()
		defer bind.RUnlock()
		c := make(pgx.NamedArgs, len(bind.vars)+(len(pairs)>>1))
		maps.Copy(c, bind.vars)
		return c
	}()
	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok || key == "" {
			return nil
		}
		varsCopy[key] = pairs[i+1]
	}
	return &Bind{vars: varsCopy}
}

///////////////////////////////////////////////////////////////////////////////
// STRINGIFY

func (bind *Bind) MarshalJSON() ([]byte, error) {
	return json.Marshal(bind.vars)
}

func (bind *Bind) String() string {
	data, err := json.MarshalIndent(bind.vars, "", "  ")
	if err != nil {
		return err.Error()
	}
	return string(data)
}

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Set sets a bind var and returns its "@name" placeholder.
func (bind *Bind) Set(key string, value any) string {
	bind.Lock()
	defer bind.Unlock()
	if key == "" {
		return ""
	}
	bind.vars[key] = value
	return "@" + key
}

// Get returns a bind var by key.
func (bind *Bind) Get(key string) any {
	bind.RLock()
	defer bind.RUnlock()
	return bind.vars[key]
}

// Has returns true if a bind var with the given key exists.
func (bind *Bind) Has(key string) bool {
	bind.RLock()
	defer bind.RUnlock()
	_, ok := bind.vars[key]
	return ok
}

// Del deletes a bind var.
func (bind *Bind) Del(key string) {
	bind.Lock()
	defer bind.Unlock()
	delete(bind.vars, key)
}

// Join joins a []any bind var with sep, or stringifies a scalar.
// Returns "" if the key does not exist.
func (bind *Bind) Join(key, sep string) string {
	bind.RLock()
	defer bind.RUnlock()
	value, ok := bind.vars[key]
	if !ok {
		return ""
	}
	if v, ok := value.([]any); ok {
		str := make([]string, len(v))
		for i, value := range v {
			str[i] = fmt.Sprint(value)
		}
		return strings.Join(str, sep)
	}
	return fmt.Sprint(value)
}

// Append appends value to a []any bind var, creating it if absent.
// Returns false if the existing var is not a list.
func (bind *Bind) Append(key string, value any) bool {
	bind.Lock()
	defer bind.Unlock()
	if _, ok := bind.vars[key]; !ok {
		bind.vars[key] = make([]any, 0, 5)
	}
	if _, ok := bind.vars[key].([]any); !ok {
		return false
	}
	bind.vars[key] = append(bind.vars[key].([]any), value)
	return true
}

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS - QUERY

// QueryRow resolves ${...} substitutions then runs a single-row query.
func (bind *Bind) QueryRow(ctx context.Context, conn pgx.Tx, query string) pgx.Row {
	bind.RLock()
	defer bind.RUnlock()
	return conn.QueryRow(ctx, bind.replace(query), bind.vars)
}

// Query resolves ${...} substitutions then runs a multi-row query.
func (bind *Bind) Query(ctx context.Context, conn pgx.Tx, query string) (pgx.Rows, error) {
	bind.RLock()
	defer bind.RUnlock()
	return conn.Query(ctx, bind.replace(query), bind.vars)
}

// Exec resolves ${...} substitutions then executes a statement, returning the
// number of rows affected.
func (bind *Bind) Exec(ctx context.Context, conn pgx.Tx, query string) (int64, error) {
	bind.RLock()
	defer bind.RUnlock()
	tag, err := conn.Exec(ctx, bind.replace(query), bind.vars)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// Replace returns query with ${substitution} resolved against bind vars:
//
//	${key}    => value
//	${'key'}  => 'value'
//	${"key"}  => "value"
//	$1        => $1 (untouched, a pgx positional placeholder)
//	$$        => $$
func (bind *Bind) Replace(query string) string {
	bind.RLock()
	defer bind.RUnlock()
	return bind.replace(query)
}

func (bind *Bind) replace(query string) string {
	fetch := func(key string) string {
		return fmt.Sprint(bind.vars[key])
	}
	return os.Expand(query, func(key string) string {
		switch {
		case key == "$":
			return "$$"
		case isNumeric(key):
			return "$" + key
		case isSingleQuoted(key):
			key = strings.Trim(key, "'")
			if v, ok := bind.vars[key].([]string); ok {
				parts := make([]string, len(v))
				for i, s := range v {
					parts[i] = quote(s)
				}
				return strings.Join(parts, ",")
			}
			return quote(fetch(key))
		case isDoubleQuoted(key):
			return doubleQuote(fetch(strings.Trim(key, `"`)))
		default:
			return fetch(key)
		}
	})
}

func isNumeric(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}

func isSingleQuoted(s string) bool {
	return len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\''
}

func isDoubleQuoted(s string) bool {
	return len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"'
}

// quote single-quotes a SQL literal, doubling embedded quotes.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// doubleQuote double-quotes a SQL identifier, doubling embedded quotes.
func doubleQuote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
