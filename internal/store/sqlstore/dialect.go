package sqlstore

import (
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/balance"
)

// Dialect captures the few places PostgreSQL and SQLite disagree.
type Dialect struct {
	Name string
	// Rebind rewrites $N placeholders into the driver's syntax.
	Rebind func(query string) string
	// IsUniqueViolation reports whether err is a unique-constraint failure.
	IsUniqueViolation func(err error) bool
	// TimeValue converts a timestamp into the value bound for the driver.
	TimeValue func(t time.Time) any
}

var dollarParam = regexp.MustCompile(`\$(\d+)`)

// NumberedParams rewrites $1 into ?1 for drivers that only accept ?NNN.
func NumberedParams(query string) string {
	return dollarParam.ReplaceAllString(query, "?$1")
}

// SortableTime formats t as fixed-width UTC text so lexical order matches
// chronological order.
func SortableTime(t time.Time) any {
	return t.UTC().Format(sortableLayout)
}

const sortableLayout = "2006-01-02T15:04:05.000000000Z07:00"

func (d Dialect) rebind(query string) string {
	if d.Rebind == nil {
		return query
	}
	return d.Rebind(query)
}

func (d Dialect) timeValue(t time.Time) any {
	if d.TimeValue == nil {
		return t.UTC()
	}
	return d.TimeValue(t)
}

func (d Dialect) nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return d.timeValue(*t)
}

// timeDest scans timestamps stored either natively or as text.
type timeDest struct {
	Time  time.Time
	Valid bool
}

func (t *timeDest) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = v.UTC(), true
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("sqlstore: cannot scan %T into time", src)
	}
}

func (t *timeDest) parse(raw string) error {
	parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	t.Time, t.Valid = parsed.UTC(), true
	return nil
}

func (t timeDest) ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	out := t.Time
	return &out
}

var _ sql.Scanner = (*timeDest)(nil)

// vectorColumns expands a balance vector into one column per payment method.
func vectorColumns(prefix string) []string {
	cols := make([]string, len(balance.Methods))
	for i, m := range balance.Methods {
		cols[i] = prefix + "_" + string(m)
	}
	return cols
}

func vectorArgs(v balance.Vector) []any {
	args := make([]any, len(balance.Methods))
	for i, m := range balance.Methods {
		args[i] = v.Amount(m)
	}
	return args
}

func nullableVectorArgs(v *balance.Vector) []any {
	if v == nil {
		return make([]any, len(balance.Methods))
	}
	return vectorArgs(*v)
}

type vectorDest struct {
	values [len(balance.Methods)]decimal.NullDecimal
}

func (d *vectorDest) targets() []any {
	out := make([]any, len(d.values))
	for i := range d.values {
		out[i] = &d.values[i]
	}
	return out
}

// vector returns nil when every column is NULL and fails when only some are.
func (d *vectorDest) vector() (*balance.Vector, error) {
	amounts := make(map[balance.PaymentMethod]decimal.Decimal, len(balance.Methods))
	nulls := 0
	for i, m := range balance.Methods {
		if !d.values[i].Valid {
			nulls++
			continue
		}
		amounts[m] = d.values[i].Decimal
	}
	if nulls == len(balance.Methods) {
		return nil, nil
	}
	v, err := balance.FromMap(amounts)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

// nullString mirrors sql.NullString but is usable as a plain string target.
type nullString string

func (n *nullString) Scan(src any) error {
	var ns sql.NullString
	if err := ns.Scan(src); err != nil {
		return err
	}
	*n = nullString(ns.String)
	return nil
}
