package database

import (
	"strconv"
	"strings"
)

// Rebind converts $N placeholders to ? for drivers that use positional
// placeholders. Repository SQL is written in the $N form.
func (db *DB) Rebind(query string) string {
	if db.Dialect == DialectPostgres {
		return query
	}
	return convertPlaceholders(query)
}

func convertPlaceholders(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c != '$' {
			b.WriteByte(c)
			continue
		}
		j := i + 1
		for j < len(query) && query[j] >= '0' && query[j] <= '9' {
			j++
		}
		if j == i+1 {
			b.WriteByte(c)
			continue
		}
		// Validate it really is a number; keep literal otherwise.
		if _, err := strconv.Atoi(query[i+1 : j]); err != nil {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('?')
		i = j - 1
	}
	return b.String()
}
