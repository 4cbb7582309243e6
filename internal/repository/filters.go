package repository

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/yourorg/clinicops/internal/domain"
)

// conditions accumulates WHERE clauses with numbered placeholders.
type conditions struct {
	clauses []string
	args    []interface{}
}

// add appends clause, replacing each ? in order with the placeholder of the
// matching arg.
func (c *conditions) add(clause string, args ...interface{}) {
	for _, a := range args {
		c.args = append(c.args, a)
		clause = strings.Replace(clause, "?", "$"+strconv.Itoa(len(c.args)), 1)
	}
	c.clauses = append(c.clauses, clause)
}

func (c *conditions) where() string {
	if len(c.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.clauses, " AND ")
}

// page returns the LIMIT/OFFSET clause for p and the full argument list.
func (c *conditions) page(p domain.Page) (string, []interface{}) {
	n := len(c.args)
	args := make([]interface{}, 0, n+2)
	args = append(args, c.args...)
	args = append(args, p.PerPage, p.Offset())
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", n+1, n+2), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern builds an ILIKE pattern matching s anywhere, with LIKE
// wildcards in s taken literally.
func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}
