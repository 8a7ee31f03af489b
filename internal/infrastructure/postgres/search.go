package postgres

import (
	"fmt"
	"strings"

	"github.com/videoflow/notification/internal/domain"
)

// sortColumns maps the public sort keys to SQL columns. Only these ever reach a query.
var sortColumns = map[string]string{
	domain.SortTitle:  "title",
	domain.SortSentAt: "sent_at",
}

type searchQuery struct {
	count    string
	page     string
	args     []any
	pageArgs []any
}

// buildSearch renders the count and page statements for p. Column and
// direction come from allow-lists; user input only travels as arguments.
func buildSearch(p domain.SearchParams) searchQuery {
	var (
		where string
		args  []any
	)
	if p.Filter != "" {
		args = append(args, "%"+escapeLike(p.Filter)+"%")
		where = ` WHERE title ILIKE $1`
	}

	field, dir := p.Ordering()
	column := sortColumns[field]
	direction := "DESC"
	if dir == domain.SortAsc {
		direction = "ASC"
	}

	pageArgs := append(append([]any{}, args...), p.PerPage, p.Offset())
	limitIdx := len(pageArgs) - 1

	return searchQuery{
		count: "SELECT COUNT(*) FROM notifications" + where,
		page: fmt.Sprintf("%s%s ORDER BY %s %s, id %s LIMIT $%d OFFSET $%d",
			selectColumns, where, column, direction, direction, limitIdx, limitIdx+1),
		args:     args,
		pageArgs: pageArgs,
	}
}

// escapeLike neutralises LIKE wildcards so the filter is a literal substring.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
