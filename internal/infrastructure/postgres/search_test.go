package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/videoflow/notification/internal/domain"
)

func TestBuildSearch_Defaults(t *testing.T) {
	q := buildSearch(domain.NewSearchParams(domain.SearchInput{}))

	assert.Equal(t, "SELECT COUNT(*) FROM notifications", q.count)
	assert.Equal(t, selectColumns+" ORDER BY sent_at DESC, id DESC LIMIT $1 OFFSET $2", q.page)
	assert.Empty(t, q.args)
	assert.Equal(t, []any{15, 0}, q.pageArgs)
}

func TestBuildSearch_FilterSortAndPage(t *testing.T) {
	q := buildSearch(domain.NewSearchParams(domain.SearchInput{
		Page: 3, PerPage: 10, Sort: "title", SortDir: "asc", Filter: "50%_off",
	}))

	assert.Equal(t, "SELECT COUNT(*) FROM notifications WHERE title ILIKE $1", q.count)
	assert.Equal(t, selectColumns+" WHERE title ILIKE $1 ORDER BY title ASC, id ASC LIMIT $2 OFFSET $3", q.page)
	assert.Equal(t, []any{`%50\%\_off%`}, q.args)
	assert.Equal(t, []any{`%50\%\_off%`, 10, 20}, q.pageArgs)
}

func TestBuildSearch_UnknownSortNeverReachesSQL(t *testing.T) {
	q := buildSearch(domain.NewSearchParams(domain.SearchInput{Sort: "title; DROP TABLE notifications", SortDir: "asc"}))

	assert.NotContains(t, q.page, "DROP")
	assert.Contains(t, q.page, "ORDER BY sent_at DESC, id DESC")
}

func TestMigrationURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@db:5432/n", migrationURL("postgres://u:p@db:5432/n"))
	assert.Equal(t, "pgx5://u:p@db:5432/n", migrationURL("postgresql://u:p@db:5432/n"))
	assert.Equal(t, "pgx5://already", migrationURL("pgx5://already"))
}
