package shared

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewPagination(t *testing.T) {
	p := NewPagination(3, 25, 101)
	require.Equal(t, Pagination{Page: 3, PerPage: 25, Total: 101, TotalPages: 5}, p)
	require.Equal(t, 50, p.Offset())

	p = NewPagination(0, 0, 0)
	require.Equal(t, 1, p.Page)
	require.Equal(t, defaultPerPage, p.PerPage)
	require.Zero(t, p.TotalPages)
	require.Zero(t, p.Offset())
}

func TestNormalizePageClampsPerPage(t *testing.T) {
	page, perPage := NormalizePage(-4, 10_000)
	require.Equal(t, 1, page)
	require.Equal(t, maxPerPage, perPage)
}

func TestAuditLogValidation(t *testing.T) {
	require.Error(t, AuditLog{Action: "transaction.post", Entity: "transaction"}.validate())
	require.NoError(t, AuditLog{Action: "transaction.post", Entity: "transaction", EntityID: "t-1"}.validate())
}
