package params

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePagination(t *testing.T) {
	tests := []struct {
		query  string
		limit  int
		page   int
		offset int
	}{
		{"", DefaultLimit, 1, 0},
		{"limit=10&page=3", 10, 3, 20},
		{"limit=500", MaxLimit, 1, 0},
		{"limit=-1&page=0", DefaultLimit, 1, 0},
		{"limit=abc&page=x", DefaultLimit, 1, 0},
	}
	for _, tt := range tests {
		q, _ := url.ParseQuery(tt.query)
		p := ParsePagination(q)
		assert.Equal(t, tt.limit, p.Limit, tt.query)
		assert.Equal(t, tt.page, p.Page, tt.query)
		assert.Equal(t, tt.offset, p.Offset, tt.query)
	}
}

func TestComputeMeta(t *testing.T) {
	p := Pagination{Limit: 10, Page: 2, Offset: 10}
	p.ComputeMeta(25)
	assert.Equal(t, 3, p.TotalPages)
	assert.True(t, p.HasNext)
	assert.True(t, p.HasPrev)

	p = Pagination{Limit: 10, Page: 1}
	p.ComputeMeta(0)
	assert.Zero(t, p.TotalPages)
	assert.False(t, p.HasNext)
}

func TestBool(t *testing.T) {
	q, _ := url.ParseQuery("force=true&verify=1&dry=nope")
	assert.True(t, Bool(q, "force"))
	assert.True(t, Bool(q, "verify"))
	assert.False(t, Bool(q, "dry"))
	assert.False(t, Bool(q, "missing"))
}
