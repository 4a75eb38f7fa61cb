package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPagination(t *testing.T) {
	t.Run("Out of range values are clamped", func(t *testing.T) {
		p := Pagination{Page: 0, Limit: 500}
		offset, limit := p.GetPageOffset()
		assert.Equal(t, 0, offset)
		assert.Equal(t, MaxPageLimit, limit)
		assert.Equal(t, 1, p.Page)
	})

	t.Run("Default limit", func(t *testing.T) {
		p := Pagination{Page: 2}
		offset, limit := p.GetPageOffset()
		assert.Equal(t, DefaultPageLimit, offset)
		assert.Equal(t, DefaultPageLimit, limit)
	})

	t.Run("Page result counts pages", func(t *testing.T) {
		p := Pagination{Page: 3, Limit: 20}
		offset, _ := p.GetPageOffset()
		assert.Equal(t, 40, offset)

		res := NewPageResult([]int{}, 41, p)
		assert.Equal(t, 3, res.Pages)
		assert.Equal(t, 3, res.Page)
		assert.Equal(t, 20, res.Limit)
		assert.Equal(t, 0, NewPageResult(nil, 0, p).Pages)
	})
}
