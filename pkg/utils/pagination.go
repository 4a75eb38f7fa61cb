package utils

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

// Pagination 列表查询参数，page 从 1 开始
type Pagination struct {
	Page  int `json:"page" form:"page"`
	Limit int `json:"limit" form:"limit"`
}

// PageResult 分页响应结果
type PageResult struct {
	List  interface{} `json:"list"`
	Total int64       `json:"total"`
	Page  int         `json:"page"`
	Limit int         `json:"limit"`
	Pages int         `json:"pages"`
}

// GetPageOffset 修正越界参数后返回 (offset, limit)
func (p *Pagination) GetPageOffset() (int, int) {
	if p.Page < 1 {
		p.Page = 1
	}
	switch {
	case p.Limit <= 0:
		p.Limit = DefaultPageLimit
	case p.Limit > MaxPageLimit:
		p.Limit = MaxPageLimit
	}
	return (p.Page - 1) * p.Limit, p.Limit
}

// NewPageResult p 需已经过 GetPageOffset 修正
func NewPageResult(list interface{}, total int64, p Pagination) *PageResult {
	pages := 0
	if p.Limit > 0 {
		pages = int((total + int64(p.Limit) - 1) / int64(p.Limit))
	}
	return &PageResult{List: list, Total: total, Page: p.Page, Limit: p.Limit, Pages: pages}
}
