package handler

import (
	"net/http"
	"storefront/internal/domain/catalog/service"
	"storefront/pkg/response"
	"storefront/pkg/utils"

	"github.com/gin-gonic/gin"
)

type ProductHandler struct {
	service service.ProductService
}

func NewProductHandler(s service.ProductService) *ProductHandler {
	return &ProductHandler{service: s}
}

type SetStockInput struct {
	Stock *int `json:"stock" binding:"required,gte=0"`
}

// ListProducts 商品列表
// @Summary 商品列表
// @Tags Catalog
// @Produce json
// @Param page query int false "页码"
// @Param limit query int false "每页数量"
// @Success 200 {object} response.Response{data=utils.PageResult}
// @Router /products [get]
func (h *ProductHandler) ListProducts(c *gin.Context) {
	var p utils.Pagination
	if err := c.ShouldBindQuery(&p); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}
	result, err := h.service.ListProducts(c.Request.Context(), p)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// GetProduct 商品详情
// @Summary 商品详情
// @Tags Catalog
// @Produce json
// @Param id path string true "商品ID"
// @Success 200 {object} response.Response{data=model.Product}
// @Router /products/{id} [get]
func (h *ProductHandler) GetProduct(c *gin.Context) {
	p, err := h.service.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, p)
}

// CreateProduct 创建商品
// @Summary 创建商品
// @Tags Admin
// @Security Bearer
// @Accept json
// @Produce json
// @Param input body service.CreateProductInput true "商品信息"
// @Success 200 {object} response.Response{data=model.Product}
// @Router /admin/products [post]
func (h *ProductHandler) CreateProduct(c *gin.Context) {
	var input service.CreateProductInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}
	p, err := h.service.CreateProduct(c.Request.Context(), input)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, p)
}

// SetStock 补货 / 调整库存
// @Summary 调整库存
// @Tags Admin
// @Security Bearer
// @Accept json
// @Produce json
// @Param id path string true "商品ID"
// @Param input body SetStockInput true "库存"
// @Success 200 {object} response.Response{data=model.Product}
// @Router /admin/products/{id}/stock [put]
func (h *ProductHandler) SetStock(c *gin.Context) {
	var input SetStockInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}
	p, err := h.service.SetStock(c.Request.Context(), c.Param("id"), *input.Stock)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, p)
}
