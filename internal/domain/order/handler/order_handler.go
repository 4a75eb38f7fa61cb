package handler

import (
	"net/http"
	"storefront/internal/domain/order/model"
	"storefront/internal/domain/order/service"
	"storefront/internal/pkg/middleware"
	"storefront/pkg/response"
	"storefront/pkg/utils"

	"github.com/gin-gonic/gin"
)

type OrderHandler struct {
	service service.OrderService
}

func NewOrderHandler(s service.OrderService) *OrderHandler {
	return &OrderHandler{service: s}
}

type UpdateStatusInput struct {
	Status string `json:"status" binding:"required"`
}

type ListOrdersQuery struct {
	utils.Pagination
	Status string `form:"status"`
}

func viewerFromContext(c *gin.Context) service.Viewer {
	userID, _ := middleware.CurrentUserID(c)
	return service.Viewer{UserID: userID, Admin: middleware.IsAdmin(c)}
}

// CreateOrder 下单 (支持游客)
// @Summary 创建订单
// @Tags Order
// @Accept json
// @Produce json
// @Param input body service.CreateOrderInput true "订单信息"
// @Success 200 {object} response.Response{data=model.Order}
// @Failure 400 {object} response.Response
// @Router /orders [post]
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var input service.CreateOrderInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	var owner *string
	if userID, ok := middleware.CurrentUserID(c); ok {
		owner = &userID
	}

	order, err := h.service.CreateOrder(c.Request.Context(), input, owner)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, order)
}

// GetOrder 订单详情
// @Summary 订单详情
// @Tags Order
// @Produce json
// @Param id path string true "订单ID"
// @Success 200 {object} response.Response{data=model.Order}
// @Router /orders/{id} [get]
func (h *OrderHandler) GetOrder(c *gin.Context) {
	order, err := h.service.GetOrder(c.Request.Context(), c.Param("id"), viewerFromContext(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, order)
}

// ListMyOrders 我的订单
// @Summary 我的订单
// @Tags Order
// @Security Bearer
// @Produce json
// @Param page query int false "页码"
// @Param limit query int false "每页数量"
// @Success 200 {object} response.Response{data=utils.PageResult}
// @Router /orders [get]
func (h *OrderHandler) ListMyOrders(c *gin.Context) {
	var p utils.Pagination
	if err := c.ShouldBindQuery(&p); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}
	userID, _ := middleware.CurrentUserID(c)
	result, err := h.service.ListMyOrders(c.Request.Context(), userID, p)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// PaymentStatus 查询订单支付状态，无副作用
// @Summary 订单支付状态
// @Tags Order
// @Produce json
// @Param id path string true "订单ID"
// @Success 200 {object} response.Response{data=repository.PaymentStatusView}
// @Router /orders/{id}/payment-status [get]
func (h *OrderHandler) PaymentStatus(c *gin.Context) {
	st, err := h.service.PaymentStatus(c.Request.Context(), c.Param("id"), viewerFromContext(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, st)
}

// UpdateStatus 管理员推进订单状态
// paid 只能由支付结算写入
// @Summary 更新订单状态
// @Tags Admin
// @Security Bearer
// @Accept json
// @Produce json
// @Param id path string true "订单ID"
// @Param input body UpdateStatusInput true "目标状态"
// @Success 200 {object} response.Response{data=model.Order}
// @Failure 409 {object} response.Response
// @Router /admin/orders/{id}/status [put]
func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	var input UpdateStatusInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}
	if input.Status == model.StatusPaid {
		response.Error(c, http.StatusConflict, response.ErrInvalidTransition, "orders are marked paid by payment settlement only")
		return
	}

	order, err := h.service.TransitionStatus(c.Request.Context(), c.Param("id"), input.Status)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, order)
}

// ListOrders 管理员订单列表
// @Summary 订单列表
// @Tags Admin
// @Security Bearer
// @Produce json
// @Param status query string false "状态过滤"
// @Param page query int false "页码"
// @Param limit query int false "每页数量"
// @Success 200 {object} response.Response{data=utils.PageResult}
// @Router /admin/orders [get]
func (h *OrderHandler) ListOrders(c *gin.Context) {
	var q ListOrdersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}
	result, err := h.service.ListOrders(c.Request.Context(), q.Status, q.Pagination)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}
