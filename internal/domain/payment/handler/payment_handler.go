package handler

import (
	"io"
	"net/http"

	"storefront/internal/domain/payment/model"
	"storefront/internal/domain/payment/service"
	"storefront/internal/domain/payment/strategy"
	"storefront/internal/pkg/middleware"
	"storefront/pkg/apperr"
	"storefront/pkg/response"
	"storefront/pkg/utils"

	"github.com/gin-gonic/gin"
)

// maxCallbackBody 回调报文上限
const maxCallbackBody = 64 << 10

type PaymentHandler struct {
	service    service.PaymentService
	reconciler service.ReconcileService
	gateways   *service.Gateways
}

func NewPaymentHandler(s service.PaymentService, r service.ReconcileService, gateways *service.Gateways) *PaymentHandler {
	return &PaymentHandler{service: s, reconciler: r, gateways: gateways}
}

type SettleInput struct {
	Status string `json:"status" binding:"required,oneof=completed failed"`
	Reason string `json:"reason" binding:"max=255"`
}

type ResolveInput struct {
	Note string `json:"note" binding:"required,max=512"`
}

type ListDiscrepanciesQuery struct {
	utils.Pagination
	All bool `form:"all"`
}

// Callback 网关异步通知
// @Summary 支付回调
// @Tags Payment
// @Param gateway path string true "网关" Enums(hosted, alipay, wechat)
// @Success 200 {string} string "网关约定的应答"
// @Failure 401 {object} response.Response
// @Failure 429 {object} response.Response
// @Router /payments/callback/{gateway} [post]
func (h *PaymentHandler) Callback(c *gin.Context) {
	h.handleCallback(c, c.Param("gateway"))
}

// HostedCallback 托管收银台默认回调地址
// @Summary 托管收银台回调
// @Tags Payment
// @Accept json
// @Success 200 {string} string "{\"status\":\"OK\"}"
// @Router / [post]
func (h *PaymentHandler) HostedCallback(c *gin.Context) {
	h.handleCallback(c, model.MethodHosted)
}

func (h *PaymentHandler) handleCallback(c *gin.Context, gatewayName string) {
	gw, err := h.gateways.Get(gatewayName)
	if err != nil {
		response.FromError(c, err)
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, "unreadable callback body")
		return
	}

	_, err = h.reconciler.HandleCallback(c.Request.Context(), gatewayName, strategy.RawCallback{
		Body:     body,
		Header:   c.Request.Header.Clone(),
		RemoteIP: c.ClientIP(),
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			// 让网关稍后重试
			writeAck(c, gw.Ack(false))
			return
		}
		response.FromError(c, err)
		return
	}
	writeAck(c, gw.Ack(true))
}

func writeAck(c *gin.Context, ack strategy.AckResponse) {
	c.Data(ack.Status, ack.ContentType, ack.Body)
}

// Initiate 为订单发起支付
// @Summary 发起支付
// @Tags Payment
// @Accept json
// @Produce json
// @Param id path string true "订单ID"
// @Param input body service.InitiateInput true "支付方式"
// @Success 200 {object} response.Response{data=service.InitiationOutcome}
// @Failure 409 {object} response.Response
// @Failure 504 {object} response.Response{data=service.InitiationOutcome} "网关超时，支付记录保持 pending"
// @Router /orders/{id}/payments [post]
func (h *PaymentHandler) Initiate(c *gin.Context) {
	var input service.InitiateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	userID, _ := middleware.CurrentUserID(c)
	viewer := service.Viewer{UserID: userID, Admin: middleware.IsAdmin(c)}

	out, err := h.service.Initiate(c.Request.Context(), c.Param("id"), input, viewer)
	if err != nil {
		if out != nil && out.Payment != nil {
			httpCode, errCode := response.Status(err)
			msg := err.Error()
			if apperr.KindOf(err) == apperr.KindInternal {
				msg = "internal server error"
			}
			response.ErrorWithData(c, httpCode, errCode, msg, out)
			return
		}
		response.FromError(c, err)
		return
	}
	response.Success(c, out)
}

// GetPayment 支付记录详情
// @Summary 支付记录详情
// @Tags Admin
// @Produce json
// @Param id path string true "支付ID"
// @Success 200 {object} response.Response{data=model.Payment}
// @Router /admin/payments/{id} [get]
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	p, err := h.service.GetPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, p)
}

// Query 主动向网关查询并应用结果
// @Summary 查询网关交易状态
// @Tags Admin
// @Produce json
// @Param id path string true "支付ID"
// @Success 200 {object} response.Response{data=service.Outcome}
// @Router /admin/payments/{id}/query [post]
func (h *PaymentHandler) Query(c *gin.Context) {
	out, err := h.reconciler.QueryAndApply(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, out)
}

// Settle 人工结算
// @Summary 人工结算支付
// @Tags Admin
// @Accept json
// @Produce json
// @Param id path string true "支付ID"
// @Param input body SettleInput true "结算结果"
// @Success 200 {object} response.Response{data=service.Outcome}
// @Failure 409 {object} response.Response{data=service.Outcome} "已落库但存在差异"
// @Router /admin/payments/{id}/settle [post]
func (h *PaymentHandler) Settle(c *gin.Context) {
	var input SettleInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	actor, _ := middleware.CurrentUserID(c)
	out, err := h.reconciler.Settle(c.Request.Context(), c.Param("id"), input.Status, actor, input.Reason)
	if err != nil {
		response.FromError(c, err)
		return
	}
	if derr := out.Err(); derr != nil {
		httpCode, errCode := response.Status(derr)
		response.ErrorWithData(c, httpCode, errCode, derr.Error(), out)
		return
	}
	response.Success(c, out)
}

// ListDiscrepancies 差异记录列表，默认只看未处理
// @Summary 差异记录列表
// @Tags Admin
// @Produce json
// @Param page query int false "页码"
// @Param limit query int false "每页数量"
// @Param all query bool false "包含已处理"
// @Success 200 {object} response.Response{data=utils.PageResult}
// @Router /admin/discrepancies [get]
func (h *PaymentHandler) ListDiscrepancies(c *gin.Context) {
	var q ListDiscrepanciesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}
	result, err := h.service.ListDiscrepancies(c.Request.Context(), !q.All, q.Pagination)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// ResolveDiscrepancy 标记差异已处理
// @Summary 处理差异记录
// @Tags Admin
// @Accept json
// @Produce json
// @Param id path string true "差异ID"
// @Param input body ResolveInput true "处理说明"
// @Success 200 {object} response.Response{data=model.Discrepancy}
// @Router /admin/discrepancies/{id}/resolve [post]
func (h *PaymentHandler) ResolveDiscrepancy(c *gin.Context) {
	var input ResolveInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	actor, _ := middleware.CurrentUserID(c)
	d, err := h.service.ResolveDiscrepancy(c.Request.Context(), c.Param("id"), actor, input.Note)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, d)
}
