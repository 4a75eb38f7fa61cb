package strategy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"

	"storefront/pkg/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/wechatpay-apiv3/wechatpay-go/core"
	"github.com/wechatpay-apiv3/wechatpay-go/services/payments/app"
)

func TestClassifyWechatError(t *testing.T) {
	t.Run("Business error is a rejection", func(t *testing.T) {
		err := classifyWechatError(&core.APIError{StatusCode: http.StatusBadRequest, Code: "PARAM_ERROR", Message: "bad out_trade_no"})
		assert.ErrorIs(t, err, ErrGatewayRejected)
		assert.NotErrorIs(t, err, apperr.ErrUpstreamTimeout)
	})

	t.Run("Outcome unknown", func(t *testing.T) {
		for name, cause := range map[string]error{
			"server error":  &core.APIError{StatusCode: http.StatusInternalServerError, Code: "SYSTEM_ERROR"},
			"network error": &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection reset by peer")},
			"deadline":      context.DeadlineExceeded,
		} {
			t.Run(name, func(t *testing.T) {
				err := classifyWechatError(cause)
				assert.ErrorIs(t, err, apperr.ErrUpstreamTimeout)
				assert.NotErrorIs(t, err, ErrGatewayRejected)
			})
		}
	})
}

func TestPrepayResult(t *testing.T) {
	t.Run("Prepay id returned", func(t *testing.T) {
		res, err := prepayResult(&app.PrepayResponse{PrepayId: core.String("wx201410272009395522657a690389285100")})
		assert.NoError(t, err)
		assert.Equal(t, "wx201410272009395522657a690389285100", res.PayParams)
	})

	t.Run("Missing prepay id", func(t *testing.T) {
		for name, resp := range map[string]*app.PrepayResponse{
			"nil response": nil,
			"nil id":       {},
			"empty id":     {PrepayId: core.String("")},
		} {
			t.Run(name, func(t *testing.T) {
				_, err := prepayResult(resp)
				assert.ErrorIs(t, err, apperr.ErrUpstreamTimeout)
			})
		}
	})
}
