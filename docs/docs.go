// Package docs swagger 文档，由 swag init 根据 handler 注释生成
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/": {
            "post": {
                "tags": ["Payment"],
                "summary": "托管收银台回调",
                "responses": {"200": {"description": "{\"status\":\"OK\"}"}}
            }
        },
        "/auth/login": {
            "post": {
                "tags": ["User"],
                "summary": "手机号验证码登录",
                "responses": {"200": {"description": "OK"}, "401": {"description": "Unauthorized"}, "429": {"description": "Too Many Requests"}}
            }
        },
        "/auth/otp": {
            "post": {
                "tags": ["User"],
                "summary": "发送验证码",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/users/me": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["User"],
                "summary": "当前用户",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/products": {
            "get": {
                "tags": ["Catalog"],
                "summary": "商品列表",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/products/{id}": {
            "get": {
                "tags": ["Catalog"],
                "summary": "商品详情",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            }
        },
        "/orders": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Order"],
                "summary": "我的订单",
                "responses": {"200": {"description": "OK"}}
            },
            "post": {
                "tags": ["Order"],
                "summary": "创建订单",
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}
            }
        },
        "/orders/{id}": {
            "get": {
                "tags": ["Order"],
                "summary": "订单详情",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            }
        },
        "/orders/{id}/payment-status": {
            "get": {
                "tags": ["Order"],
                "summary": "订单支付状态",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/orders/{id}/payments": {
            "post": {
                "tags": ["Payment"],
                "summary": "发起支付",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict"}, "504": {"description": "网关超时，支付记录保持 pending"}}
            }
        },
        "/payments/callback/{gateway}": {
            "post": {
                "tags": ["Payment"],
                "summary": "支付回调",
                "parameters": [{"enum": ["hosted", "alipay", "wechat"], "type": "string", "name": "gateway", "in": "path", "required": true}],
                "responses": {"200": {"description": "网关约定的应答"}, "401": {"description": "Unauthorized"}, "429": {"description": "Too Many Requests"}}
            }
        },
        "/admin/orders": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Admin"],
                "summary": "订单列表",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/admin/orders/{id}/status": {
            "put": {
                "security": [{"BearerAuth": []}],
                "tags": ["Admin"],
                "summary": "修改订单状态",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict"}}
            }
        },
        "/admin/products": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Admin"],
                "summary": "创建商品",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/admin/products/{id}/stock": {
            "put": {
                "security": [{"BearerAuth": []}],
                "tags": ["Admin"],
                "summary": "设置库存",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/admin/payments/{id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Admin"],
                "summary": "支付记录详情",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/admin/payments/{id}/query": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Admin"],
                "summary": "查询网关交易状态",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/admin/payments/{id}/settle": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Admin"],
                "summary": "人工结算支付",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "409": {"description": "已落库但存在差异"}}
            }
        },
        "/admin/discrepancies": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Admin"],
                "summary": "差异记录列表",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/admin/discrepancies/{id}/resolve": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Admin"],
                "summary": "处理差异记录",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Storefront API",
	Description:      "订单与支付对账服务",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
