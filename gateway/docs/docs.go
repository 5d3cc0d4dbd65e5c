// Package docs holds the OpenAPI description of the gateway's HTTP API, served
// by gin-swagger under /swagger/. Keep it in step with gateway.SetupRoutes.
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
    "securityDefinitions": {
        "UserID": {"type": "apiKey", "name": "X-User-Id", "in": "header"},
        "UserRole": {"type": "apiKey", "name": "X-User-Role", "in": "header"},
        "CallbackToken": {"type": "apiKey", "name": "X-Callback-Token", "in": "header"}
    },
    "paths": {
        "/cart": {
            "get": {
                "tags": ["cart"],
                "summary": "Current cart of the caller",
                "security": [{"UserID": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/Cart"}},
                    "401": {"description": "No identity", "schema": {"$ref": "#/definitions/Error"}}
                }
            },
            "delete": {
                "tags": ["cart"],
                "summary": "Empty the cart",
                "security": [{"UserID": []}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/Cart"}}}
            }
        },
        "/cart/stream": {
            "get": {
                "tags": ["cart"],
                "summary": "Server-sent events: the cart now, then a cart event per change and a ping while idle",
                "produces": ["text/event-stream"],
                "security": [{"UserID": []}],
                "responses": {"200": {"description": "Event stream"}}
            }
        },
        "/cart/items": {
            "post": {
                "tags": ["cart"],
                "summary": "Add units of a product; seller and price come from the catalog",
                "security": [{"UserID": []}],
                "parameters": [{"in": "body", "name": "item", "required": true, "schema": {"$ref": "#/definitions/AddItem"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/Cart"}},
                    "400": {"description": "Bad input", "schema": {"$ref": "#/definitions/Error"}},
                    "422": {"description": "Cart limit exceeded", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        },
        "/cart/items/{productId}": {
            "put": {
                "tags": ["cart"],
                "summary": "Set the quantity of a line; zero removes it",
                "security": [{"UserID": []}],
                "parameters": [
                    {"in": "path", "name": "productId", "type": "string", "required": true},
                    {"in": "body", "name": "quantity", "required": true, "schema": {"$ref": "#/definitions/UpdateItem"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/Cart"}},
                    "404": {"description": "No such line", "schema": {"$ref": "#/definitions/Error"}},
                    "422": {"description": "Cart limit exceeded", "schema": {"$ref": "#/definitions/Error"}}
                }
            },
            "delete": {
                "tags": ["cart"],
                "summary": "Remove a line",
                "security": [{"UserID": []}],
                "parameters": [{"in": "path", "name": "productId", "type": "string", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/Cart"}}}
            }
        },
        "/orders": {
            "post": {
                "tags": ["orders"],
                "summary": "Place an order from the cart, optionally limited to product_ids",
                "security": [{"UserID": []}],
                "parameters": [{"in": "body", "name": "checkout", "required": true, "schema": {"$ref": "#/definitions/Checkout"}}],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/Order"}},
                    "409": {"description": "Cart changed during checkout", "schema": {"$ref": "#/definitions/Error"}},
                    "422": {"description": "Seller unresolved", "schema": {"$ref": "#/definitions/Error"}}
                }
            },
            "get": {
                "tags": ["orders"],
                "summary": "List orders visible to the caller",
                "security": [{"UserID": []}, {"UserRole": []}],
                "parameters": [
                    {"in": "query", "name": "status", "type": "string"},
                    {"in": "query", "name": "buyer_id", "type": "string"},
                    {"in": "query", "name": "seller_id", "type": "string"},
                    {"in": "query", "name": "page", "type": "integer"},
                    {"in": "query", "name": "page_size", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/OrderPage"}},
                    "400": {"description": "Unknown status filter", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        },
        "/orders/buy-now": {
            "post": {
                "tags": ["orders"],
                "summary": "Place an order for the given items without touching the cart",
                "security": [{"UserID": []}],
                "parameters": [{"in": "body", "name": "order", "required": true, "schema": {"$ref": "#/definitions/BuyNow"}}],
                "responses": {"201": {"description": "Created", "schema": {"$ref": "#/definitions/Order"}}}
            }
        },
        "/orders/{id}": {
            "get": {
                "tags": ["orders"],
                "summary": "One order, if the caller may see it",
                "security": [{"UserID": []}, {"UserRole": []}],
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/Order"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        },
        "/orders/{id}/history": {
            "get": {
                "tags": ["orders"],
                "summary": "Audit trail of an order, newest first",
                "security": [{"UserID": []}, {"UserRole": []}],
                "parameters": [
                    {"in": "path", "name": "id", "type": "string", "required": true},
                    {"in": "query", "name": "limit", "type": "integer"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/History"}}}
            }
        },
        "/orders/{id}/status": {
            "post": {
                "tags": ["orders"],
                "summary": "Advance an order to its next delivery status",
                "security": [{"UserID": []}, {"UserRole": []}],
                "parameters": [
                    {"in": "path", "name": "id", "type": "string", "required": true},
                    {"in": "body", "name": "status", "required": true, "schema": {"$ref": "#/definitions/StatusChange"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/Order"}},
                    "409": {"description": "Illegal transition", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        },
        "/orders/{id}/cancel": {
            "post": {
                "tags": ["orders"],
                "summary": "Cancel an order before delivery",
                "security": [{"UserID": []}, {"UserRole": []}],
                "parameters": [
                    {"in": "path", "name": "id", "type": "string", "required": true},
                    {"in": "body", "name": "reason", "schema": {"$ref": "#/definitions/Cancel"}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/Order"}}}
            }
        },
        "/orders/{id}/received": {
            "post": {
                "tags": ["orders"],
                "summary": "Buyer confirms receipt of a delivered order",
                "security": [{"UserID": []}],
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/Order"}}}
            }
        },
        "/payments/callback": {
            "post": {
                "tags": ["payments"],
                "summary": "Payment provider reports the outcome of a payment",
                "security": [{"CallbackToken": []}],
                "parameters": [{"in": "body", "name": "payment", "required": true, "schema": {"$ref": "#/definitions/PaymentCallback"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/Order"}},
                    "401": {"description": "Missing or wrong token, or no token configured", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        },
        "/fees/quote": {
            "get": {
                "tags": ["fees"],
                "summary": "Payment fee for an amount and method",
                "parameters": [
                    {"in": "query", "name": "method", "type": "string", "required": true},
                    {"in": "query", "name": "amount", "type": "string", "required": true}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/FeeBreakdown"}}}
            }
        }
    },
    "definitions": {
        "Error": {
            "type": "object",
            "properties": {"error": {"type": "string"}, "code": {"type": "string"}}
        },
        "CartLine": {
            "type": "object",
            "properties": {
                "product_id": {"type": "string"},
                "catalog": {"type": "string", "enum": ["general", "preloved", "barter"]},
                "name": {"type": "string"},
                "image": {"type": "string"},
                "unit_price": {"type": "string"},
                "quantity": {"type": "integer"},
                "seller_id": {"type": "string"},
                "added_at": {"type": "string", "format": "date-time"}
            }
        },
        "Cart": {
            "type": "object",
            "properties": {
                "user_id": {"type": "string"},
                "version": {"type": "integer"},
                "lines": {"type": "array", "items": {"$ref": "#/definitions/CartLine"}},
                "total_quantity": {"type": "integer"},
                "max_quantity": {"type": "integer"},
                "subtotal": {"type": "string"},
                "updated_at": {"type": "string", "format": "date-time"}
            }
        },
        "AddItem": {
            "type": "object",
            "required": ["product_id"],
            "properties": {
                "product_id": {"type": "string"},
                "catalog": {"type": "string"},
                "name": {"type": "string"},
                "image": {"type": "string"},
                "unit_price": {"type": "string"},
                "quantity": {"type": "integer", "default": 1},
                "seller_id": {"type": "string"}
            }
        },
        "UpdateItem": {
            "type": "object",
            "required": ["quantity"],
            "properties": {"quantity": {"type": "integer"}}
        },
        "Address": {
            "type": "object",
            "properties": {
                "recipient_name": {"type": "string"},
                "phone": {"type": "string"},
                "line1": {"type": "string"},
                "line2": {"type": "string"},
                "barangay": {"type": "string"},
                "city": {"type": "string"},
                "province": {"type": "string"},
                "postal_code": {"type": "string"}
            }
        },
        "Checkout": {
            "type": "object",
            "required": ["payment_method"],
            "properties": {
                "product_ids": {"type": "array", "items": {"type": "string"}},
                "delivery_address": {"$ref": "#/definitions/Address"},
                "payment_method": {"type": "string"},
                "notes": {"type": "string"}
            }
        },
        "BuyNow": {
            "type": "object",
            "required": ["payment_method"],
            "properties": {
                "items": {"type": "array", "items": {"$ref": "#/definitions/AddItem"}},
                "delivery_address": {"$ref": "#/definitions/Address"},
                "payment_method": {"type": "string"},
                "notes": {"type": "string"}
            }
        },
        "OrderItem": {
            "type": "object",
            "properties": {
                "product_id": {"type": "string"},
                "catalog": {"type": "string"},
                "product_name": {"type": "string"},
                "product_image": {"type": "string"},
                "unit_price": {"type": "string"},
                "quantity": {"type": "integer"},
                "line_total": {"type": "string"},
                "seller_id": {"type": "string"}
            }
        },
        "Order": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "order_number": {"type": "string"},
                "buyer_id": {"type": "string"},
                "seller_id": {"type": "string"},
                "status": {"type": "string"},
                "payment_status": {"type": "string"},
                "payment_method": {"type": "string"},
                "payment_reference": {"type": "string"},
                "subtotal": {"type": "string"},
                "delivery_fee": {"type": "string"},
                "payment_fee": {"type": "string"},
                "total": {"type": "string"},
                "delivery_address": {"$ref": "#/definitions/Address"},
                "items": {"type": "array", "items": {"$ref": "#/definitions/OrderItem"}}
            }
        },
        "OrderPage": {
            "type": "object",
            "properties": {
                "orders": {"type": "array", "items": {"$ref": "#/definitions/Order"}},
                "total": {"type": "integer"},
                "page": {"type": "integer"},
                "page_size": {"type": "integer"}
            }
        },
        "History": {
            "type": "object",
            "properties": {
                "entries": {
                    "type": "array",
                    "items": {
                        "type": "object",
                        "properties": {
                            "action": {"type": "string"},
                            "entity_id": {"type": "string"},
                            "actor_id": {"type": "string"},
                            "data": {"type": "object"},
                            "at": {"type": "string", "format": "date-time"}
                        }
                    }
                }
            }
        },
        "StatusChange": {
            "type": "object",
            "required": ["status"],
            "properties": {"status": {"type": "string"}}
        },
        "Cancel": {
            "type": "object",
            "properties": {"reason": {"type": "string"}}
        },
        "PaymentCallback": {
            "type": "object",
            "required": ["order_id", "status"],
            "properties": {
                "order_id": {"type": "string"},
                "reference": {"type": "string"},
                "status": {"type": "string", "enum": ["PAID", "FAILED"]}
            }
        },
        "FeeBreakdown": {
            "type": "object",
            "properties": {
                "method": {"type": "string"},
                "gross_amount": {"type": "string"},
                "fee_rate": {"type": "string"},
                "fixed_fee": {"type": "string"},
                "computed_fee": {"type": "string"},
                "net_amount": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds the exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Marketplace API",
	Description:      "Carts, checkout and order lifecycle. Identity comes from the X-User-Id and X-User-Role headers set upstream.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
