// Package docs registers the OpenAPI document served under /swagger.
// Regenerate with: swag init -g cmd/server/main.go
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/ports": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Ports"],
                "summary": "List serial ports",
                "responses": {
                    "200": {"description": "Ports listed", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "500": {"description": "Port enumeration failed", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/bridge/status": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Bridge"],
                "summary": "Bridge status",
                "responses": {
                    "200": {"description": "Status retrieved", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/bridge/connect": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Bridge"],
                "summary": "Connect",
                "parameters": [
                    {"description": "Connect request", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/service.ConnectRequest"}}
                ],
                "responses": {
                    "200": {"description": "Port opened", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "400": {"description": "Invalid settings", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "404": {"description": "Profile not found", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "502": {"description": "Port could not be opened", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/bridge/disconnect": {
            "post": {
                "produces": ["application/json"],
                "tags": ["Bridge"],
                "summary": "Disconnect",
                "responses": {
                    "200": {"description": "Disconnected", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/bridge/send": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Bridge"],
                "summary": "Send",
                "parameters": [
                    {"description": "Send request", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/service.SendRequest"}}
                ],
                "responses": {
                    "202": {"description": "Input accepted", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "400": {"description": "Invalid hex input", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/bridge/lines": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Bridge"],
                "summary": "Terminal lines",
                "parameters": [
                    {"type": "integer", "default": 0, "description": "Last sequence number seen", "name": "since", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "Lines retrieved", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            },
            "delete": {
                "produces": ["application/json"],
                "tags": ["Bridge"],
                "summary": "Clear terminal lines",
                "responses": {
                    "200": {"description": "Lines cleared", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/settings/defaults": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Settings"],
                "summary": "Default settings",
                "responses": {
                    "200": {"description": "Defaults retrieved", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/settings/profiles": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Settings"],
                "summary": "List settings profiles",
                "responses": {
                    "200": {"description": "Profiles retrieved", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/settings/profiles/{name}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Settings"],
                "summary": "Get settings profile",
                "parameters": [
                    {"type": "string", "description": "Profile name", "name": "name", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "Profile retrieved", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "404": {"description": "Profile not found", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            },
            "put": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Settings"],
                "summary": "Save settings profile",
                "parameters": [
                    {"type": "string", "description": "Profile name", "name": "name", "in": "path", "required": true},
                    {"description": "Settings", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/model.Settings"}}
                ],
                "responses": {
                    "200": {"description": "Profile saved", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "400": {"description": "Invalid settings", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            },
            "delete": {
                "produces": ["application/json"],
                "tags": ["Settings"],
                "summary": "Delete settings profile",
                "parameters": [
                    {"type": "string", "description": "Profile name", "name": "name", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "Profile deleted", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "404": {"description": "Profile not found", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/sessions": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Sessions"],
                "summary": "Session history",
                "parameters": [
                    {"type": "integer", "default": 50, "description": "Maximum records", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "Sessions retrieved", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        }
    },
    "definitions": {
        "model.Settings": {
            "type": "object",
            "properties": {
                "baud_rate": {"type": "integer", "example": 115200},
                "data_bits": {"type": "integer", "example": 8},
                "stop_bits": {"type": "integer", "example": 1},
                "parity": {"type": "string", "enum": ["none", "even", "odd"]},
                "quiet_period_seconds": {"type": "integer", "example": 2},
                "charset": {"type": "string", "example": "UTF-8"},
                "display_mode": {"type": "string", "enum": ["text", "hex"]},
                "input_mode": {"type": "string", "enum": ["text", "hex"]},
                "newline": {"type": "string", "enum": ["CR", "LF", "CRLF", "NONE"]},
                "max_lines": {"type": "integer", "example": 1000},
                "max_line_bytes": {"type": "integer", "example": 4096},
                "local_echo": {"type": "boolean"},
                "announce_disconnect": {"type": "boolean"}
            }
        },
        "service.ConnectRequest": {
            "type": "object",
            "properties": {
                "port": {"type": "string", "example": "/dev/ttyUSB0"},
                "profile": {"type": "string"},
                "settings": {"$ref": "#/definitions/model.Settings"}
            }
        },
        "service.SendRequest": {
            "type": "object",
            "properties": {
                "text": {"type": "string", "example": "AT"},
                "mode": {"type": "string", "enum": ["text", "hex"]}
            }
        },
        "utils.APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "details": {"type": "string"}
            }
        },
        "utils.APIResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "message": {"type": "string"},
                "data": {},
                "error": {"$ref": "#/definitions/utils.APIError"},
                "timestamp": {"type": "string"},
                "request_id": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0.0",
	Host:             "localhost:8085",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Serial Bridge API",
	Description:      "Host-side bridge between a USB serial device and terminal clients",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
