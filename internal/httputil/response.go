// Package httputil holds the JSON response helpers shared by fasthttp
// handlers.
package httputil

import (
	"encoding/json"

	"github.com/valyala/fasthttp"

	"github.com/banshee-data/clipstitch/internal/monitoring"
)

// WriteJSONError writes a JSON error response with the given status code and message.
func WriteJSONError(c *fasthttp.RequestCtx, status int, msg string) {
	WriteJSON(c, status, map[string]string{"error": msg})
}

// WriteJSON writes a JSON response with the given status code and data.
func WriteJSON(c *fasthttp.RequestCtx, status int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		monitoring.Logf("failed to encode json response: %v", err)
		c.Error(`{"error":"encode failed"}`, fasthttp.StatusInternalServerError)
		c.SetContentType("application/json")
		return
	}
	c.SetContentType("application/json")
	c.SetStatusCode(status)
	c.SetBody(body)
}

// WriteJSONOK writes a successful JSON response (200 OK).
func WriteJSONOK(c *fasthttp.RequestCtx, data interface{}) {
	WriteJSON(c, fasthttp.StatusOK, data)
}

// MethodNotAllowed writes a 405 Method Not Allowed response.
func MethodNotAllowed(c *fasthttp.RequestCtx) {
	WriteJSONError(c, fasthttp.StatusMethodNotAllowed, "method not allowed")
}

// BadRequest writes a 400 Bad Request response with the given message.
func BadRequest(c *fasthttp.RequestCtx, msg string) {
	WriteJSONError(c, fasthttp.StatusBadRequest, msg)
}

// InternalServerError writes a 500 Internal Server Error response.
func InternalServerError(c *fasthttp.RequestCtx, msg string) {
	WriteJSONError(c, fasthttp.StatusInternalServerError, msg)
}

// NotFound writes a 404 Not Found response.
func NotFound(c *fasthttp.RequestCtx, msg string) {
	WriteJSONError(c, fasthttp.StatusNotFound, msg)
}
