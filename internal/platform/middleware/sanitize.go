package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// maxHeaderValueSize is the maximum allowed size for any single header value.
const maxHeaderValueSize = 8192 // 8KB

// Sanitize blocks requests that are malformed at the transport level: path
// traversal, null bytes, header injection, oversized headers. Content-level
// pattern scanning is the security pipeline's job and is log-only; this
// middleware rejects only what can never be a legitimate hospital request.
func Sanitize() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			rawPath := req.URL.RawPath
			if rawPath == "" {
				rawPath = path
			}

			if containsPathTraversal(path) || containsPathTraversal(rawPath) {
				return reject(c, "path traversal detected")
			}
			if containsNullByte(path) || containsNullByte(rawPath) {
				return reject(c, "null byte in request path")
			}

			for name, values := range req.Header {
				for _, v := range values {
					if len(v) > maxHeaderValueSize {
						return reject(c, "header value exceeds maximum size: "+name)
					}
					if strings.ContainsAny(v, "\r\n") {
						return reject(c, "header injection detected: "+name)
					}
				}
			}

			for key, values := range req.URL.Query() {
				if containsNullByte(key) {
					return reject(c, "null byte in query parameter")
				}
				for _, v := range values {
					if containsNullByte(v) {
						return reject(c, "null byte in query parameter")
					}
				}
			}

			return next(c)
		}
	}
}

// containsPathTraversal checks for traversal sequences in raw and
// percent-encoded forms.
func containsPathTraversal(s string) bool {
	if strings.Contains(s, "..") {
		return true
	}
	lower := strings.ToLower(s)
	return strings.Contains(lower, "%2e%2e") || strings.Contains(lower, "%252e")
}

// containsNullByte checks for null bytes in raw and percent-encoded forms.
func containsNullByte(s string) bool {
	if strings.ContainsRune(s, '\x00') {
		return true
	}
	return strings.Contains(strings.ToLower(s), "%00")
}

func reject(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, map[string]any{"message": message})
}
