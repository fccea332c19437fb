// Package mw holds the echo middleware shared across the operator HTTP
// surface, carried over from the teacher's packages/go-core/middleware.
package mw

import (
	"bytes"
	"net/http"

	"github.com/labstack/echo/v4"
)

// NullToEmptyArray rewrites JSON `null` response bodies to `[]`. Go's
// default marshaling of a nil slice produces `null`; several list
// endpoints (/search, /drugs/{id}/prices, /monitor/alerts) should return
// an empty array instead, matching what frontend/console callers expect.
//
// Only applies to successful (2xx) JSON responses with a body of exactly
// `null`.
func NullToEmptyArray() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rec := &bodyInterceptor{
				ResponseWriter: c.Response().Writer,
				buf:            &bytes.Buffer{},
			}
			c.Response().Writer = rec

			if err := next(c); err != nil {
				return err
			}

			body := rec.buf.Bytes()

			ct := c.Response().Header().Get(echo.HeaderContentType)
			isJSON := len(ct) >= 16 && ct[:16] == "application/json"
			statusOK := c.Response().Status >= 200 && c.Response().Status < 300

			if isJSON && statusOK && bytes.Equal(bytes.TrimSpace(body), []byte("null")) {
				body = []byte("[]")
				c.Response().Header().Set("Content-Length", "2")
			}

			rec.ResponseWriter.WriteHeader(c.Response().Status)
			_, writeErr := rec.ResponseWriter.Write(body)
			return writeErr
		}
	}
}

// bodyInterceptor captures the response body without writing to the client
// until NullToEmptyArray has had a chance to inspect it.
type bodyInterceptor struct {
	http.ResponseWriter
	buf *bytes.Buffer
}

func (b *bodyInterceptor) Write(data []byte) (int, error) {
	return b.buf.Write(data)
}

func (b *bodyInterceptor) WriteHeader(_ int) {
	// Suppressed — the outer middleware writes the header after inspection.
}
