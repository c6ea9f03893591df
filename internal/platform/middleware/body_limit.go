package middleware

import (
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

const codePayloadTooLarge = "REQUEST_PayloadTooLarge"

// BodyLimit rejects request bodies larger than maxBytes with 413. A declared
// Content-Length over the limit fails before the handler runs; otherwise the
// body is wrapped so reading past the limit fails.
func BodyLimit(maxBytes int64) echo.MiddlewareFunc {
	tooLarge := abort(http.StatusRequestEntityTooLarge, codePayloadTooLarge,
		fmt.Sprintf("request body exceeds %d bytes", maxBytes))

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}
			if req.ContentLength > maxBytes {
				return tooLarge
			}
			req.Body = &cappedBody{ReadCloser: req.Body, left: maxBytes, err: tooLarge}
			return next(c)
		}
	}
}

type cappedBody struct {
	io.ReadCloser
	left int64
	err  error
	over bool
}

func (b *cappedBody) Read(p []byte) (int, error) {
	if b.over {
		return 0, b.err
	}
	// Allow one byte past the limit so an exact-size body still reads EOF.
	if int64(len(p)) > b.left+1 {
		p = p[:b.left+1]
	}
	n, err := b.ReadCloser.Read(p)
	b.left -= int64(n)
	if b.left < 0 {
		b.over = true
		return 0, b.err
	}
	return n, err
}
