package middleware

import (
	"net/http"

	"github.com/kbukum/fanout/util"
)

const defaultMaxBodySize = 1 << 20

// BodySizeLimit restricts request bodies to maxSize ("1MB", "512KB").
// Reads past the limit fail, which JSON binding reports as a bad request.
func BodySizeLimit(maxSize string) Middleware {
	size := util.SizeOr(maxSize, defaultMaxBodySize)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, size)
			}
			next.ServeHTTP(w, r)
		})
	}
}
