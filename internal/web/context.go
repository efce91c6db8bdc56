package web

import (
	"context"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/docmapper/internal/core"
)

// withClient records the caller on ctx so the load record names it.
// RemoteAddr has already been resolved by TrustedRealIP and the request id
// set by chi's RequestID middleware.
func withClient(ctx context.Context, r *http.Request) context.Context {
	return core.ContextWithClient(ctx, core.Client{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
		RequestID: chimw.GetReqID(r.Context()),
	})
}
