package authcore

import "context"

type clientOriginContextKey struct{}
type userAgentContextKey struct{}
type requestPathContextKey struct{}

// WithClientOrigin attaches the caller's network origin (usually the
// remote IP) to ctx. The Engine uses it for rate limiting, token binding,
// and the security log. Absent origin means a background caller: binding
// and rate limiting are skipped for it.
func WithClientOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, clientOriginContextKey{}, origin)
}

// WithUserAgent attaches the raw User-Agent string to ctx. It is the
// input to device fingerprinting.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithRequestPath attaches the request path to ctx so the rate limiter
// can apply per-endpoint budgets. Flows that are not given a path fall
// back to their canonical one.
func WithRequestPath(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, requestPathContextKey{}, path)
}

func clientOriginFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	origin, _ := ctx.Value(clientOriginContextKey{}).(string)
	return origin
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	userAgent, _ := ctx.Value(userAgentContextKey{}).(string)
	return userAgent
}

func requestPathFromContext(ctx context.Context, fallback string) string {
	if ctx == nil {
		return fallback
	}

	path, _ := ctx.Value(requestPathContextKey{}).(string)
	if path == "" {
		return fallback
	}
	return path
}
