package shared

import "context"

type sessionContextKey struct{}

type requestMetaContextKey struct{}

// RequestMeta carries client details extracted once per request.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// ContextWithRequestMeta stores request client details in context.
func ContextWithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaContextKey{}, meta)
}

// RequestMetaFromContext extracts request client details from context.
func RequestMetaFromContext(ctx context.Context) RequestMeta {
	meta, _ := ctx.Value(requestMetaContextKey{}).(RequestMeta)
	return meta
}
