package audit

import "context"

type requestIDKey struct{}
type clientInfoKey struct{}

// ClientInfo identifies where a request came from
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

func WithClientInfo(ctx context.Context, info ClientInfo) context.Context {
	return context.WithValue(ctx, clientInfoKey{}, info)
}

func ClientInfoFromContext(ctx context.Context) ClientInfo {
	if info, ok := ctx.Value(clientInfoKey{}).(ClientInfo); ok {
		return info
	}
	return ClientInfo{}
}
