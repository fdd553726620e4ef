package utils

import (
	"context"

	"github.com/mmdatafocus/pathway_backend/appctx"
)

var (
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
	ContextKeyClientIP      = appctx.ContextKeyClientIP
)

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func GetClientIPFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyClientIP)
}

func SetClientIPInContext(ctx context.Context, ip string) context.Context {
	return appctx.Set(ctx, ContextKeyClientIP, ip)
}
