package utils

import (
	"context"

	"bitbucket.org/mmdatafocus/recon_backend/appctx"
)

// Alias the shared context key type so existing code keeps working.
type contextKey = appctx.ContextKey

var (
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
	ContextKeyFileName      = appctx.ContextKeyFileName
	ContextKeyActor         = appctx.ContextKeyActor
)

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func GetFileNameFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyFileName)
}

func SetFileNameInContext(ctx context.Context, fileName string) context.Context {
	return appctx.Set(ctx, ContextKeyFileName, fileName)
}

func GetActorFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyActor)
}

func SetActorInContext(ctx context.Context, actor string) context.Context {
	return appctx.Set(ctx, ContextKeyActor, actor)
}
