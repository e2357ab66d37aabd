package engine

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/xela07ax/trustgate/internal/infra/auth"
)

// UnaryAuthInterceptor проверяет JWT в метаданных gRPC вызова и права на метод.
func UnaryAuthInterceptor(v auth.TokenValidator, logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		// 1. Извлекаем метаданные из контекста
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Errorf(codes.Unauthenticated, "missing metadata")
		}

		// 2. Ищем токен (в gRPC заголовки в нижнем регистре)
		tokens := md.Get("authorization")
		if len(tokens) == 0 {
			return nil, status.Errorf(codes.Unauthenticated, "missing access token")
		}

		claims, err := v.VerifyToken(tokens[0])
		if err != nil {
			logger.Warn("grpc auth failure", zap.String("method", info.FullMethod), zap.Error(err))
			return nil, status.Errorf(codes.Unauthenticated, "invalid access token")
		}

		// 3. Права на конкретный метод
		if perm, ok := grpcPermissions[info.FullMethod]; ok && !claims.Has(perm) {
			return nil, status.Errorf(codes.PermissionDenied, "permission %s required", perm)
		}

		// 4. Обогащаем контекст: claims + trace id
		ctx = auth.WithClaims(ctx, claims)
		traceID := emptyTraceID
		if ids := md.Get("x-trace-id"); len(ids) > 0 && ids[0] != "" {
			traceID = ids[0]
		}
		return handler(WithTraceID(ctx, traceID), req)
	}
}
