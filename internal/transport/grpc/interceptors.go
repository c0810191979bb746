package grpc

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/pribylovaa/go-news-crawler/internal/pkg/log"
	"github.com/pribylovaa/go-news-crawler/internal/service"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const mdRequestID = "x-request-id"

var errInternal = errors.New("internal")

// rpcName — короткое имя метода: "/crawler.v1.Crawler/Cleanup" -> "Cleanup".
func rpcName(fullMethod string) string {
	return path.Base(fullMethod)
}

// Logging кладёт логгер вызова (request_id, rpc, peer) и набор аннотаций в
// контекст и пишет одну строку grpc_request с кодом, длительностью и
// аннотациями обработчика. request_id возвращается клиенту в заголовке.
func Logging(base *slog.Logger) grpc.UnaryServerInterceptor {
	if base == nil {
		base = slog.Default()
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()

		var rid string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get(mdRequestID); len(v) > 0 && v[0] != "" {
				rid = v[0]
			}
		}
		if rid == "" {
			rid = uuid.NewString()
		}
		// Вне сервера (прямой вызов интерсептора) заголовок некуда отправить.
		_ = grpc.SetHeader(ctx, metadata.Pairs(mdRequestID, rid))

		peerStr := "-"
		if p, ok := peer.FromContext(ctx); ok && p != nil && p.Addr != nil {
			peerStr = p.Addr.String()
		}

		l := base.With(slog.String("request_id", rid))
		ctx, notes := log.WithAnnotations(log.Into(ctx, l))

		resp, err := handler(ctx, req)

		code := status.Code(err)
		attrs := append([]slog.Attr{
			slog.String("rpc", rpcName(info.FullMethod)),
			slog.String("peer", peerStr),
			slog.String("code", code.String()),
			slog.Duration("dur", time.Since(start)),
		}, notes.Attrs()...)

		level := slog.LevelInfo
		if code == codes.Internal || code == codes.Unknown {
			level = slog.LevelError
		}
		l.LogAttrs(ctx, level, "grpc_request", attrs...)

		return resp, err
	}
}

// Recover отвечает codes.Internal на панику обработчика; стек остаётся в логе.
// Стоит внутри Logging, чтобы строка вызова получила код Internal.
func Recover() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.From(ctx).Error("grpc_panic_recovered",
					slog.String("rpc", rpcName(info.FullMethod)),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)

				resp, err = nil, toStatus(errInternal)
			}
		}()

		return handler(ctx, req)
	}
}

// toStatus отображает доменные ошибки сервиса в gRPC-статус с безопасным сообщением.
// Ошибки, уже несущие статус, проходят без изменений.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(interface{ GRPCStatus() *status.Status }); ok {
		return err
	}

	switch {
	case errors.Is(err, service.ErrRunInProgress):
		return status.Error(codes.Aborted, "run in progress")
	case errors.Is(err, service.ErrNoPipeline):
		return status.Error(codes.Unavailable, "pipeline is not configured")
	case errors.Is(err, service.ErrBackupRequired):
		return status.Error(codes.FailedPrecondition, "backup required")
	case errors.Is(err, errNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, errBadRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

// Errors переводит ошибки обработчиков в gRPC-статусы (см. toStatus).
func Errors() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if err != nil {
			return nil, toStatus(err)
		}
		return resp, nil
	}
}

// Timeouts ограничивает время обработки: per — таймауты по полному имени
// метода, def — для остальных. Значение <= 0 — без ограничения;
// более ранний дедлайн клиента сохраняется.
func Timeouts(def time.Duration, per map[string]time.Duration) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		d := def
		if v, ok := per[info.FullMethod]; ok {
			d = v
		}
		if d <= 0 {
			return handler(ctx, req)
		}

		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		return handler(ctx, req)
	}
}

// RejectWhileRunning отклоняет перечисленные методы с ErrRunInProgress, пока идёт проход.
func RejectWhileRunning(running func() bool, methods ...string) grpc.UnaryServerInterceptor {
	guarded := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		guarded[m] = struct{}{}
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := guarded[info.FullMethod]; ok && running != nil && running() {
			log.Annotate(ctx, slog.Bool("rejected_while_running", true))
			return nil, service.ErrRunInProgress
		}

		return handler(ctx, req)
	}
}
