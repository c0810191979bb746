package grpc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pribylovaa/go-news-crawler/internal/models"
	"github.com/pribylovaa/go-news-crawler/internal/pkg/log"
	"github.com/pribylovaa/go-news-crawler/internal/service"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

// Файл unit-тестов для gRPC-слоя: crawler.v1.Crawler и health через bufconn, интерсепторы.

// capHandler — минимальный slog.Handler для захвата записей и атрибутов.
type capHandler struct {
	mu      sync.Mutex
	base    []slog.Attr
	lastMsg string
	lastLvl slog.Level
	attrs   map[string]any
	count   map[string]int
}

func (h *capHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *capHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[string]any, len(h.base)+8)
	for _, a := range h.base {
		out[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		out[a.Key] = a.Value.Any()
		return true
	})
	if h.count == nil {
		h.count = make(map[string]int)
	}
	h.count[r.Message]++
	h.lastMsg = r.Message
	h.lastLvl = r.Level
	h.attrs = out
	return nil
}

func (h *capHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.base = append(h.base, attrs...)
	return h
}

func (h *capHandler) WithGroup(string) slog.Handler { return h }

func (h *capHandler) last() (string, map[string]any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastMsg, h.attrs
}

// fakeService — управляемая реализация Service.
type fakeService struct {
	mu         sync.Mutex
	triggerErr error
	triggerID  uuid.UUID
	triggerCtx context.Context
	last       *service.RunReport
	plan       service.CleanupPlan
	deleted    int
	cleanupErr error
	dryRuns    []bool
	cleanupCtx context.Context
	running    atomic.Bool
}

func (f *fakeService) Running() bool { return f.running.Load() }

func (f *fakeService) TriggerRun(ctx context.Context) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggerCtx = ctx
	return f.triggerID, f.triggerErr
}

func (f *fakeService) LastReport() (service.RunReport, bool) {
	if f.last == nil {
		return service.RunReport{}, false
	}
	return *f.last, true
}

func (f *fakeService) CleanupDuplicates(ctx context.Context, dryRun bool) (service.CleanupPlan, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dryRuns = append(f.dryRuns, dryRun)
	f.cleanupCtx = ctx
	return f.plan, f.deleted, f.cleanupErr
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startGRPC — поднимает bufconn-gRPC-сервер и возвращает соединение.
func startGRPC(t *testing.T, s *Server) *grpc.ClientConn {
	t.Helper()

	lis := bufconn.Listen(1024 * 1024)
	go func() { _ = s.GRPC().Serve(lis) }()

	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }

	cc, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() { _ = cc.Close(); s.GRPC().Stop() })
	return cc
}

func callCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestHealth_ServingToggle — статус health следует SetServing.
func TestHealth_ServingToggle(t *testing.T) {
	t.Parallel()

	s := NewServer(&fakeService{}, Options{Logger: discardLogger(), Timeout: time.Second})
	client := healthpb.NewHealthClient(startGRPC(t, s))
	ctx := callCtx(t)

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	s.SetServing(true)

	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: CrawlerServiceName})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	_, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: "unknown"})
	require.Equal(t, codes.NotFound, status.Code(err))
}

// TestCrawler_TriggerRun — идентификатор прохода в ответе; проход получает RunContext,
// а не контекст вызова; пересечение -> Aborted.
func TestCrawler_TriggerRun(t *testing.T) {
	t.Parallel()

	type runKey struct{}
	runCtx := context.WithValue(context.Background(), runKey{}, "run")

	svc := &fakeService{triggerID: uuid.New()}
	s := NewServer(svc, Options{Logger: discardLogger(), RunContext: runCtx})
	client := NewCrawlerClient(startGRPC(t, s))

	id, err := client.TriggerRun(callCtx(t))
	require.NoError(t, err)
	require.Equal(t, svc.triggerID.String(), id)

	svc.mu.Lock()
	got := svc.triggerCtx
	svc.mu.Unlock()
	require.Equal(t, "run", got.Value(runKey{}))
	_, hasDeadline := got.Deadline()
	require.False(t, hasDeadline)

	svc.mu.Lock()
	svc.triggerErr = service.ErrRunInProgress
	svc.mu.Unlock()
	_, err = client.TriggerRun(callCtx(t))
	require.Equal(t, codes.Aborted, status.Code(err))
}

// TestCrawler_LastReport — NotFound до первого прохода, затем поля отчёта.
func TestCrawler_LastReport(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	client := NewCrawlerClient(startGRPC(t, NewServer(svc, Options{Logger: discardLogger()})))

	_, err := client.LastReport(callCtx(t))
	require.Equal(t, codes.NotFound, status.Code(err))

	id := uuid.New()
	svc.last = &service.RunReport{ID: id, Stop: "window", Listed: 7, Backup: "runs/x.json"}

	rep, err := client.LastReport(callCtx(t))
	require.NoError(t, err)

	m := rep.AsMap()
	require.Equal(t, id.String(), m["id"])
	require.Equal(t, "window", m["stop"])
	require.Equal(t, float64(7), m["listed"])
	require.Equal(t, "runs/x.json", m["backup"])
}

// TestCrawler_Cleanup — dry_run по умолчанию true, явный false удаляет,
// доменные ошибки переводятся в коды.
func TestCrawler_Cleanup(t *testing.T) {
	t.Parallel()

	svc := &fakeService{
		plan:    service.CleanupPlan{Scanned: 5, Groups: []models.DuplicateGroup{{}, {}}, Backup: "cleanup/y.json"},
		deleted: 2,
	}
	client := NewCrawlerClient(startGRPC(t, NewServer(svc, Options{Logger: discardLogger()})))

	out, err := client.Cleanup(callCtx(t), nil)
	require.NoError(t, err)
	m := out.AsMap()
	require.Equal(t, true, m["dry_run"])
	require.Equal(t, float64(5), m["scanned"])
	require.Equal(t, float64(2), m["groups"])
	require.Equal(t, "cleanup/y.json", m["backup"])

	no := false
	_, err = client.Cleanup(callCtx(t), &no)
	require.NoError(t, err)
	require.Equal(t, []bool{true, false}, svc.dryRuns)

	svc.cleanupErr = service.ErrBackupRequired
	_, err = client.Cleanup(callCtx(t), &no)
	require.Equal(t, codes.FailedPrecondition, status.Code(err))

	svc.cleanupErr = errors.New("mongo down")
	_, err = client.Cleanup(callCtx(t), &no)
	require.Equal(t, codes.Internal, status.Code(err))
	require.Equal(t, "internal error", status.Convert(err).Message())
}

// TestCrawler_CleanupBadDryRun — нелогическое dry_run -> InvalidArgument, сервис не вызывается.
func TestCrawler_CleanupBadDryRun(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	s := newCrawlerServer(svc, nil)

	_, err := Errors()(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: MethodCleanup},
		func(ctx context.Context, _ any) (any, error) {
			return s.Cleanup(ctx, mustStruct(t, map[string]any{"dry_run": "no"}))
		})
	require.Equal(t, codes.InvalidArgument, status.Code(err))
	require.Empty(t, svc.dryRuns)
}

// TestCrawler_CleanupRejectedWhileRunning — во время прохода Cleanup -> Aborted,
// TriggerRun и LastReport не затрагиваются.
func TestCrawler_CleanupRejectedWhileRunning(t *testing.T) {
	t.Parallel()

	svc := &fakeService{triggerID: uuid.New()}
	svc.running.Store(true)
	client := NewCrawlerClient(startGRPC(t, NewServer(svc, Options{Logger: discardLogger()})))

	_, err := client.Cleanup(callCtx(t), nil)
	require.Equal(t, codes.Aborted, status.Code(err))
	require.Empty(t, svc.dryRuns)

	_, err = client.TriggerRun(callCtx(t))
	require.NoError(t, err)
}

// TestCrawler_CleanupOwnTimeout — Cleanup получает CleanupTimeout, а не общий таймаут.
func TestCrawler_CleanupOwnTimeout(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	client := NewCrawlerClient(startGRPC(t, NewServer(svc, Options{
		Logger:         discardLogger(),
		Timeout:        time.Second,
		CleanupTimeout: time.Hour,
	})))

	// Без дедлайна клиента.
	start := time.Now()
	_, err := client.Cleanup(context.Background(), nil)
	require.NoError(t, err)

	svc.mu.Lock()
	dl, ok := svc.cleanupCtx.Deadline()
	svc.mu.Unlock()
	require.True(t, ok)
	require.WithinDuration(t, start.Add(time.Hour), dl, time.Minute)
}

// TestCrawler_RequestLine — строка grpc_request с rpc, кодом, request_id и run_id.
func TestCrawler_RequestLine(t *testing.T) {
	t.Parallel()

	h := &capHandler{}
	svc := &fakeService{triggerID: uuid.New()}
	client := NewCrawlerClient(startGRPC(t, NewServer(svc, Options{Logger: slog.New(h)})))

	ctx := metadata.AppendToOutgoingContext(callCtx(t), mdRequestID, "rid-9")
	var header metadata.MD
	_, err := client.TriggerRun(ctx, grpc.Header(&header))
	require.NoError(t, err)
	require.Equal(t, []string{"rid-9"}, header.Get(mdRequestID))

	msg, attrs := h.last()
	require.Equal(t, "grpc_request", msg)
	require.Equal(t, "TriggerRun", attrs["rpc"])
	require.Equal(t, "OK", attrs["code"])
	require.Equal(t, "rid-9", attrs["request_id"])
	require.Equal(t, svc.triggerID.String(), attrs["run_id"])
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

// TestLogging_WithRequestID — request_id из metadata, peer и код в логе; логгер вызова в контексте.
func TestLogging_WithRequestID(t *testing.T) {
	t.Parallel()

	h := &capHandler{}

	md := metadata.New(map[string]string{mdRequestID: "rid-123"})
	ctx := metadata.NewIncomingContext(context.Background(), md)
	ctx = peer.NewContext(ctx, &peer.Peer{
		Addr: &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 50053},
	})

	info := &grpc.UnaryServerInfo{FullMethod: MethodLastReport}

	resp, err := Logging(slog.New(h))(ctx, "req", info, func(ctx context.Context, req any) (any, error) {
		log.From(ctx).Info("handler")
		log.Annotate(ctx, slog.String("run_id", "r-1"))
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", resp)

	require.Equal(t, 1, h.count["handler"])
	msg, attrs := h.last()
	require.Equal(t, "grpc_request", msg)
	require.Equal(t, slog.LevelInfo, h.lastLvl)
	require.Equal(t, "rid-123", attrs["request_id"])
	require.Equal(t, "LastReport", attrs["rpc"])
	require.Equal(t, "127.0.0.1:50053", attrs["peer"])
	require.Equal(t, "OK", attrs["code"])
	require.Equal(t, "r-1", attrs["run_id"])
}

// TestLogging_GeneratesUUID — без x-request-id генерируется UUID, peer "-", Internal пишется как ERROR.
func TestLogging_GeneratesUUID(t *testing.T) {
	t.Parallel()

	h := &capHandler{}

	_, err := Logging(slog.New(h))(context.Background(), "req", &grpc.UnaryServerInfo{FullMethod: "/x/Y"},
		func(ctx context.Context, req any) (any, error) {
			return nil, status.Error(codes.Internal, "boom")
		})
	require.Error(t, err)

	_, attrs := h.last()
	require.Equal(t, "Internal", attrs["code"])
	require.Equal(t, "-", attrs["peer"])
	require.Equal(t, slog.LevelError, h.lastLvl)

	rid, _ := attrs["request_id"].(string)
	_, parseErr := uuid.Parse(rid)
	require.NoError(t, parseErr)
}

// TestRecover_PanicToInternal — паника -> codes.Internal и запись grpc_panic_recovered со стеком.
func TestRecover_PanicToInternal(t *testing.T) {
	t.Parallel()

	h := &capHandler{}
	ctx := log.Into(context.Background(), slog.New(h))

	resp, err := Recover()(ctx, "req", &grpc.UnaryServerInfo{FullMethod: "/x/Panic"},
		func(ctx context.Context, req any) (any, error) {
			panic("boom")
		})

	require.Nil(t, resp)
	require.Equal(t, codes.Internal, status.Code(err))

	msg, attrs := h.last()
	require.Equal(t, slog.LevelError, h.lastLvl)
	require.Equal(t, "grpc_panic_recovered", msg)
	require.Equal(t, "Panic", attrs["rpc"])

	stack, ok := attrs["stack"].(string)
	require.True(t, ok)
	require.NotEmpty(t, stack)
}

// TestToStatus — доменные ошибки в коды; готовый статус не меняется.
func TestToStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"nil", nil, codes.OK},
		{"run in progress", service.ErrRunInProgress, codes.Aborted},
		{"wrapped no pipeline", errors.Join(errors.New("x"), service.ErrNoPipeline), codes.Unavailable},
		{"backup required", service.ErrBackupRequired, codes.FailedPrecondition},
		{"not found", errNotFound, codes.NotFound},
		{"deadline", context.DeadlineExceeded, codes.DeadlineExceeded},
		{"status kept", status.Error(codes.ResourceExhausted, "slow down"), codes.ResourceExhausted},
		{"other", errors.New("disk"), codes.Internal},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, status.Code(toStatus(tt.err)))
		})
	}
}

// TestTimeouts — таймаут по методу, общий таймаут и сохранение более раннего дедлайна.
func TestTimeouts(t *testing.T) {
	t.Parallel()

	inter := Timeouts(20*time.Millisecond, map[string]time.Duration{MethodCleanup: 0})

	_, err := inter(context.Background(), "req", &grpc.UnaryServerInfo{FullMethod: MethodLastReport},
		func(ctx context.Context, req any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = inter(context.Background(), "req", &grpc.UnaryServerInfo{FullMethod: MethodCleanup},
		func(ctx context.Context, req any) (any, error) {
			_, ok := ctx.Deadline()
			require.False(t, ok)
			return "ok", nil
		})
	require.NoError(t, err)

	parent, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	pdl, _ := parent.Deadline()

	_, err = Timeouts(time.Minute, nil)(parent, "req", &grpc.UnaryServerInfo{FullMethod: MethodTriggerRun},
		func(ctx context.Context, req any) (any, error) {
			dl, ok := ctx.Deadline()
			require.True(t, ok)
			require.WithinDuration(t, pdl, dl, time.Millisecond)
			return "ok", nil
		})
	require.NoError(t, err)
}
