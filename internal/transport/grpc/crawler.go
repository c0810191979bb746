package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pribylovaa/go-news-crawler/internal/pkg/log"
	"github.com/pribylovaa/go-news-crawler/internal/service"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// CrawlerServiceName — полное имя gRPC-сервиса управления краулером.
const CrawlerServiceName = "crawler.v1.Crawler"

const (
	MethodTriggerRun = "/" + CrawlerServiceName + "/TriggerRun"
	MethodLastReport = "/" + CrawlerServiceName + "/LastReport"
	MethodCleanup    = "/" + CrawlerServiceName + "/Cleanup"
)

var (
	errNotFound   = errors.New("not found")
	errBadRequest = errors.New("bad request")
)

// Service — операции сервиса, доступные через gRPC.
type Service interface {
	TriggerRun(ctx context.Context) (uuid.UUID, error)
	LastReport() (service.RunReport, bool)
	CleanupDuplicates(ctx context.Context, dryRun bool) (service.CleanupPlan, int, error)
	Running() bool
}

// CrawlerServer — серверная сторона crawler.v1.Crawler.
// Сообщения — well-known типы protobuf, отдельный .proto не нужен.
type CrawlerServer interface {
	// TriggerRun запускает проход в фоне и возвращает его идентификатор.
	TriggerRun(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error)
	// LastReport — отчёт последнего завершённого прохода (поля как в JSON HTTP API).
	LastReport(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// Cleanup принимает {"dry_run": bool}; без поля — dry_run=true.
	Cleanup(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type crawlerServer struct {
	svc    Service
	runCtx context.Context
}

func newCrawlerServer(svc Service, runCtx context.Context) *crawlerServer {
	if runCtx == nil {
		runCtx = context.Background()
	}
	return &crawlerServer{svc: svc, runCtx: runCtx}
}

func (c *crawlerServer) TriggerRun(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
	// Логгер вызова (с request_id) переезжает в контекст прохода.
	id, err := c.svc.TriggerRun(log.Into(c.runCtx, log.From(ctx)))
	if err != nil {
		return nil, err
	}
	log.Annotate(ctx, slog.String("run_id", id.String()))

	return wrapperspb.String(id.String()), nil
}

func (c *crawlerServer) LastReport(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	const op = "grpc.LastReport"

	rep, ok := c.svc.LastReport()
	if !ok {
		return nil, errNotFound
	}
	log.Annotate(ctx, slog.String("run_id", rep.ID.String()))

	out, err := toStruct(rep)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (c *crawlerServer) Cleanup(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	dryRun := true
	if v, ok := req.GetFields()["dry_run"]; ok {
		b, isBool := v.GetKind().(*structpb.Value_BoolValue)
		if !isBool {
			return nil, fmt.Errorf("%w: dry_run must be bool", errBadRequest)
		}
		dryRun = b.BoolValue
	}
	log.Annotate(ctx, slog.Bool("dry_run", dryRun))

	plan, n, err := c.svc.CleanupDuplicates(ctx, dryRun)
	if err != nil {
		return nil, err
	}
	log.Annotate(ctx,
		slog.Int("scanned", plan.Scanned),
		slog.Int("groups", len(plan.Groups)),
		slog.Int("deleted", n),
	)

	fields := map[string]any{
		"dry_run": dryRun,
		"scanned": plan.Scanned,
		"groups":  len(plan.Groups),
		"deleted": n,
	}
	if plan.Backup != "" {
		fields["backup"] = plan.Backup
	}
	return structpb.NewStruct(fields)
}

// toStruct переводит значение в Struct через его JSON-представление.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// RegisterCrawlerServer регистрирует реализацию на сервере.
func RegisterCrawlerServer(s grpc.ServiceRegistrar, srv CrawlerServer) {
	s.RegisterService(&crawlerServiceDesc, srv)
}

func triggerRunHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CrawlerServer).TriggerRun(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodTriggerRun}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CrawlerServer).TriggerRun(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func lastReportHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CrawlerServer).LastReport(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodLastReport}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CrawlerServer).LastReport(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func cleanupHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CrawlerServer).Cleanup(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodCleanup}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CrawlerServer).Cleanup(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var crawlerServiceDesc = grpc.ServiceDesc{
	ServiceName: CrawlerServiceName,
	HandlerType: (*CrawlerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "TriggerRun", Handler: triggerRunHandler},
		{MethodName: "LastReport", Handler: lastReportHandler},
		{MethodName: "Cleanup", Handler: cleanupHandler},
	},
	Streams: []grpc.StreamDesc{},
}

// CrawlerClient — клиентская сторона crawler.v1.Crawler.
type CrawlerClient struct {
	cc grpc.ClientConnInterface
}

// NewCrawlerClient оборачивает соединение.
func NewCrawlerClient(cc grpc.ClientConnInterface) *CrawlerClient {
	return &CrawlerClient{cc: cc}
}

func (c *CrawlerClient) TriggerRun(ctx context.Context, opts ...grpc.CallOption) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, MethodTriggerRun, &emptypb.Empty{}, out, opts...); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

func (c *CrawlerClient) LastReport(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodLastReport, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Cleanup вызывает очистку; dryRun == nil — значение сервера по умолчанию (true).
func (c *CrawlerClient) Cleanup(ctx context.Context, dryRun *bool, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in := &structpb.Struct{Fields: map[string]*structpb.Value{}}
	if dryRun != nil {
		in.Fields["dry_run"] = structpb.NewBoolValue(*dryRun)
	}

	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodCleanup, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
