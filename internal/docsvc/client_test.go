package docsvc

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/ashureev/cvstudio/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

// fakeDocService answers Render and Extract on the raw struct codec.
func fakeDocService(t *testing.T) *Client {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnknownServiceHandler(func(_ any, stream grpc.ServerStream) error {
		method, _ := grpc.MethodFromServerStream(stream)
		in := &structpb.Struct{}
		if err := stream.RecvMsg(in); err != nil {
			return err
		}
		var out map[string]any
		switch method {
		case renderMethod:
			cv := in.GetFields()["cv"].GetStructValue()
			work := cv.GetFields()["work_experience"].GetListValue().GetValues()
			pages := 1 + len(work)/3
			maxPages := int(in.GetFields()["max_pages"].GetNumberValue())
			errCode := ""
			if maxPages > 0 && pages > maxPages {
				errCode = LayoutBudgetExceeded
			}
			out = map[string]any{
				"document_base64": base64.StdEncoding.EncodeToString([]byte("%PDF-1.7")),
				"content_type":    "application/pdf",
				"page_count":      pages,
				"error":           errCode,
			}
		case extractMethod:
			out = map[string]any{"cv": map[string]any{
				"contact": map[string]any{"full_name": in.GetFields()["filename"].GetStringValue()},
			}}
		}
		resp, err := structpb.NewStruct(out)
		if err != nil {
			return err
		}
		return stream.SendMsg(resp)
	}))
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	c, err := NewClient(Config{
		Address:        "passthrough:///bufnet",
		ConnectTimeout: 5 * time.Second,
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
		},
	}, slog.Default())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestRenderRoundTrip(t *testing.T) {
	t.Parallel()

	c := fakeDocService(t)
	data := domain.CVData{WorkExperience: make([]domain.WorkEntry, 7)}

	res, err := c.Render(context.Background(), data, RenderOptions{MaxPages: 2})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if res.PageCount != 3 || res.Error != LayoutBudgetExceeded {
		t.Fatalf("unexpected result: pages=%d error=%q", res.PageCount, res.Error)
	}
	if string(res.Document) != "%PDF-1.7" || res.ContentType != "application/pdf" {
		t.Fatalf("unexpected document %q (%s)", res.Document, res.ContentType)
	}
}

func TestExtractAndHealth(t *testing.T) {
	t.Parallel()

	c := fakeDocService(t)
	cv, err := c.Extract(context.Background(), Document{Filename: "Ada Lovelace", Data: []byte("draft")})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if cv.Contact.FullName != "Ada Lovelace" {
		t.Fatalf("unexpected contact %+v", cv.Contact)
	}
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health failed: %v", err)
	}
}
