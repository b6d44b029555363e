// Package docsvc is the gRPC client of the document service, which extracts
// structured CV data from uploaded drafts and renders CV data to PDF.
package docsvc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/cvstudio/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Service and method names of the document service.
const (
	ServiceName   = "cvstudio.docsvc.v1.DocumentService"
	renderMethod  = "/" + ServiceName + "/Render"
	extractMethod = "/" + ServiceName + "/Extract"
)

// LayoutBudgetExceeded is the renderer's error code for overflowing content.
const LayoutBudgetExceeded = "page_budget_exceeded"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	// ErrUnavailable is returned when no document service is configured or reachable.
	ErrUnavailable = errors.New("document service unavailable")
)

// Document is an uploaded draft to extract from.
type Document struct {
	Filename    string
	ContentType string
	Data        []byte
}

// RenderOptions control one render.
type RenderOptions struct {
	MaxPages int
}

// RenderResult is the renderer's answer. Error is set for content problems
// such as a layout overflow; transport problems are returned as Go errors.
type RenderResult struct {
	Document    []byte
	ContentType string
	PageCount   int
	Error       string
}

// Config holds configuration for the gRPC client.
type Config struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	DialOptions      []grpc.DialOption
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   30 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// Client talks to the document service.
type Client struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	cfg    Config
	logger *slog.Logger
}

// NewClient connects to the document service and waits until the connection
// is ready, so a bad address fails at startup.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Address == "" {
		cfg.Address = def.Address
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = def.KeepaliveTime
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = def.KeepaliveTimeout
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    cfg.KeepaliveTime,
			Timeout: cfg.KeepaliveTimeout,
		}),
	}
	opts = append(opts, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to document service at %s: %w", cfg.Address, err)
	}

	if cfg.ConnectTimeout > 0 {
		connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
		defer cancel()
		if err := waitForReady(connectCtx, conn); err != nil {
			if closeErr := conn.Close(); closeErr != nil {
				logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
			}
			return nil, fmt.Errorf("document service at %s not ready: %w", cfg.Address, err)
		}
	}

	logger.Info("Connected to document service", "address", cfg.Address)

	return &Client{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		cfg:    cfg,
		logger: logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (c *Client) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Health reports whether the document service answers SERVING.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("document service status %s", resp.GetStatus())
	}
	return nil
}

type renderRequest struct {
	CV       domain.CVData `json:"cv"`
	MaxPages int           `json:"max_pages"`
}

type renderResponse struct {
	DocumentBase64 string  `json:"document_base64"`
	ContentType    string  `json:"content_type"`
	PageCount      float64 `json:"page_count"`
	Error          string  `json:"error"`
}

// Render renders data to a document.
func (c *Client) Render(ctx context.Context, data domain.CVData, opts RenderOptions) (*RenderResult, error) {
	var resp renderResponse
	if err := c.invoke(ctx, renderMethod, renderRequest{CV: data, MaxPages: opts.MaxPages}, &resp); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	doc, err := base64.StdEncoding.DecodeString(resp.DocumentBase64)
	if err != nil {
		return nil, fmt.Errorf("render: decode document: %w", err)
	}
	return &RenderResult{
		Document:    doc,
		ContentType: resp.ContentType,
		PageCount:   int(resp.PageCount),
		Error:       resp.Error,
	}, nil
}

type extractRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	DataBase64  string `json:"data_base64"`
}

type extractResponse struct {
	CV    *domain.CVData `json:"cv"`
	Error string         `json:"error"`
}

// Extract parses an uploaded draft into CV data.
func (c *Client) Extract(ctx context.Context, doc Document) (*domain.CVData, error) {
	req := extractRequest{
		Filename:    doc.Filename,
		ContentType: doc.ContentType,
		DataBase64:  base64.StdEncoding.EncodeToString(doc.Data),
	}
	var resp extractResponse
	if err := c.invoke(ctx, extractMethod, req, &resp); err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("extract: %s", resp.Error)
	}
	if resp.CV == nil {
		return &domain.CVData{}, nil
	}
	return resp.CV, nil
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	req, err := toStruct(in)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, method, req, resp, grpc.WaitForReady(true)); err != nil {
		c.logger.Warn("document service call failed", "method", method, "error", err)
		return err
	}
	return fromStruct(resp, out)
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return s, nil
}

func fromStruct(s *structpb.Struct, out any) error {
	raw, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Unavailable stands in for the document service when none is configured.
// Every call fails with ErrUnavailable.
type Unavailable struct{}

func (Unavailable) Render(context.Context, domain.CVData, RenderOptions) (*RenderResult, error) {
	return nil, ErrUnavailable
}

func (Unavailable) Extract(context.Context, Document) (*domain.CVData, error) {
	return nil, ErrUnavailable
}

func (Unavailable) Health(context.Context) error {
	return ErrUnavailable
}
