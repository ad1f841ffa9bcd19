// ABOUTME: NATS responder for scan requests on a queue-group subscription
// ABOUTME: Serves single and batch subjects, echoes correlation IDs and drains on close

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hikmaai-io/hikmaai-lens/internal/observability"
)

// NATSConfig is the connection part of the [nats] section.
type NATSConfig struct {
	URL string `toml:"url"`
	// Subject serves single scans. Batches arrive on Subject + ".batch".
	Subject string `toml:"subject"`
	// QueueGroup spreads requests across replicas.
	QueueGroup string `toml:"queue_group"`
	Name       string `toml:"name"`

	MaxReconnects int           `toml:"max_reconnects"`
	ReconnectWait time.Duration `toml:"reconnect_wait"`
	// DrainTimeout bounds Close while in-flight requests finish.
	DrainTimeout time.Duration `toml:"drain_timeout"`
}

func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Subject:       "hikmaai.lens.scan",
		QueueGroup:    "lens-workers",
		Name:          "hikmaai-lens",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		DrainTimeout:  10 * time.Second,
	}
}

func (c NATSConfig) BatchSubject() string { return c.Subject + ".batch" }

// route binds a subject to the function that turns a request body into
// a reply value.
type route struct {
	subject string
	span    string
	serve   func(ctx context.Context, data []byte) (reply any, attrs []any)
}

// Client serves scan requests received over NATS.
type Client struct {
	config  NATSConfig
	handler *Handler
	logger  *slog.Logger

	conn *nats.Conn
	subs []*nats.Subscription
}

// NewClient returns a responder. Connect, then Subscribe.
func NewClient(cfg NATSConfig, handler *Handler, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{config: cfg, handler: handler, logger: logger.With(slog.String("component", "nats"))}
}

func (c *Client) options() []nats.Option {
	return []nats.Option{
		nats.Name(c.config.Name),
		nats.MaxReconnects(c.config.MaxReconnects),
		nats.ReconnectWait(c.config.ReconnectWait),
		nats.DrainTimeout(c.config.DrainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.logger.Warn("NATS disconnected", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("NATS reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) { c.logger.Info("NATS connection closed") }),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			attrs := []any{slog.Any("error", err)}
			if sub != nil {
				attrs = append(attrs, slog.String("subject", sub.Subject))
			}
			c.logger.Error("NATS async error", attrs...)
		}),
	}
}

// Connect dials the server. The context is unused by nats.go, which
// applies its own connect timeout.
func (c *Client) Connect(_ context.Context) error {
	conn, err := nats.Connect(c.config.URL, c.options()...)
	if err != nil {
		return fmt.Errorf("connecting to NATS %s: %w", c.config.URL, err)
	}
	c.conn = conn
	c.logger.Info("connected to NATS",
		slog.String("url", conn.ConnectedUrl()),
		slog.String("server_id", conn.ConnectedServerId()),
	)
	return nil
}

func (c *Client) routes() []route {
	return []route{
		{subject: c.config.Subject, span: "nats.scan", serve: c.serveScan},
		{subject: c.config.BatchSubject(), span: "nats.scan_batch", serve: c.serveBatch},
	}
}

// Subscribe serves every route on the queue group. ctx parents every
// request context. Either all subscriptions are made or none are.
func (c *Client) Subscribe(ctx context.Context) error {
	if c.conn == nil {
		return errors.New("not connected to NATS")
	}
	for _, r := range c.routes() {
		sub, err := c.conn.QueueSubscribe(r.subject, c.config.QueueGroup, func(msg *nats.Msg) {
			c.dispatch(ctx, r, msg)
		})
		if err != nil {
			for _, s := range c.subs {
				_ = s.Unsubscribe()
			}
			c.subs = nil
			return fmt.Errorf("subscribing to %s: %w", r.subject, err)
		}
		c.subs = append(c.subs, sub)
	}
	c.logger.Info("subscribed to NATS",
		slog.String("subject", c.config.Subject),
		slog.String("batch_subject", c.config.BatchSubject()),
		slog.String("queue", c.config.QueueGroup),
	)
	return nil
}

func (c *Client) dispatch(ctx context.Context, r route, msg *nats.Msg) {
	ctx, _ = observability.EnsureCorrelationID(ctx, msg.Header.Get(observability.CorrelationIDHeader))
	ctx, span := observability.StartSpan(ctx, r.span)
	defer span.End()

	start := time.Now()
	reply, attrs := r.serve(ctx, msg.Data)
	c.respond(ctx, msg, reply)

	attrs = append(attrs, slog.String("subject", r.subject), slog.Duration("duration", time.Since(start)))
	observability.LogWithContext(ctx, c.logger, slog.LevelInfo, "served scan request", attrs...)
}

func (c *Client) serveScan(ctx context.Context, data []byte) (any, []any) {
	var req ScanRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errorResponse("", "invalid request format: "+err.Error()), []any{slog.String("error", err.Error())}
	}
	resp := c.handler.ProcessRequest(ctx, req)
	return resp, []any{
		slog.String("request_id", req.RequestID),
		slog.String("verdict", resp.Verdict),
		slog.String("signature", resp.SignatureName),
	}
}

func (c *Client) serveBatch(ctx context.Context, data []byte) (any, []any) {
	start := time.Now()
	var req BatchScanRequest
	if err := json.Unmarshal(data, &req); err != nil {
		bad := BatchScanResponse{Results: []ScanResponse{errorResponse("", "invalid request format: "+err.Error())}}
		return bad, []any{slog.String("error", err.Error())}
	}
	resp := BatchScanResponse{RequestID: req.RequestID, Results: c.handler.ProcessBatch(ctx, req.Requests)}
	resp.TotalTimeMs = float64(time.Since(start).Microseconds()) / 1000
	return resp, []any{slog.String("request_id", req.RequestID), slog.Int("count", len(req.Requests))}
}

// respond replies when the sender asked for one, echoing the correlation ID.
func (c *Client) respond(ctx context.Context, msg *nats.Msg, v any) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		observability.LogWithContext(ctx, c.logger, slog.LevelError, "encoding reply", slog.Any("error", err))
		return
	}
	out := nats.NewMsg(msg.Reply)
	out.Data = data
	out.Header.Set(observability.CorrelationIDHeader, observability.FromContext(ctx).String())
	if err := msg.RespondMsg(out); err != nil {
		observability.LogWithContext(ctx, c.logger, slog.LevelError, "sending reply", slog.Any("error", err))
	}
}

// Close drains subscriptions so in-flight requests still get replies.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
		return fmt.Errorf("draining NATS connection: %w", err)
	}
	return nil
}

func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}
