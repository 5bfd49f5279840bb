package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// Consumer defaults.
const (
	DefaultSubject    = "assistd.ingest"
	DefaultDLQSubject = "assistd.ingest.dlq"
	DefaultMaxRetries = 3
	DefaultTimeout    = 2 * time.Minute

	// RetryHeader carries how many times a message has failed.
	RetryHeader = "Retry-Count"
)

// Message is an asynchronous ingestion request. When URL is set the text is
// treated as a fetched page and URL becomes the document id.
type Message struct {
	Tenant     string `json:"tenant"`
	DocumentID string `json:"document_id,omitempty"`
	Text       string `json:"text"`
	URL        string `json:"url,omitempty"`
}

// Source returns the ingestion source the message describes.
func (m Message) Source() Source {
	if m.URL != "" {
		return Page{URL: m.URL, Text: m.Text}
	}
	return Text{DocumentID: m.DocumentID, Text: m.Text}
}

// dlqMessage is published once a message has exhausted its retries.
type dlqMessage struct {
	Message json.RawMessage `json:"message"`
	Error   string          `json:"error"`
	Retries int             `json:"retries"`
}

// Ingester is the operation the consumer drives.
type Ingester interface {
	Ingest(ctx context.Context, tenantID string, src Source) (Result, error)
}

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	Subject    string
	DLQSubject string
	// Queue, when set, load-balances messages across consumers.
	Queue      string
	MaxRetries int
	Timeout    time.Duration
}

func (c *ConsumerConfig) applyDefaults() {
	if c.Subject == "" {
		c.Subject = DefaultSubject
	}
	if c.DLQSubject == "" {
		c.DLQSubject = DefaultDLQSubject
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
}

// Consumer ingests messages from NATS. Failed messages are republished with
// an incremented Retry-Count header and sent to the DLQ subject after
// MaxRetries failures.
type Consumer struct {
	nc     *nats.Conn
	svc    Ingester
	cfg    ConsumerConfig
	logger *zap.Logger
	sub    *nats.Subscription
}

// NewConsumer creates a Consumer. Call Start to subscribe.
func NewConsumer(nc *nats.Conn, svc Ingester, cfg ConsumerConfig, logger *zap.Logger) *Consumer {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{nc: nc, svc: svc, cfg: cfg, logger: logger}
}

// Start subscribes to the ingest subject.
func (c *Consumer) Start() error {
	var (
		sub *nats.Subscription
		err error
	)
	if c.cfg.Queue != "" {
		sub, err = c.nc.QueueSubscribe(c.cfg.Subject, c.cfg.Queue, c.handle)
	} else {
		sub, err = c.nc.Subscribe(c.cfg.Subject, c.handle)
	}
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", c.cfg.Subject, err)
	}
	c.sub = sub
	c.logger.Info("ingest consumer started",
		zap.String("subject", c.cfg.Subject),
		zap.String("queue", c.cfg.Queue))
	return nil
}

// Stop drains the subscription.
func (c *Consumer) Stop() error {
	if c.sub == nil {
		return nil
	}
	return c.sub.Drain()
}

func (c *Consumer) handle(msg *nats.Msg) {
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var m Message
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		c.logger.Error("ingest message malformed", zap.Error(err))
		c.deadLetter(msg.Data, err, 0)
		return
	}

	res, err := c.svc.Ingest(ctx, m.Tenant, m.Source())
	if err == nil {
		if res.Status != StatusSuccess {
			c.logger.Warn("ingest message produced no chunks",
				zap.String("tenant.id", m.Tenant),
				zap.String("status", res.Status))
		}
		return
	}

	retries := retryCount(msg) + 1
	c.logger.Error("ingest message failed",
		zap.String("tenant.id", m.Tenant),
		zap.Int("retry", retries),
		zap.Error(err))

	if retries >= c.cfg.MaxRetries {
		c.deadLetter(msg.Data, err, retries)
		return
	}

	retry := nats.NewMsg(c.cfg.Subject)
	retry.Data = msg.Data
	retry.Header = nats.Header{}
	retry.Header.Set(RetryHeader, strconv.Itoa(retries))
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(retry))
	if err := c.nc.PublishMsg(retry); err != nil {
		c.logger.Error("ingest retry publish failed", zap.Error(err))
	}
}

func (c *Consumer) deadLetter(data []byte, cause error, retries int) {
	raw := json.RawMessage(data)
	if !json.Valid(data) {
		raw, _ = json.Marshal(string(data))
	}
	payload, err := json.Marshal(dlqMessage{Message: raw, Error: cause.Error(), Retries: retries})
	if err != nil {
		c.logger.Error("ingest dlq marshal failed", zap.Error(err))
		return
	}
	if err := c.nc.Publish(c.cfg.DLQSubject, payload); err != nil {
		c.logger.Error("ingest dlq publish failed", zap.Error(err))
	}
}

func retryCount(msg *nats.Msg) int {
	if msg.Header == nil {
		return 0
	}
	n, err := strconv.Atoi(msg.Header.Get(RetryHeader))
	if err != nil {
		return 0
	}
	return n
}

// Publish sends m to subject with the trace context of ctx.
func Publish(ctx context.Context, nc *nats.Conn, subject string, m Message) error {
	if m.Tenant == "" {
		return errors.New("ingest: message tenant is required")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	return nc.PublishMsg(msg)
}

// headerCarrier adapts nats.Msg headers to the OTel TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}
