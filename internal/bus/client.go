// Package bus publishes pipeline events over NATS. Publishing is
// fail-soft: a broken or absent bus never fails a voice request.
package bus

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/echolane/voicegate/internal/config"
	"github.com/echolane/voicegate/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Client wraps a NATS connection with typed publish helpers.
type Client struct {
	conn *nats.Conn
	log  *slog.Logger
}

func Connect(ctx context.Context, cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}

	options := []nats.Option{
		nats.Name("voicegate"),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
	}

	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}
	if cfg.TLSInsecure {
		options = append(options, nats.Secure(&tls.Config{InsecureSkipVerify: true}))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info("connected to NATS", slog.String("servers", url))

	return &Client{conn: conn, log: log}, nil
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	c.log.Info("closing NATS connection")
	c.conn.Drain()
	c.conn.Close()
}

func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

func (c *Client) Conn() *nats.Conn {
	return c.conn
}

// PublishTranscript broadcasts a completed transcription.
func (c *Client) PublishTranscript(ev protocol.TranscriptEvent) {
	c.publish(protocol.SubjectTranscript, ev)
}

// PublishSynthesis broadcasts a completed synthesis dispatch.
func (c *Client) PublishSynthesis(ev protocol.SynthesisEvent) {
	c.publish(protocol.SubjectSynthesis, ev)
}

func (c *Client) publish(subject string, ev any) {
	if c == nil || c.conn == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		c.log.Warn("event marshal failed",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
		return
	}
	if err := c.conn.Publish(subject, data); err != nil {
		c.log.Warn("event publish failed",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
	}
}
