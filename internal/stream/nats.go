package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"sauda.org/internal/obs"
)

// NATSConfig holds NATS JetStream connection settings.
type NATSConfig struct {
	URL            string
	SubjectPrefix  string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectionName string
}

// NATSPublisher mirrors engine events onto a JetStream subject per event
// type, e.g. sauda.events.auction.bid.
type NATSPublisher struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	prefix string
}

// NewNATSPublisher connects to NATS with bounded retry and returns a Sink.
func NewNATSPublisher(cfg NATSConfig) (*NATSPublisher, error) {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "sauda.events"
	}
	opts := []nats.Option{
		nats.Name(cfg.ConnectionName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				obs.Logger().Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			obs.Logger().Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var nc *nats.Conn
	connect := func() error {
		var err error
		nc, err = nats.Connect(cfg.URL, opts...)
		return err
	}
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4)
	if err := backoff.Retry(connect, policy); err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", cfg.URL, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("open jetstream context: %w", err)
	}
	return &NATSPublisher{nc: nc, js: js, prefix: cfg.SubjectPrefix}, nil
}

// Publish mirrors one event. Publish failures are logged, never propagated:
// notification delivery must not fail the settlement that produced it.
func (p *NATSPublisher) Publish(evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		obs.Logger().Error("marshal event", zap.Error(err))
		return
	}
	subject := p.prefix + "." + evt.Type
	if _, err := p.js.PublishAsync(subject, data); err != nil {
		obs.Logger().Error("publish event", zap.String("subject", subject), zap.Error(err))
	}
}

// Close drains the connection.
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
	}
}
