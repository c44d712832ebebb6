package events

import (
	"strings"
	"time"

	"github.com/luxfi/log"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

// Publisher is the part of *nats.Conn the NATS sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes every event as JSON on <prefix>.<vault>.<kind>.
type NATSPublisher struct {
	conn   Publisher
	prefix string
	logger log.Logger
	closer func()
}

func NewNATSPublisher(conn Publisher, prefix string, logger log.Logger) *NATSPublisher {
	if logger == nil {
		logger = log.Root().New("module", "events")
	}
	return &NATSPublisher{
		conn:   conn,
		prefix: strings.TrimSuffix(prefix, "."),
		logger: logger,
	}
}

// DialNATS connects to url and returns a publisher owning the connection.
func DialNATS(url, prefix string, logger log.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("roundvault"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to nats %s", url)
	}
	p := NewNATSPublisher(nc, prefix, logger)
	p.closer = func() {
		if err := nc.Drain(); err != nil {
			p.logger.Warn("nats drain failed", "error", err)
		}
	}
	return p, nil
}

// Subject returns the subject e is published on.
func (p *NATSPublisher) Subject(e Event) string {
	return p.prefix + "." + strings.ToLower(e.Source().Hex()) + "." + string(e.Kind())
}

func (p *NATSPublisher) Publish(e Event) {
	data, err := Encode(e)
	if err != nil {
		p.logger.Error("encode event", "kind", e.Kind(), "error", err)
		return
	}
	if err := p.conn.Publish(p.Subject(e), data); err != nil {
		p.logger.Warn("publish event", "subject", p.Subject(e), "error", err)
	}
}

func (p *NATSPublisher) Close() {
	if p.closer != nil {
		p.closer()
	}
}
