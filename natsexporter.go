package chainexport

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

const natsFlushTimeout = 10 * time.Second

// natsPublisher is the part of *nats.Conn the exporter uses.
type natsPublisher interface {
	PublishMsg(msg *nats.Msg) error
	FlushTimeout(timeout time.Duration) error
	Close()
}

// NATSExporter publishes each record as a JSON message on
// <subjectPrefix>.<chain>.<type>. The record key is set as the message ID so
// that JetStream deduplicates re-exported records.
type NATSExporter struct {
	url           string
	subjectPrefix string
	chain         string

	connect func(url string) (natsPublisher, error)
	conn    natsPublisher
}

// NewNATSExporter returns an exporter for the NATS server at url. No
// connection is made until Open.
func NewNATSExporter(url, subjectPrefix, chain string) *NATSExporter {
	return &NATSExporter{
		url:           url,
		subjectPrefix: subjectPrefix,
		chain:         chain,
		connect:       connectNATS,
	}
}

func connectNATS(url string) (natsPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("chainexport"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Infof("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Open connects to the server.
func (e *NATSExporter) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	conn, err := e.connect(e.url)
	if err != nil {
		return errors.Wrap(err, "connect nats")
	}
	e.conn = conn
	return nil
}

// Export publishes record.
func (e *NATSExporter) Export(ctx context.Context, record Record) error {
	if e.conn == nil {
		return errors.New("nats exporter is not open")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(record)
	if err != nil {
		return errors.Wrapf(err, "encode %s %s", record.Type(), record.Key())
	}

	msg := nats.NewMsg(e.subject(record))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, recordKey(e.chain, record))
	return e.conn.PublishMsg(msg)
}

// Close flushes pending messages and closes the connection.
func (e *NATSExporter) Close() error {
	if e.conn == nil {
		return nil
	}
	err := e.conn.FlushTimeout(natsFlushTimeout)
	e.conn.Close()
	e.conn = nil
	return err
}

func (e *NATSExporter) subject(record Record) string {
	return e.subjectPrefix + "." + e.chain + "." + record.Type()
}
