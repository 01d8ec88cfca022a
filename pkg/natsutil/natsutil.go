// Package natsutil publishes JSON-encoded values to NATS with OpenTelemetry
// trace context carried in the message headers.
package natsutil

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// Publisher is the part of *nats.Conn used for publishing.
type Publisher interface {
	PublishMsg(m *nats.Msg) error
}

var _ Publisher = (*nats.Conn)(nil)

// natsHeaderCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Option adjusts an outgoing message.
type Option func(*nats.Msg)

// WithMsgID sets the Nats-Msg-Id header so JetStream drops redeliveries of
// the same record inside its duplicate window.
func WithMsgID(id string) Option {
	return func(m *nats.Msg) {
		(*natsHeaderCarrier)(m).Set(nats.MsgIdHdr, id)
	}
}

// NewMsg serializes v as JSON into a message for subject, injecting the
// trace context from ctx.
func NewMsg[T any](ctx context.Context, subject string, v T, opts ...Option) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("natsutil: encode %s: %w", subject, err)
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	for _, o := range opts {
		o(msg)
	}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	return msg, nil
}

// Publish serializes v as JSON and publishes it to subject.
func Publish[T any](ctx context.Context, p Publisher, subject string, v T, opts ...Option) error {
	msg, err := NewMsg(ctx, subject, v, opts...)
	if err != nil {
		return err
	}
	return p.PublishMsg(msg)
}

// PublishAll publishes each value in order, stopping at the first failure.
// msgID, if non-nil, derives the Nats-Msg-Id header per value.
func PublishAll[T any](ctx context.Context, p Publisher, subject string, vs []T, msgID func(T) string) error {
	for i, v := range vs {
		if err := ctx.Err(); err != nil {
			return err
		}
		var opts []Option
		if msgID != nil {
			opts = append(opts, WithMsgID(msgID(v)))
		}
		if err := Publish(ctx, p, subject, v, opts...); err != nil {
			return fmt.Errorf("natsutil: publish %d/%d: %w", i+1, len(vs), err)
		}
	}
	return nil
}

// ContextFrom returns ctx carrying the trace context found in msg's headers.
func ContextFrom(ctx context.Context, msg *nats.Msg) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, (*natsHeaderCarrier)(msg))
}

// Decode unmarshals a JSON message body into T.
func Decode[T any](msg *nats.Msg) (T, error) {
	var v T
	if err := json.Unmarshal(msg.Data, &v); err != nil {
		return v, fmt.Errorf("natsutil: decode %s: %w", msg.Subject, err)
	}
	return v, nil
}
