package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/brother-wolf/scrapers-lib/engine/timeline"
	"github.com/brother-wolf/scrapers-lib/pkg/fn"
	"github.com/brother-wolf/scrapers-lib/pkg/metrics"
	"github.com/brother-wolf/scrapers-lib/pkg/natsutil"
)

const subject = "scrapers.timeline.posts"

type chanSink struct {
	mu    sync.Mutex
	err   error
	calls int
	posts chan timeline.Post
}

func newChanSink(err error) *chanSink {
	return &chanSink{err: err, posts: make(chan timeline.Post, 16)}
}

func (s *chanSink) Write(_ context.Context, posts []timeline.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return s.err
	}
	for _, p := range posts {
		s.posts <- p
	}
	return nil
}

func (s *chanSink) Close() error { return nil }

func (s *chanSink) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func startNATS(t *testing.T) *nats.Conn {
	t.Helper()
	ns, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	ns.Start()
	if !ns.ReadyForConnections(2 * time.Second) {
		t.Fatal("nats not ready")
	}
	t.Cleanup(ns.Shutdown)
	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(nc.Close)
	return nc
}

func TestValidate(t *testing.T) {
	ctx := context.Background()
	good := timeline.NewPost(1, 1632891051000, "c")

	if r := Validate(ctx, good); r.IsErr() {
		t.Fatalf("expected ok: %v", r)
	}

	missing := good
	missing.DateTime = ""
	p, err := Validate(ctx, missing).Unwrap()
	if err != nil || p.DateTime != "2021-09-29 04:50:51" {
		t.Fatalf("expected filled date_time, got %q (%v)", p.DateTime, err)
	}

	bad := good
	bad.DateTime = "2021-09-29 05:50:51"
	_, err = Validate(ctx, bad).Unwrap()
	if !errors.Is(err, ErrInconsistentTime) || !fn.IsPermanent(err) {
		t.Fatalf("expected permanent ErrInconsistentTime, got %v", err)
	}
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.PostID != 1 || ve.Field != "date_time" {
		t.Fatalf("unexpected validation error %+v", ve)
	}
}

func TestDecodeStage(t *testing.T) {
	ctx := context.Background()
	p, err := Decode(ctx, &nats.Msg{Data: []byte(`{"id":18446744073709551615,"epoch":1,"date_time":"1970-01-01 00:00:00","content":"x"}`)}).Unwrap()
	if err != nil || p.ID != 18446744073709551615 {
		t.Fatalf("decode: %+v %v", p, err)
	}
	_, err = Decode(ctx, &nats.Msg{Data: []byte("nope")}).Unwrap()
	if !fn.IsPermanent(err) {
		t.Fatalf("expected permanent decode error, got %v", err)
	}
}

func TestPipelineStoresPost(t *testing.T) {
	sink := newChanSink(nil)
	pipeline := NewPipeline(Deps{Sink: sink, Logger: quietLogger()})
	msg, err := natsutil.NewMsg(context.Background(), subject, timeline.NewPost(9, 1000, "hi"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := pipeline(context.Background(), msg).Unwrap(); err != nil {
		t.Fatal(err)
	}
	if got := <-sink.posts; got.ID != 9 {
		t.Fatalf("unexpected stored post %+v", got)
	}
}

func TestConsumerStoresPosts(t *testing.T) {
	nc := startNATS(t)
	sink := newChanSink(nil)
	reg := metrics.New()
	sub, err := StartConsumer(nc, subject, Deps{Sink: sink, Logger: quietLogger(), Metrics: reg})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	want := timeline.NewPost(1443075780444098563, 1632891051000, "Good morning")
	if err := natsutil.Publish(context.Background(), nc, subject, want); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-sink.posts:
		if got != want {
			t.Fatalf("got %+v, want %+v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stored post")
	}
}

func TestConsumerSendsInvalidToDLQ(t *testing.T) {
	nc := startNATS(t)
	dlq := make(chan *nats.Msg, 1)
	if _, err := nc.ChanSubscribe(DLQSubject(subject), dlq); err != nil {
		t.Fatal(err)
	}
	sink := newChanSink(nil)
	if _, err := StartConsumer(nc, subject, Deps{Sink: sink, Logger: quietLogger()}); err != nil {
		t.Fatal(err)
	}

	bad := timeline.NewPost(5, 1000, "x")
	bad.DateTime = "yesterday"
	if err := natsutil.Publish(context.Background(), nc, subject, bad); err != nil {
		t.Fatal(err)
	}

	select {
	case m := <-dlq:
		var d dlqMessage
		if err := json.Unmarshal(m.Data, &d); err != nil {
			t.Fatal(err)
		}
		if d.Retries != 1 {
			t.Fatalf("expected no retries for a validation failure, got %d", d.Retries)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for DLQ message")
	}
	if n := sink.callCount(); n != 0 {
		t.Fatalf("sink should not be called, got %d calls", n)
	}
}

func TestConsumerRetriesThenDLQ(t *testing.T) {
	nc := startNATS(t)
	dlq := make(chan *nats.Msg, 1)
	if _, err := nc.ChanSubscribe(DLQSubject(subject), dlq); err != nil {
		t.Fatal(err)
	}
	sink := newChanSink(errors.New("db down"))
	if _, err := StartConsumer(nc, subject, Deps{Sink: sink, Logger: quietLogger()}); err != nil {
		t.Fatal(err)
	}

	if err := natsutil.Publish(context.Background(), nc, subject, timeline.NewPost(5, 1000, "x")); err != nil {
		t.Fatal(err)
	}

	select {
	case m := <-dlq:
		var d dlqMessage
		if err := json.Unmarshal(m.Data, &d); err != nil {
			t.Fatal(err)
		}
		if d.Retries != MaxRetries {
			t.Fatalf("expected %d retries, got %d", MaxRetries, d.Retries)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for DLQ message")
	}
	if n := sink.callCount(); n != MaxRetries {
		t.Fatalf("expected %d sink attempts, got %d", MaxRetries, n)
	}
}

func TestConsumerRetryKeepsHeaders(t *testing.T) {
	nc := startNATS(t)
	seen := make(chan *nats.Msg, 8)
	if _, err := nc.ChanSubscribe(subject, seen); err != nil {
		t.Fatal(err)
	}
	if _, err := StartConsumer(nc, subject, Deps{Sink: newChanSink(errors.New("db down")), Logger: quietLogger()}); err != nil {
		t.Fatal(err)
	}

	const traceparent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	data, err := json.Marshal(timeline.NewPost(6, 1000, "x"))
	if err != nil {
		t.Fatal(err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set("traceparent", traceparent)
	if err := nc.PublishMsg(msg); err != nil {
		t.Fatal(err)
	}

	timeout := time.After(5 * time.Second)
	for {
		select {
		case m := <-seen:
			if m.Header.Get(RetryHeader) == "" {
				continue
			}
			if got := m.Header.Get("traceparent"); got != traceparent {
				t.Fatalf("retry lost traceparent, got %q", got)
			}
			if got := m.Header.Get(RetryHeader); got != "1" {
				t.Fatalf("expected first retry, got %q", got)
			}
			return
		case <-timeout:
			t.Fatal("timed out waiting for retry")
		}
	}
}
