// Package ingest consumes posts published on NATS and writes them to the
// configured sinks, retrying failed messages and parking the rest on a
// dead letter subject.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/brother-wolf/scrapers-lib/engine/store"
	"github.com/brother-wolf/scrapers-lib/engine/timeline"
	"github.com/brother-wolf/scrapers-lib/pkg/fn"
	"github.com/brother-wolf/scrapers-lib/pkg/metrics"
	"github.com/brother-wolf/scrapers-lib/pkg/natsutil"
)

const (
	// MaxRetries before a message goes to the DLQ.
	MaxRetries = 3
	// RetryHeader counts redeliveries of a failed message.
	RetryHeader = "X-Retry-Count"
	// QueueGroup lets several consumers share one subject.
	QueueGroup = "timeline-ingest"
)

// DLQSubject is where messages for subject go after MaxRetries failures.
func DLQSubject(subject string) string { return subject + ".dlq" }

// Deps holds the external dependencies for the consumer.
type Deps struct {
	Sink    store.Sink
	Logger  *slog.Logger
	Metrics *metrics.Registry
	// Timeout bounds one message's pipeline run. 0 means 30s.
	Timeout time.Duration
}

// --- Pipeline Stages ---

// Decode unmarshals a message into a Post.
var Decode fn.Stage[*nats.Msg, timeline.Post] = func(_ context.Context, msg *nats.Msg) fn.Result[timeline.Post] {
	p, err := natsutil.Decode[timeline.Post](msg)
	if err != nil {
		return fn.Err[timeline.Post](fn.Permanent(err))
	}
	return fn.Ok(p)
}

// Validate fills a missing date_time from the epoch and rejects posts whose
// date_time disagrees with it. Rejections are permanent.
var Validate fn.Stage[timeline.Post, timeline.Post] = func(_ context.Context, p timeline.Post) fn.Result[timeline.Post] {
	want := timeline.EpochTime(p.Epoch).Format(timeline.DisplayLayout)
	switch p.DateTime {
	case want:
		return fn.Ok(p)
	case "":
		p.DateTime = want
		return fn.Ok(p)
	default:
		return fn.Err[timeline.Post](fn.Permanent(
			&ValidationError{PostID: p.ID, Field: "date_time", Value: p.DateTime, Wrapped: ErrInconsistentTime}))
	}
}

// NewStore creates a stage that writes one post to sink.
func NewStore(sink store.Sink) fn.Stage[timeline.Post, timeline.Post] {
	return fn.TapStage(func(ctx context.Context, p timeline.Post) error {
		if err := sink.Write(ctx, []timeline.Post{p}); err != nil {
			return fmt.Errorf("store post %d: %w", p.ID, err)
		}
		return nil
	})
}

// LoggedTap returns a stage that logs entry/exit with duration.
func LoggedTap[T any](name string, log *slog.Logger) fn.Stage[T, T] {
	return func(ctx context.Context, t T) fn.Result[T] {
		log.Debug("stage.enter", "stage", name)
		start := time.Now()
		defer func() {
			log.Debug("stage.exit", "stage", name, "duration", time.Since(start))
		}()
		return fn.Ok(t)
	}
}

// NewPipeline composes Decode → Validate → Store.
func NewPipeline(deps Deps) fn.Stage[*nats.Msg, timeline.Post] {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	decoded := fn.Then(LoggedTap[*nats.Msg]("decode", log), Decode)
	validated := fn.Then(decoded, fn.Then(LoggedTap[timeline.Post]("validate", log), Validate))
	return fn.TracedStage("ingest.post",
		fn.Then(validated, fn.Then(LoggedTap[timeline.Post]("store", log), NewStore(deps.Sink))))
}

// dlqMessage is published to the DLQ on repeated failure.
type dlqMessage struct {
	Data    string `json:"data"`
	Error   string `json:"error"`
	Retries int    `json:"retries"`
}

// StartConsumer subscribes to subject in QueueGroup and runs every message
// through the pipeline. Failed messages are republished with an incremented
// RetryHeader until MaxRetries, then published to DLQSubject. Permanent
// failures go to the DLQ at once.
func StartConsumer(nc *nats.Conn, subject string, deps Deps) (*nats.Subscription, error) {
	pipeline := NewPipeline(deps)
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	reg := deps.Metrics
	if reg == nil {
		reg = metrics.New()
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	var (
		mIngested = reg.Counter("timeline_ingest_posts_total", "Posts stored from NATS")
		mRetried  = reg.Counter("timeline_ingest_retries_total", "Messages republished for retry")
		mDLQ      = reg.Counter("timeline_ingest_dlq_total", "Messages sent to the DLQ")
		mDur      = reg.Histogram("timeline_ingest_duration_seconds", "Per-message pipeline time", nil)
	)

	return nc.QueueSubscribe(subject, QueueGroup, func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(natsutil.ContextFrom(context.Background(), msg), timeout)
		defer cancel()

		retries := 0
		if msg.Header != nil {
			retries, _ = strconv.Atoi(msg.Header.Get(RetryHeader))
		}

		start := time.Now()
		post, err := pipeline(ctx, msg).Unwrap()
		mDur.Since(start)
		if err == nil {
			mIngested.Inc()
			log.Debug("ingest: stored", "post_id", post.ID)
			ack(msg)
			return
		}

		retries++
		log.Error("ingest: pipeline failed", "error", err, "subject", msg.Subject, "retry", retries)

		if retries >= MaxRetries || fn.IsPermanent(err) {
			dlq := dlqMessage{Data: string(msg.Data), Error: err.Error(), Retries: retries}
			if err := natsutil.Publish(ctx, nc, DLQSubject(subject), dlq); err != nil {
				log.Error("ingest: DLQ publish failed", "error", err)
			}
			mDLQ.Inc()
		} else {
			retryMsg := nats.NewMsg(subject)
			retryMsg.Data = msg.Data
			for k, v := range msg.Header {
				retryMsg.Header[k] = append([]string(nil), v...)
			}
			retryMsg.Header.Set(RetryHeader, strconv.Itoa(retries))
			if err := nc.PublishMsg(retryMsg); err != nil {
				log.Error("ingest: retry publish failed", "error", err)
			}
			mRetried.Inc()
		}
		ack(msg)
	})
}

// Ack if JetStream.
func ack(msg *nats.Msg) {
	if msg.Reply != "" {
		_ = msg.Ack()
	}
}
