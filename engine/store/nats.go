package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go"

	"github.com/brother-wolf/scrapers-lib/engine/timeline"
	"github.com/brother-wolf/scrapers-lib/pkg/natsutil"
)

// NATS publishes each post as one JSON message. The Nats-Msg-Id header is
// the post id, so a JetStream stream deduplicates republished posts.
type NATS struct {
	pub     natsutil.Publisher
	conn    *nats.Conn
	subject string
}

// ConnectNATS dials url and publishes to subject.
func ConnectNATS(url, subject string) (*NATS, error) {
	nc, err := nats.Connect(url, nats.Name("scrape-timeline"))
	if err != nil {
		return nil, fmt.Errorf("nats: connect %s: %w", url, err)
	}
	return &NATS{pub: nc, conn: nc, subject: subject}, nil
}

// NewNATS publishes through an existing publisher. Close is a no-op.
func NewNATS(pub natsutil.Publisher, subject string) *NATS {
	return &NATS{pub: pub, subject: subject}
}

func (n *NATS) Write(ctx context.Context, posts []timeline.Post) error {
	return natsutil.PublishAll(ctx, n.pub, n.subject, posts, postMsgID)
}

func postMsgID(p timeline.Post) string { return strconv.FormatUint(p.ID, 10) }

// Close flushes pending messages and closes the connection it owns.
func (n *NATS) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}
