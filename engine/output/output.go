// Package output writes extracted posts to a stream as JSON lines, msgpack,
// or one human-readable line per post.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/ugorji/go/codec"

	"github.com/brother-wolf/scrapers-lib/engine/timeline"
)

// Formats accepted by New.
const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
	FormatText    = "text"
)

// Encoder writes a batch of posts.
type Encoder interface {
	Encode(posts []timeline.Post) error
}

// New returns the encoder for format writing to w.
func New(format string, w io.Writer) (Encoder, error) {
	switch format {
	case FormatJSON, "":
		return &jsonEncoder{enc: json.NewEncoder(w)}, nil
	case FormatMsgpack:
		return &msgpackEncoder{enc: codec.NewEncoder(w, &codec.MsgpackHandle{})}, nil
	case FormatText:
		return newTextEncoder(w), nil
	default:
		return nil, fmt.Errorf("output: unknown format %q", format)
	}
}

type jsonEncoder struct{ enc *json.Encoder }

func (e *jsonEncoder) Encode(posts []timeline.Post) error {
	for _, p := range posts {
		if err := e.enc.Encode(p); err != nil {
			return fmt.Errorf("output: json: %w", err)
		}
	}
	return nil
}

// msgpackEncoder writes one msgpack map per post, back to back.
type msgpackEncoder struct{ enc *codec.Encoder }

func (e *msgpackEncoder) Encode(posts []timeline.Post) error {
	for _, p := range posts {
		if err := e.enc.Encode(p); err != nil {
			return fmt.Errorf("output: msgpack: %w", err)
		}
	}
	return nil
}

// textEncoder renders Post.String, coloured only when w is a terminal.
type textEncoder struct {
	w        io.Writer
	id, time lipgloss.Style
}

func newTextEncoder(w io.Writer) *textEncoder {
	r := lipgloss.NewRenderer(w)
	return &textEncoder{
		w:    w,
		id:   r.NewStyle().Foreground(lipgloss.Color("12")).Bold(true),
		time: r.NewStyle().Foreground(lipgloss.Color("8")),
	}
}

func (e *textEncoder) Encode(posts []timeline.Post) error {
	for _, p := range posts {
		_, err := fmt.Fprintf(e.w, "%s %s %s: %s\n",
			e.id.Render("["+strconv.FormatUint(p.ID, 10)+"]"),
			e.time.Render(p.DateTime),
			e.time.Render("("+strconv.FormatInt(p.Epoch, 10)+")"),
			p.Content,
		)
		if err != nil {
			return fmt.Errorf("output: text: %w", err)
		}
	}
	return nil
}
