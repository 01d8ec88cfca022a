package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/ugorji/go/codec"

	"github.com/brother-wolf/scrapers-lib/engine/timeline"
)

// ReadAll decodes every post in r, which holds a stream written by the
// json or msgpack encoder. Text output is not machine readable.
func ReadAll(format string, r io.Reader) ([]timeline.Post, error) {
	switch format {
	case FormatJSON, "":
		return readJSON(r)
	case FormatMsgpack:
		return readMsgpack(r)
	default:
		return nil, fmt.Errorf("output: cannot read format %q", format)
	}
}

func readJSON(r io.Reader) ([]timeline.Post, error) {
	dec := json.NewDecoder(r)
	posts := []timeline.Post{}
	for dec.More() {
		var p timeline.Post
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("output: json post %d: %w", len(posts), err)
		}
		posts = append(posts, p)
	}
	return posts, nil
}

func readMsgpack(r io.Reader) ([]timeline.Post, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("output: read msgpack: %w", err)
	}
	dec := codec.NewDecoderBytes(b, &codec.MsgpackHandle{})
	posts := []timeline.Post{}
	for dec.NumBytesRead() < len(b) {
		var p timeline.Post
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("output: msgpack post %d: %w", len(posts), err)
		}
		posts = append(posts, p)
	}
	return posts, nil
}
