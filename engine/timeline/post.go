// Package timeline extracts post records from rendered feed markup.
package timeline

import (
	"fmt"
	"time"

	"github.com/brother-wolf/scrapers-lib/pkg/fn"
)

// DisplayLayout is the UTC rendering used for Post.DateTime.
const DisplayLayout = "2006-01-02 15:04:05"

// Post is one extracted timeline entry. Build it with NewPost so DateTime
// always matches Epoch.
type Post struct {
	ID       uint64 `json:"id" codec:"id"`
	Epoch    int64  `json:"epoch" codec:"epoch"`
	DateTime string `json:"date_time" codec:"date_time"`
	Content  string `json:"content" codec:"content"`
}

// NewPost builds a Post from a millisecond epoch. The epoch is stored
// verbatim; DateTime is its UTC rendering truncated to whole seconds.
func NewPost(id uint64, epochMillis int64, content string) Post {
	return Post{
		ID:       id,
		Epoch:    epochMillis,
		DateTime: EpochTime(epochMillis).Format(DisplayLayout),
		Content:  content,
	}
}

// Time returns the post's timestamp as a UTC time.
func (p Post) Time() time.Time { return EpochTime(p.Epoch) }

func (p Post) String() string {
	return fmt.Sprintf("[%d] %s (%d): %s", p.ID, p.DateTime, p.Epoch, p.Content)
}

// EpochTime converts milliseconds since the Unix epoch to a UTC time.
func EpochTime(millis int64) time.Time {
	sec, rem := SplitEpoch(millis)
	return time.Unix(sec, rem*int64(time.Millisecond)).UTC()
}

// SplitEpoch splits a millisecond epoch into whole seconds and a remainder
// in [0, 999]. Seconds round toward negative infinity, so pre-1970 epochs
// split as -1 -> (-1, 999) rather than (0, -1).
func SplitEpoch(millis int64) (sec, rem int64) {
	sec, rem = millis/1000, millis%1000
	if rem < 0 {
		sec--
		rem += 1000
	}
	return sec, rem
}

// Dedup keeps the first post for each ID, preserving order. Extraction never
// calls it; duplicates in the markup are returned as-is.
func Dedup(posts []Post) []Post {
	out := fn.UniqueBy(posts, func(p Post) uint64 { return p.ID })
	if out == nil {
		return []Post{}
	}
	return out
}
