package timeline

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPost(t *testing.T) {
	p := NewPost(1443075780444098563, 1632891051000, heathrowText)
	assert.Equal(t, "2021-09-29 04:50:51", p.DateTime)
	assert.Equal(t, int64(1632891051000), p.Epoch)
}

func TestNewPost_TruncatesSubSecond(t *testing.T) {
	p := NewPost(1, 1632891051999, "")
	assert.Equal(t, "2021-09-29 04:50:51", p.DateTime)
	assert.Equal(t, int64(1632891051999), p.Epoch)
	assert.Equal(t, 999_000_000, p.Time().Nanosecond())
}

func TestPostString(t *testing.T) {
	p := NewPost(42, 1000, "hi <b>there</b>")
	assert.Equal(t, "[42] 1970-01-01 00:00:01 (1000): hi <b>there</b>", p.String())
}

func TestPostJSONFieldNames(t *testing.T) {
	data, err := json.Marshal(NewPost(18446744073709551615, -1, "x"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":18446744073709551615,"epoch":-1,"date_time":"1969-12-31 23:59:59","content":"x"}`, string(data))
}

func TestSplitEpoch(t *testing.T) {
	tests := []struct {
		in       int64
		sec, rem int64
	}{
		{0, 0, 0},
		{999, 0, 999},
		{1000, 1, 0},
		{1632891051123, 1632891051, 123},
		{-1, -1, 999},
		{-1000, -1, 0},
		{-1001, -2, 999},
	}
	for _, tt := range tests {
		sec, rem := SplitEpoch(tt.in)
		assert.Equal(t, tt.sec, sec, "sec for %d", tt.in)
		assert.Equal(t, tt.rem, rem, "rem for %d", tt.in)
		assert.Equal(t, tt.in, sec*1000+rem)
	}
}

func TestEpochTime_PreEpoch(t *testing.T) {
	assert.Equal(t, "1969-12-31 23:59:59", EpochTime(-1).Format(DisplayLayout))
	assert.Equal(t, "1969-12-31 23:59:58", EpochTime(-1001).Format(DisplayLayout))
}

func TestDedup(t *testing.T) {
	assert.Equal(t, []Post{}, Dedup(nil))

	a, b := NewPost(1, 1, "a"), NewPost(2, 2, "b")
	dup := NewPost(1, 3, "a again")
	assert.Equal(t, []Post{a, b}, Dedup([]Post{a, b, dup}))
}
