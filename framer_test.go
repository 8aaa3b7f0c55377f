package jsonmessenger

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedAll(t *testing.T, f *Framer, blocks ...string) []string {
	t.Helper()
	var out []string
	for _, b := range blocks {
		msgs, err := f.Feed([]byte(b))
		require.NoError(t, err)
		for _, m := range msgs {
			out = append(out, string(m))
		}
	}
	return out
}

func TestFramer_SingleBlock(t *testing.T) {
	f := NewFramer(0)

	got := feedAll(t, f, `{"type":"chat","text":"hi"}`)

	assert.Equal(t, []string{`{"type":"chat","text":"hi"}`}, got)
	assert.Zero(t, f.Pending())
}

func TestFramer_Fragmented(t *testing.T) {
	f := NewFramer(0)

	got := feedAll(t, f, `{"type":"ch`, `at","text":"h`, `i"}`)

	assert.Equal(t, []string{`{"type":"chat","text":"hi"}`}, got)
}

func TestFramer_SeveralMessagesInOneBlock(t *testing.T) {
	f := NewFramer(0)

	got := feedAll(t, f, `{"type":"a"}{"type":"b"}[{"type":"c"}]{"type":`)

	assert.Equal(t, []string{`{"type":"a"}`, `{"type":"b"}`, `[{"type":"c"}]`}, got)
	assert.Equal(t, len(`{"type":`), f.Pending())
	assert.True(t, f.Counters().Opened())
}

func TestFramer_CountersResetAfterMessage(t *testing.T) {
	f := NewFramer(0)

	feedAll(t, f, `{"a":[{"b":[]}]}`)

	c := f.Counters()
	assert.Zero(t, c.Braces)
	assert.Zero(t, c.Brackets)
	assert.False(t, c.Opened())
}

func TestFramer_InertPrefix(t *testing.T) {
	f := NewFramer(0)

	got := feedAll(t, f, "{}\r\n", " {}")

	assert.Equal(t, []string{"{}", "\r\n {}"}, got)
}

func TestFramer_WhitespaceNeverCompletes(t *testing.T) {
	f := NewFramer(0)

	got := feedAll(t, f, "  \n\t")

	assert.Empty(t, got)
	assert.Equal(t, 4, f.Pending())
}

// Any split of the stream must yield the same messages.
func TestFramer_Reassembly(t *testing.T) {
	texts := []string{
		`{"type":"a","n":{"m":{}}}`,
		`[1,[2,[3]]]`,
		`{"type":"b","list":[1,2,{"c":[]}]}`,
		`[]`,
		`{}`,
	}
	stream := strings.Join(texts, "")

	for size := 1; size <= len(stream); size++ {
		f := NewFramer(0)
		var blocks []string
		for i := 0; i < len(stream); i += size {
			end := i + size
			if end > len(stream) {
				end = len(stream)
			}
			blocks = append(blocks, stream[i:end])
		}

		got := feedAll(t, f, blocks...)
		require.Equal(t, texts, got, "chunk size %d", size)
		require.Zero(t, f.Pending(), "chunk size %d", size)
	}
}

func TestFramer_StrayClosingToken(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		before []string
		token  byte
	}{
		{"stray brace", `}`, nil, '}'},
		{"stray bracket", `]`, nil, ']'},
		{"after message", `{"a":1}}`, []string{`{"a":1}`}, '}'},
		{"mismatched", `{"a":]`, nil, ']'},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFramer(0)

			msgs, err := f.Feed([]byte(tt.input))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrFraming))

			var ferr *FramingError
			require.True(t, errors.As(err, &ferr))
			assert.Equal(t, tt.token, ferr.Token)

			var got []string
			for _, m := range msgs {
				got = append(got, string(m))
			}
			assert.Equal(t, tt.before, got)
			assert.Zero(t, f.Pending())
			assert.Equal(t, Counters{}, f.Counters())
		})
	}
}

func TestFramer_StrayTokenOffset(t *testing.T) {
	f := NewFramer(0)

	_, err := f.Feed([]byte(`  {"a":1`))
	require.NoError(t, err)
	_, err = f.Feed([]byte(`]`))

	var ferr *FramingError
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, len(`  {"a":1`), ferr.Offset)
}

func TestFramer_MaxSize(t *testing.T) {
	f := NewFramer(8)

	got := feedAll(t, f, `{"a":12}`)
	assert.Equal(t, []string{`{"a":12}`}, got)

	_, err := f.Feed([]byte(`{"a":123}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFraming))
	assert.True(t, errors.Is(err, ErrMessageTooLarge))
	assert.Zero(t, f.Pending())
}

func TestFramer_MaxSizeAcrossBlocks(t *testing.T) {
	f := NewFramer(8)

	_, err := f.Feed([]byte(`{"abc"`))
	require.NoError(t, err)

	_, err = f.Feed([]byte(`:"defg"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMessageTooLarge))
}

// Structural characters inside strings are counted; this payload leaves the
// brace depth at one.
func TestFramer_BraceInsideString(t *testing.T) {
	f := NewFramer(0)

	got := feedAll(t, f, `{"text":"{"}`)

	assert.Empty(t, got)
	assert.Equal(t, 1, f.Counters().Braces)
}

func TestFramer_UnframedBytesLimit(t *testing.T) {
	f := NewFramer(4)

	_, err := f.Feed([]byte("\n\n\n\n\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFraming))
	assert.True(t, errors.Is(err, ErrUnframedBytes))
	assert.False(t, errors.Is(err, ErrMessageTooLarge))
	assert.Zero(t, f.Pending())
}

func TestFramer_CountersByValue(t *testing.T) {
	f := NewFramer(0)
	feedAll(t, f, `{"a":`)

	c := f.Counters()
	assert.True(t, c.Opened())
	assert.False(t, c.Balanced())
	assert.False(t, f.Counters().Balanced())
}
