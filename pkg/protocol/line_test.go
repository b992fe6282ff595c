package protocol_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/drocsid-chat/pkg/protocol"
)

func drain(b *protocol.LineBuffer) []string {
	var lines []string
	for {
		line, ok := b.Next()
		if !ok {
			return lines
		}
		lines = append(lines, line)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		line string
		want protocol.LineKind
	}{
		{"", protocol.LineEmpty},
		{"srv: ALIVE", protocol.LineProbe},
		{".", protocol.LineEndOfMessage},
		{"Bob: hello", protocol.LineText},
		{"srv: ALIVE ", protocol.LineText},
		{"..", protocol.LineText},
	}

	for _, tt := range tests {
		t.Run(tt.want.String()+"/"+tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, protocol.Classify(tt.line))
		})
	}
}

func TestLineBuffer_SplitIndependence(t *testing.T) {
	stream := "TCHAT 1\nOKAY!\n\nsrv: ALIVE\nBob: hello\n.\r\nlast line\n"
	want := []string{"TCHAT 1", "OKAY!", "", "srv: ALIVE", "Bob: hello", ".", "last line"}

	whole := protocol.NewLineBuffer(0)
	_, err := whole.Write([]byte(stream))
	require.NoError(t, err)
	require.Equal(t, want, drain(whole))

	for chunk := 1; chunk <= len(stream); chunk++ {
		b := protocol.NewLineBuffer(0)
		var got []string
		for i := 0; i < len(stream); i += chunk {
			end := min(i+chunk, len(stream))
			_, err := b.Write([]byte(stream[i:end]))
			require.NoError(t, err)
			got = append(got, drain(b)...)
		}
		assert.Equal(t, want, got, "chunk size %d", chunk)
		assert.Zero(t, b.Buffered(), "chunk size %d", chunk)
	}
}

func TestLineBuffer_KeepsPartialTail(t *testing.T) {
	b := protocol.NewLineBuffer(0)

	_, err := b.Write([]byte("one\ntw"))
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, drain(b))
	assert.Equal(t, 2, b.Buffered())

	_, err = b.Write([]byte("o\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"two"}, drain(b))
}

func TestLineBuffer_LineTooLong(t *testing.T) {
	b := protocol.NewLineBuffer(8)

	_, err := b.Write([]byte("short\n12345678"))
	require.NoError(t, err)

	_, err = b.Write([]byte("9"))
	require.ErrorIs(t, err, protocol.ErrLineTooLong)

	// Complete lines received before the overflow are still delivered.
	line, ok := b.Next()
	require.True(t, ok)
	assert.Equal(t, "short", line)
}

func TestLineBuffer_LimitAppliesToUnterminatedTail(t *testing.T) {
	b := protocol.NewLineBuffer(4)

	_, err := b.Write([]byte(strings.Repeat("x", 10) + "\n" + "abcd"))
	require.NoError(t, err)
	assert.Equal(t, []string{strings.Repeat("x", 10)}, drain(b))
	assert.Equal(t, 4, b.Buffered())
}
