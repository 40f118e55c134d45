package align

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(ch <-chan string) []string {
	var out []string
	for s := range ch {
		out = append(out, s)
	}
	return out
}

func TestChunkStringSplitsByRuneCount(t *testing.T) {
	chunks := drain(chunkString("hello world", 4))
	assert.Equal(t, []string{"hell", "o wo", "rld"}, chunks)
}

func TestChunkStringEmptyStringYieldsNoChunks(t *testing.T) {
	chunks := drain(chunkString("", 4))
	assert.Empty(t, chunks)
}

func TestChunkStringHandlesMultibyteRunes(t *testing.T) {
	chunks := drain(chunkString("héllo", 2))
	require.Len(t, chunks, 3)
	assert.Equal(t, "hé", chunks[0])
}
