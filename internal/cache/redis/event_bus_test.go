package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestXReadArgsNonBlocking(t *testing.T) {
	args := xReadArgs("markets", "5-0", 10)

	assert.Equal(t, []string{"markets", "5-0"}, args.Streams)
	assert.Equal(t, int64(10), args.Count)
	// A zero or positive Block turns the read into XREAD BLOCK, which
	// would stall the replay endpoint when the stream has no new entries.
	assert.Negative(t, args.Block)
}

func TestHasPattern(t *testing.T) {
	assert.False(t, hasPattern("markets"))
	assert.True(t, hasPattern("market:*"))
	assert.True(t, hasPattern("event?"))
}
