package stream

import (
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator hands out request ids that are unique for the life of one
// generator: a random per-session prefix followed by a counter.
type IDGenerator struct {
	prefix string
	n      atomic.Uint64
}

// NewIDGenerator seeds a generator with a fresh uuid-derived prefix.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{prefix: strings.ReplaceAll(uuid.NewString(), "-", "")[:8]}
}

// Next returns an id for a request that expects a response.
func (g *IDGenerator) Next() string {
	return g.prefix + "_" + strconv.FormatUint(g.n.Add(1), 10)
}

// NextSub returns an id for a subscription frame.
func (g *IDGenerator) NextSub() string {
	return "s_" + g.prefix + "_" + strconv.FormatUint(g.n.Add(1), 10)
}
