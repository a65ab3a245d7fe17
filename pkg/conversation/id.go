package conversation

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// IDPrefix is the key namespace of conversation records.
const IDPrefix = "conv_"

// IDGenerator hands out conversation ids derived from the creation time.
// Ids from the same generator are strictly increasing, even when two conversations
// are created within the same millisecond.
type IDGenerator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

type IDGeneratorOption func(*IDGenerator)

func WithClock(now func() time.Time) IDGeneratorOption {
	return func(g *IDGenerator) {
		g.now = now
	}
}

func NewIDGenerator(options ...IDGeneratorOption) *IDGenerator {
	ret := &IDGenerator{now: time.Now}
	for _, option := range options {
		option(ret)
	}
	return ret
}

func (g *IDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().UnixMilli()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	return FormatID(ms)
}

func FormatID(ms int64) string {
	return IDPrefix + strconv.FormatInt(ms, 10)
}

// ParseID extracts the creation time encoded in a conversation id.
// It returns false for keys outside the conversation namespace.
func ParseID(id string) (time.Time, bool) {
	if !strings.HasPrefix(id, IDPrefix) {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(strings.TrimPrefix(id, IDPrefix), 10, 64)
	if err != nil || ms < 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func IsID(key string) bool {
	_, ok := ParseID(key)
	return ok
}
