package survey

import (
	"fmt"
	"sync/atomic"
)

// DefaultIDPrefix namespaces locally completed polygons apart from persisted ones
const DefaultIDPrefix = "local"

// PersistedIDPrefix namespaces polygons that came back from the property backend
const PersistedIDPrefix = "property"

// IDGenerator hands out polygon IDs
type IDGenerator interface {
	NextID() string
}

type counterIDs struct {
	prefix string
	next   atomic.Uint64
}

// NewCounterIDs returns a monotonic generator producing "<prefix>-1", "<prefix>-2", ...
func NewCounterIDs(prefix string) IDGenerator {
	if prefix == "" {
		prefix = DefaultIDPrefix
	}
	return &counterIDs{prefix: prefix}
}

func (c *counterIDs) NextID() string {
	return fmt.Sprintf("%s-%d", c.prefix, c.next.Add(1))
}

// PersistedID returns the polygon ID for a backend record
func PersistedID(recordID int64) string {
	return fmt.Sprintf("%s-%d", PersistedIDPrefix, recordID)
}
