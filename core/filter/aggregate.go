package filter

import (
	"fmt"
	"strings"
	"sync"
)

// DefaultAggregateThreshold is used by the "aggregate" registry entry.
const DefaultAggregateThreshold = 2

// Aggregator buffers textual payloads across broadcasts and releases them as one
// concatenated payload once threshold payloads have been collected, then starts over.
// Non-textual payloads are formatted with fmt.Sprint.
type Aggregator struct {
	mu        sync.Mutex
	threshold int
	buf       strings.Builder
	count     int
}

// NewAggregator creates an aggregator; thresholds below 1 are treated as 1.
func NewAggregator(threshold int) *Aggregator {
	if threshold < 1 {
		threshold = 1
	}
	return &Aggregator{threshold: threshold}
}

// Filter implements Filter.
func (a *Aggregator) Filter(payload any) Result {
	s, ok := asText(payload)
	if !ok {
		s = fmt.Sprint(payload)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.buf.WriteString(s)
	a.count++

	if a.count < a.threshold {
		return Held()
	}

	out := a.buf.String()
	a.buf.Reset()
	a.count = 0

	return Pass(out)
}

// Pending reports how many payloads are buffered.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}
