package correlation

import (
	"context"
	"fmt"

	"github.com/permaweb/ao-ucm/internal/ledger"
	"github.com/permaweb/ao-ucm/internal/message"
)

// DefaultWindow is how many recent messages are scanned per process.
const DefaultWindow = ledger.DefaultPageSize

// Matcher finds the messages that echo a correlation id. Only the most recent
// window of each log is scanned; anything older is not found.
type Matcher struct {
	reader ledger.Reader
	window int
}

// NewMatcher scans window messages per process (DefaultWindow when <= 0).
func NewMatcher(reader ledger.Reader, window int) *Matcher {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Matcher{reader: reader, window: window}
}

// Match reads each process in order and returns every message carrying
// correlationID on any of its correlation sources, grouped by process. An empty result means nothing has
// landed yet.
func (m *Matcher) Match(ctx context.Context, processes []string, correlationID string) ([]message.Message, error) {
	var matched []message.Message
	for _, process := range processes {
		batch, err := m.reader.Read(ctx, process, ledger.Page{Limit: m.window})
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", process, err)
		}
		for _, msg := range batch.Messages {
			if msg.Correlates(correlationID) {
				matched = append(matched, msg)
			}
		}
	}
	return matched, nil
}
