package actions

import (
	"context"
	"log/slog"
	"sync"
)

// SlogNotifier writes team messages to the structured log. It stands in for
// a chat transport when none is configured.
type SlogNotifier struct {
	Logger *slog.Logger
}

func (n *SlogNotifier) Notify(ctx context.Context, message string) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "team message", "message", message)
	return nil
}

// MemoryNotifier records messages in order. Test double.
type MemoryNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *MemoryNotifier) Notify(ctx context.Context, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return nil
}

// Messages returns the recorded messages in delivery order.
func (n *MemoryNotifier) Messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}
