package client

import (
	"sync"

	"github.com/esp32-access-manager/backend/internal/storage/models"
)

// DefaultLogBufferSize bounds the live log view.
const DefaultLogBufferSize = 100

// LogBuffer keeps the newest unlock attempts pushed by the server, newest
// first.
type LogBuffer struct {
	mu      sync.Mutex
	size    int
	entries []models.UnlockLog
}

// NewLogBuffer creates a buffer holding at most size entries.
func NewLogBuffer(size int) *LogBuffer {
	if size <= 0 {
		size = DefaultLogBufferSize
	}
	return &LogBuffer{size: size}
}

// Push prepends entry and drops the oldest beyond capacity. An entry whose
// id is already buffered is ignored.
func (b *LogBuffer) Push(entry models.UnlockLog) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if entry.ID != 0 {
		for _, e := range b.entries {
			if e.ID == entry.ID {
				return
			}
		}
	}
	b.entries = append([]models.UnlockLog{entry}, b.entries...)
	if len(b.entries) > b.size {
		b.entries = b.entries[:b.size]
	}
}

// Entries returns a copy, newest first.
func (b *LogBuffer) Entries() []models.UnlockLog {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.UnlockLog, len(b.entries))
	copy(out, b.entries)
	return out
}

// Len returns the number of buffered entries.
func (b *LogBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Clear acknowledges every buffered entry.
func (b *LogBuffer) Clear() {
	b.mu.Lock()
	b.entries = nil
	b.mu.Unlock()
}
