package audio

import (
	"sync"
)

// Backlog is a bounded ring buffer holding audio bytes that arrived while the
// recognition link was not open (handshake or reconnect backoff). Bytes that
// do not fit are dropped and counted; the oldest bytes are kept because the
// start of a container stream carries its header.
type Backlog struct {
	mu      sync.Mutex
	buffer  []byte
	size    int
	read    int
	write   int
	dropped int
}

// NewBacklog creates a backlog holding up to size-1 bytes
func NewBacklog(size int) *Backlog {
	if size < 2 {
		size = 2
	}
	return &Backlog{
		buffer: make([]byte, size),
		size:   size,
	}
}

// Write appends data, returning the number of bytes stored
func (b *Backlog) Write(data []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	space := b.spaceLocked()
	n := len(data)
	if n > space {
		b.dropped += n - space
		n = space
	}

	for i := 0; i < n; {
		end := b.size
		if b.read > b.write {
			end = b.read - 1
		} else if b.read == 0 {
			end = b.size - 1
		}
		copied := copy(b.buffer[b.write:end], data[i:n])
		i += copied
		b.write = (b.write + copied) % b.size
	}

	return n
}

// Read reads up to len(p) pending bytes into p
func (b *Backlog) Read(p []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readLocked(p)
}

// Drain returns every pending byte in arrival order and empties the backlog
func (b *Backlog) Drain() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]byte, b.availableLocked())
	b.readLocked(out)
	b.read, b.write = 0, 0
	return out
}

// Available returns the number of bytes available to read
func (b *Backlog) Available() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.availableLocked()
}

// Dropped returns the number of bytes rejected because the backlog was full
func (b *Backlog) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// TakeDropped returns the drop counter and resets it
func (b *Backlog) TakeDropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.dropped
	b.dropped = 0
	return n
}

// Clear discards pending bytes and the drop counter
func (b *Backlog) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.read = 0
	b.write = 0
	b.dropped = 0
}

// IsEmpty returns true if nothing is pending
func (b *Backlog) IsEmpty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.read == b.write
}

// IsFull returns true if no more bytes can be stored
func (b *Backlog) IsFull() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return (b.write+1)%b.size == b.read
}

func (b *Backlog) readLocked(p []byte) int {
	n := 0
	for n < len(p) && b.read != b.write {
		end := b.size
		if b.write > b.read {
			end = b.write
		}
		copied := copy(p[n:], b.buffer[b.read:end])
		n += copied
		b.read = (b.read + copied) % b.size
	}
	return n
}

func (b *Backlog) availableLocked() int {
	if b.write >= b.read {
		return b.write - b.read
	}
	return b.size - b.read + b.write
}

// One slot stays empty to tell full from empty.
func (b *Backlog) spaceLocked() int {
	return b.size - b.availableLocked() - 1
}
