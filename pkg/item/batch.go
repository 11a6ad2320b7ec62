package item

import (
	"fmt"
	"sync"
)

// Weight is the cost of a batch: how many items and how many bytes.
type Weight struct {
	Items int
	Bytes int64
}

// Batch is a group of items imported as one transactional unit.
type Batch struct {
	Number int
	Items  []*Item
}

// Weight returns the item count and content bytes of the batch
func (b *Batch) Weight() Weight {
	w := Weight{Items: len(b.Items)}
	for _, it := range b.Items {
		w.Bytes += it.Size()
	}
	return w
}

// VersionCount is the number of versions over all items
func (b *Batch) VersionCount() int {
	n := 0
	for _, it := range b.Items {
		n += len(it.Versions())
	}
	return n
}

func (b *Batch) String() string {
	w := b.Weight()
	return fmt.Sprintf("Batch #%d, %d items, %d bytes", b.Number, w.Items, w.Bytes)
}

// Batcher groups items into batches capped by item count and byte size.
// Directories and files are accumulated separately so a flushed directory
// batch never waits behind files of the same listing.
type Batcher struct {
	maxItems int
	maxBytes int64
	emit     func(*Batch) error

	mu      sync.Mutex
	next    int
	folders pending
	files   pending
}

type pending struct {
	items []*Item
	bytes int64
}

// NewBatcher creates a batcher. A non-positive maxBytes disables the byte cap.
func NewBatcher(maxItems int, maxBytes int64, emit func(*Batch) error) *Batcher {
	if maxItems <= 0 {
		maxItems = 100
	}
	return &Batcher{maxItems: maxItems, maxBytes: maxBytes, emit: emit, next: 1}
}

// Add queues an item, emitting a batch once a cap is reached
func (b *Batcher) Add(it *Item) error {
	b.mu.Lock()
	p := &b.files
	if it.IsDirectory() {
		p = &b.folders
	}
	p.items = append(p.items, it)
	p.bytes += it.Size()

	var ready *Batch
	if len(p.items) >= b.maxItems || (b.maxBytes > 0 && p.bytes >= b.maxBytes) {
		ready = b.take(p)
	}
	b.mu.Unlock()

	if ready != nil {
		return b.emit(ready)
	}
	return nil
}

// FlushFolders emits pending directories. Callers flush folders before
// descending so that child batches follow their parents.
func (b *Batcher) FlushFolders() error {
	b.mu.Lock()
	ready := b.take(&b.folders)
	b.mu.Unlock()
	if ready == nil {
		return nil
	}
	return b.emit(ready)
}

// Flush emits all pending items, folders first
func (b *Batcher) Flush() error {
	if err := b.FlushFolders(); err != nil {
		return err
	}
	b.mu.Lock()
	ready := b.take(&b.files)
	b.mu.Unlock()
	if ready == nil {
		return nil
	}
	return b.emit(ready)
}

// Emitted returns the number of batches emitted so far
func (b *Batcher) Emitted() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.next - 1
}

func (b *Batcher) take(p *pending) *Batch {
	if len(p.items) == 0 {
		return nil
	}
	batch := &Batch{Number: b.next, Items: p.items}
	b.next++
	p.items = nil
	p.bytes = 0
	return batch
}
