// internal/bank/item.go
package bank

import (
	"sync"

	"github.com/FairForge/tierbank/internal/pathtree"
)

// item is the record kept in the index for one path. Its tier lives in
// the tracker; data and hot bytes are only changed by the transition job
// currently running for the path.
type item struct {
	path   pathtree.Path
	key    string
	hotKey []string

	mu       sync.Mutex
	source   Source
	data     Data
	hotValid bool // hot bytes match data
	hotSize  int64
}

func newItem(p pathtree.Path, src Source) *item {
	return &item{
		path:   p,
		key:    p.Key(),
		hotKey: p.KeySegments(),
		source: src,
	}
}

func (it *item) Source() Source {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.source
}

func (it *item) loaded() Data {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.data
}

func (it *item) setData(d Data, hotValid bool, hotSize int64) {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.data = d
	it.hotValid = hotValid
	it.hotSize = hotSize
}

// take detaches the data object
func (it *item) take() Data {
	it.mu.Lock()
	defer it.mu.Unlock()
	d := it.data
	it.data = nil
	return d
}

func (it *item) hotCopy() (bool, int64) {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.hotValid, it.hotSize
}

func (it *item) setHot(valid bool, size int64) {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.hotValid = valid
	it.hotSize = size
}
