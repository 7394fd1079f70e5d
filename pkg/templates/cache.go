package templates

import (
	"container/list"
	"sync"
)

// astCache is a bounded LRU of compiled template bodies, keyed by
// (template id, format). Writes to a template invalidate all its entries,
// so a cached AST can never outlive the version it was compiled from.
type astCache struct {
	capacity int
	mu       sync.Mutex
	items    map[astKey]*list.Element
	eviction *list.List
}

type astKey struct {
	templateID string
	format     Format
}

type astEntry struct {
	key   astKey
	nodes []node
}

func newASTCache(capacity int) *astCache {
	if capacity <= 0 {
		capacity = 128
	}
	return &astCache{
		capacity: capacity,
		items:    make(map[astKey]*list.Element),
		eviction: list.New(),
	}
}

func (c *astCache) get(key astKey) ([]node, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.eviction.MoveToFront(elem)
	return elem.Value.(*astEntry).nodes, true
}

func (c *astCache) put(key astKey, nodes []node) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.eviction.MoveToFront(elem)
		elem.Value.(*astEntry).nodes = nodes
		return
	}

	elem := c.eviction.PushFront(&astEntry{key: key, nodes: nodes})
	c.items[key] = elem

	if c.eviction.Len() > c.capacity {
		oldest := c.eviction.Back()
		if oldest != nil {
			c.eviction.Remove(oldest)
			delete(c.items, oldest.Value.(*astEntry).key)
		}
	}
}

// invalidate drops every cached format of a template.
func (c *astCache) invalidate(templateID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, format := range []Format{FormatHTML, FormatText, FormatSMS, FormatPush} {
		key := astKey{templateID: templateID, format: format}
		if elem, ok := c.items[key]; ok {
			c.eviction.Remove(elem)
			delete(c.items, key)
		}
	}
}
