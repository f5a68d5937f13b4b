package agentcard

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache keeps fetched cards for a while so reconnects and resets skip the network.
// Cached documents are shared and must be treated as read-only.
type Cache struct {
	c   *ristretto.Cache[string, Document]
	ttl time.Duration
}

// NewCache holds up to maxCards documents, each for ttl.
func NewCache(maxCards int64, ttl time.Duration) (*Cache, error) {
	if maxCards <= 0 {
		maxCards = 128
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, Document]{
		NumCounters:        maxCards * 10,
		MaxCost:            maxCards,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("agentcard: creating cache: %w", err)
	}
	return &Cache{c: c, ttl: ttl}, nil
}

func (c *Cache) Get(cardURL string) (Document, bool) {
	return c.c.Get(cardURL)
}

func (c *Cache) Set(cardURL string, doc Document) {
	c.c.SetWithTTL(cardURL, doc, 1, c.ttl)
	c.c.Wait()
}

func (c *Cache) Invalidate(cardURL string) {
	c.c.Del(cardURL)
}

func (c *Cache) Close() {
	c.c.Close()
}
