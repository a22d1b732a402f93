package client

import (
	"sync"

	"github.com/esp32-access-manager/backend/internal/storage/models"
)

// Resource names a cached collection.
type Resource string

const (
	ResourceCodes         Resource = "codes"
	ResourceCards         Resource = "cards"
	ResourceLogs          Resource = "logs"
	ResourceGuests        Resource = "guests"
	ResourcePendingGuests Resource = "pending_guests"
	ResourceRequests      Resource = "requests"
	ResourceMyRequests    Resource = "my_requests"
)

// Cache holds the last fetched copy of each collection. Every fetch takes
// a ticket with Begin; Apply accepts a result only if no newer ticket was
// issued for the same resource, so a slow response never overwrites a
// fresher one.
type Cache struct {
	mu      sync.RWMutex
	issued  map[Resource]uint64
	applied map[Resource]uint64
	data    map[Resource]any
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		issued:  make(map[Resource]uint64),
		applied: make(map[Resource]uint64),
		data:    make(map[Resource]any),
	}
}

// Begin issues a ticket for a new fetch of r.
func (c *Cache) Begin(r Resource) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.issued[r]++
	return c.issued[r]
}

// Apply stores v for r if ticket is the newest issued. It reports whether
// the value was stored.
func (c *Cache) Apply(r Resource, ticket uint64, v any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ticket != c.issued[r] || ticket <= c.applied[r] {
		return false
	}
	c.applied[r] = ticket
	c.data[r] = v
	return true
}

func cached[T any](c *Cache, r Resource) T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, _ := c.data[r].(T)
	return v
}

func (c *Cache) Codes() []models.AccessCode {
	return cached[[]models.AccessCode](c, ResourceCodes)
}

func (c *Cache) Cards() []models.NFCCard {
	return cached[[]models.NFCCard](c, ResourceCards)
}

func (c *Cache) Logs() *models.LogPage {
	return cached[*models.LogPage](c, ResourceLogs)
}

func (c *Cache) Guests() []models.Guest {
	return cached[[]models.Guest](c, ResourceGuests)
}

func (c *Cache) PendingGuests() []models.Guest {
	return cached[[]models.Guest](c, ResourcePendingGuests)
}

func (c *Cache) Requests() []models.AccessRequest {
	return cached[[]models.AccessRequest](c, ResourceRequests)
}

func (c *Cache) MyRequests() []models.AccessRequest {
	return cached[[]models.AccessRequest](c, ResourceMyRequests)
}
