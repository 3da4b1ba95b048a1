package meter

import (
	"sync"
	"time"
)

// Cache holds the latest reading of the external energy meter.
type Cache struct {
	data *Data
	sync.RWMutex
}

func (c *Cache) Get() *Data {
	c.RLock()
	defer c.RUnlock()
	return c.data
}

// Fresh returns the cached reading if it was taken less than maxAge before now.
func (c *Cache) Fresh(now time.Time, maxAge time.Duration) *Data {
	c.RLock()
	defer c.RUnlock()
	if c.data == nil || now.Sub(c.data.Time) >= maxAge {
		return nil
	}
	return c.data
}

func (c *Cache) Set(d *Data) {
	c.Lock()
	c.data = d
	c.Unlock()
}
