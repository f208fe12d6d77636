package memory

import "sync"

// episodicCache keeps the most recent episodic records per (agency, user)
// key, trimming the oldest entries beyond capacity. It is a performance
// layer only: writes always hit the backend first, and cache updates never
// fail.
type episodicCache struct {
	mu       sync.Mutex
	entries  map[string][]EpisodicRecord
	capacity int
}

func newEpisodicCache(capacity int) *episodicCache {
	return &episodicCache{
		entries:  make(map[string][]EpisodicRecord),
		capacity: capacity,
	}
}

func (c *episodicCache) add(agencyID, userID string, rec EpisodicRecord) {
	key := agencyID + "\x00" + userID
	c.mu.Lock()
	defer c.mu.Unlock()

	list := append(c.entries[key], rec)
	if len(list) > c.capacity {
		list = list[len(list)-c.capacity:]
	}
	c.entries[key] = list
}

func (c *episodicCache) get(agencyID, userID string) []EpisodicRecord {
	key := agencyID + "\x00" + userID
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.entries[key]
	out := make([]EpisodicRecord, len(list))
	copy(out, list)
	return out
}

// proceduralCache keeps the best patterns per (agency, task type) key.
// Eviction removes the entry with the lowest success rate.
type proceduralCache struct {
	mu       sync.Mutex
	entries  map[string][]ProceduralRecord
	capacity int
}

func newProceduralCache(capacity int) *proceduralCache {
	return &proceduralCache{
		entries:  make(map[string][]ProceduralRecord),
		capacity: capacity,
	}
}

func (c *proceduralCache) add(agencyID, taskType string, rec ProceduralRecord) {
	key := agencyID + "\x00" + taskType
	c.mu.Lock()
	defer c.mu.Unlock()

	list := append(c.entries[key], rec)
	for len(list) > c.capacity {
		worst := 0
		for i, r := range list {
			if r.SuccessRate < list[worst].SuccessRate {
				worst = i
			}
		}
		list = append(list[:worst], list[worst+1:]...)
	}
	c.entries[key] = list
}

func (c *proceduralCache) get(agencyID, taskType string) []ProceduralRecord {
	key := agencyID + "\x00" + taskType
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.entries[key]
	out := make([]ProceduralRecord, len(list))
	copy(out, list)
	return out
}
