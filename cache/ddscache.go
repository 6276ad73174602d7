package cache

import (
	"fmt"
	"sync"

	"github.com/nautopia/rdds/guid"
)

// identity is the (writer_guid, sequence_number) pair CacheChange
// equality is defined over (spec.md §3).
type identity struct {
	writer guid.GUID
	seq    guid.SequenceNumber
}

// Entry pairs a CacheChange with the receive Instant it was stored
// under, as returned by ChangesInRange.
type Entry struct {
	Instant guid.Instant
	Change  CacheChange
}

type topicStore struct {
	entries    []Entry                   // strictly increasing by Instant
	seen       map[identity]struct{}     // dedup index
	byKeyHash  map[InstanceKeyHash]int   // -> index of most recent entry for that key
}

func newTopicStore() *topicStore {
	return &topicStore{
		seen:      make(map[identity]struct{}),
		byKeyHash: make(map[InstanceKeyHash]int),
	}
}

// DDSCache is the mapping from topic name to a per-topic, time-ordered
// store of CacheChanges (spec.md §3, §4.2). It is safe for concurrent
// use: a single writer-preferring RWMutex gates every topic (spec.md
// §5) — readers (ChangesInRange, GetByKeyHash) take it shared, any
// insert or eviction takes it exclusive.
type DDSCache struct {
	mu     sync.RWMutex
	topics map[string]*topicStore
}

func NewDDSCache() *DDSCache {
	return &DDSCache{topics: make(map[string]*topicStore)}
}

// AddChange inserts change into topic under instant. It returns
// inserted=false without error if (WriterGUID, SequenceNumber) is
// already present — an idempotent no-op (spec.md §4.2, testable
// property #6). It returns an error only if instant does not strictly
// increase the topic's last-seen instant, which would violate the
// per-topic ordering invariant (spec.md §3).
func (c *DDSCache) AddChange(topic string, instant guid.Instant, change CacheChange) (inserted bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	store, ok := c.topics[topic]
	if !ok {
		store = newTopicStore()
		c.topics[topic] = store
	}

	id := identity{writer: change.WriterGUID, seq: change.SequenceNumber}
	if _, dup := store.seen[id]; dup {
		return false, nil
	}

	if n := len(store.entries); n > 0 && instant <= store.entries[n-1].Instant {
		return false, fmt.Errorf("cache: instant %d does not strictly increase topic %q's last instant %d", instant, topic, store.entries[n-1].Instant)
	}

	store.entries = append(store.entries, Entry{Instant: instant, Change: change})
	store.seen[id] = struct{}{}
	store.byKeyHash[change.InstanceKeyHash] = len(store.entries) - 1
	return true, nil
}

// ChangesInRange returns a snapshot, in strictly non-decreasing
// instant order, of every change with fromExclusive < instant <=
// toInclusive (testable property #10). Pass guid.Instant(0) and
// guid.Instant(math.MaxInt64) to read everything.
func (c *DDSCache) ChangesInRange(topic string, fromExclusive, toInclusive guid.Instant) []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	store, ok := c.topics[topic]
	if !ok {
		return nil
	}

	out := make([]Entry, 0, len(store.entries))
	for _, e := range store.entries {
		if e.Instant > fromExclusive && e.Instant <= toInclusive {
			out = append(out, e)
		}
	}
	return out
}

// GetByKeyHash returns the most recently inserted change carrying the
// given instance key hash on topic — used to resolve dispose/
// unregister notifications whose payload is absent (spec.md §4.2).
func (c *DDSCache) GetByKeyHash(topic string, keyHash InstanceKeyHash) (CacheChange, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	store, ok := c.topics[topic]
	if !ok {
		return CacheChange{}, false
	}
	idx, ok := store.byKeyHash[keyHash]
	if !ok {
		return CacheChange{}, false
	}
	return store.entries[idx].Change, true
}

// RemoveChangesBefore evicts every change with Instant < before,
// implementing History eviction (spec.md §4.2, §4.4).
func (c *DDSCache) RemoveChangesBefore(topic string, before guid.Instant) {
	c.mu.Lock()
	defer c.mu.Unlock()

	store, ok := c.topics[topic]
	if !ok {
		return
	}
	kept := store.entries[:0:0]
	for _, e := range store.entries {
		if e.Instant < before {
			id := identity{writer: e.Change.WriterGUID, seq: e.Change.SequenceNumber}
			delete(store.seen, id)
			continue
		}
		kept = append(kept, e)
	}
	store.entries = kept
	store.byKeyHash = make(map[InstanceKeyHash]int, len(kept))
	for i, e := range kept {
		store.byKeyHash[e.Change.InstanceKeyHash] = i
	}
}

// RemoveOldestPerInstanceBeyond implements KeepLast(n) eviction: for
// each instance key hash on topic, only the newest n changes survive.
func (c *DDSCache) RemoveOldestPerInstanceBeyond(topic string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	store, ok := c.topics[topic]
	if !ok || n <= 0 {
		return
	}

	perInstance := make(map[InstanceKeyHash][]int)
	for i, e := range store.entries {
		perInstance[e.Change.InstanceKeyHash] = append(perInstance[e.Change.InstanceKeyHash], i)
	}

	drop := make(map[int]struct{})
	for _, idxs := range perInstance {
		if len(idxs) <= n {
			continue
		}
		for _, idx := range idxs[:len(idxs)-n] {
			drop[idx] = struct{}{}
		}
	}
	if len(drop) == 0 {
		return
	}

	kept := store.entries[:0:0]
	for i, e := range store.entries {
		if _, dropped := drop[i]; dropped {
			id := identity{writer: e.Change.WriterGUID, seq: e.Change.SequenceNumber}
			delete(store.seen, id)
			continue
		}
		kept = append(kept, e)
	}
	store.entries = kept
	store.byKeyHash = make(map[InstanceKeyHash]int, len(kept))
	for i, e := range kept {
		store.byKeyHash[e.Change.InstanceKeyHash] = i
	}
}
