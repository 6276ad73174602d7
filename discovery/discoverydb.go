// Package discovery drives SPDP participant discovery and SEDP
// endpoint discovery on top of the ordinary rtps.Reader/rtps.Writer
// machinery, and owns the DiscoveryDB of known remote participants,
// readers, writers and topics (spec.md §4.6).
package discovery

import (
	"sync"
	"time"

	"github.com/nautopia/rdds/guid"
	"github.com/nautopia/rdds/qos"
	"github.com/nautopia/rdds/wire"
)

// ParticipantInfo is what DiscoveryDB knows about one remote
// participant: its announced locators and the lease it last renewed.
type ParticipantInfo struct {
	GuidPrefix      guid.GuidPrefix
	ProtocolVersion [2]byte
	VendorId        [2]byte

	MetatrafficUnicastLocators   []wire.Locator
	MetatrafficMulticastLocators []wire.Locator
	DefaultUnicastLocators       []wire.Locator
	DefaultMulticastLocators     []wire.Locator

	LeaseDuration   time.Duration
	LeaseExpiration time.Time
}

// EndpointInfo is what DiscoveryDB knows about one remote reader or
// writer, as announced over SEDP.
type EndpointInfo struct {
	GUID      guid.GUID
	TopicName string
	TypeName  string
	Policies  qos.Policies

	UnicastLocators   []wire.Locator
	MulticastLocators []wire.Locator
}

// DiscoveryDB holds everything discovery has learned about remote
// participants and endpoints, plus the set of endpoints the local
// participant has announced over SEDP (spec.md §4.6, §3). It is
// protected identically to DDSCache: one RWMutex, readers shared,
// mutation exclusive (spec.md §5).
type DiscoveryDB struct {
	mu sync.RWMutex

	participants map[guid.GuidPrefix]ParticipantInfo

	remoteWriters map[guid.GUID]EndpointInfo
	remoteReaders map[guid.GUID]EndpointInfo

	localWriters map[guid.GUID]EndpointInfo
	localReaders map[guid.GUID]EndpointInfo

	// matchedReaderWriter tracks which reader/writer pairs have already
	// been reported matched, so AlreadyMatched lets Discovery fire the
	// match callback only once per pair.
	matchedReaderWriter map[[2]guid.GUID]struct{}
}

func NewDiscoveryDB() *DiscoveryDB {
	return &DiscoveryDB{
		participants:        make(map[guid.GuidPrefix]ParticipantInfo),
		remoteWriters:       make(map[guid.GUID]EndpointInfo),
		remoteReaders:       make(map[guid.GUID]EndpointInfo),
		localWriters:        make(map[guid.GUID]EndpointInfo),
		localReaders:        make(map[guid.GUID]EndpointInfo),
		matchedReaderWriter: make(map[[2]guid.GUID]struct{}),
	}
}

// UpsertParticipant records or refreshes a remote participant's SPDP
// descriptor, returning true if this is a newly seen participant
// (spec.md §4.6: "receiving an SPDP sample from a new GUID triggers...").
func (db *DiscoveryDB) UpsertParticipant(info ParticipantInfo) (isNew bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, existed := db.participants[info.GuidPrefix]
	db.participants[info.GuidPrefix] = info
	return !existed
}

// RenewLease refreshes a known participant's lease expiration without
// otherwise touching its descriptor; no-op if unknown.
func (db *DiscoveryDB) RenewLease(prefix guid.GuidPrefix, expiration time.Time) {
	db.mu.Lock()
	defer db.mu.Unlock()
	info, ok := db.participants[prefix]
	if !ok {
		return
	}
	info.LeaseExpiration = expiration
	db.participants[prefix] = info
}

// ExpiredParticipants returns every participant whose lease has
// expired as of now, and removes them from the DB along with every
// remote endpoint carrying that GuidPrefix (spec.md §4.6 Lease expiry).
func (db *DiscoveryDB) ExpiredParticipants(now time.Time) []guid.GuidPrefix {
	db.mu.Lock()
	var expired []guid.GuidPrefix
	for prefix, info := range db.participants {
		if !info.LeaseExpiration.IsZero() && now.After(info.LeaseExpiration) {
			expired = append(expired, prefix)
		}
	}
	db.mu.Unlock()

	for _, prefix := range expired {
		db.RemoveParticipant(prefix)
	}
	return expired
}

// RemoveParticipant immediately forgets a remote participant and
// every remote endpoint carrying its GuidPrefix. Used both by
// ExpiredParticipants (lease timeout) and by an explicit dispose
// sample on that participant's SPDP topic (spec.md §4.6).
func (db *DiscoveryDB) RemoveParticipant(prefix guid.GuidPrefix) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.participants, prefix)
	for g := range db.remoteWriters {
		if g.Prefix == prefix {
			delete(db.remoteWriters, g)
		}
	}
	for g := range db.remoteReaders {
		if g.Prefix == prefix {
			delete(db.remoteReaders, g)
		}
	}
}

// Participant looks up what's known about a remote participant.
func (db *DiscoveryDB) Participant(prefix guid.GuidPrefix) (ParticipantInfo, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	info, ok := db.participants[prefix]
	return info, ok
}

// AddLocalReader / AddLocalWriter / RemoveLocalReader / RemoveLocalWriter
// track the local participant's own endpoints so SEDP can announce
// them and so DiscoveryDB can answer "which remote endpoints match me".
func (db *DiscoveryDB) AddLocalReader(info EndpointInfo) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.localReaders[info.GUID] = info
}

func (db *DiscoveryDB) AddLocalWriter(info EndpointInfo) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.localWriters[info.GUID] = info
}

func (db *DiscoveryDB) RemoveLocalReader(g guid.GUID) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.localReaders, g)
}

func (db *DiscoveryDB) RemoveLocalWriter(g guid.GUID) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.localWriters, g)
}

func (db *DiscoveryDB) LocalReaders() []EndpointInfo {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]EndpointInfo, 0, len(db.localReaders))
	for _, r := range db.localReaders {
		out = append(out, r)
	}
	return out
}

func (db *DiscoveryDB) LocalWriters() []EndpointInfo {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]EndpointInfo, 0, len(db.localWriters))
	for _, w := range db.localWriters {
		out = append(out, w)
	}
	return out
}

// UpsertRemoteWriter / UpsertRemoteReader record a SEDP-announced
// remote endpoint. They return nothing; the caller looks up the local
// endpoints it matches with MatchingLocalReaders/MatchingLocalWriters.
func (db *DiscoveryDB) UpsertRemoteWriter(info EndpointInfo) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.remoteWriters[info.GUID] = info
}

func (db *DiscoveryDB) UpsertRemoteReader(info EndpointInfo) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.remoteReaders[info.GUID] = info
}

func (db *DiscoveryDB) RemoveRemoteWriter(g guid.GUID) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.remoteWriters, g)
}

func (db *DiscoveryDB) RemoveRemoteReader(g guid.GUID) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.remoteReaders, g)
}

// MatchingRemoteWriters returns every known remote writer compatible
// with local reader info (spec.md §4.6 matching rule), for use right
// after a local reader is added (so it finds writers discovery
// already knew about).
func (db *DiscoveryDB) MatchingRemoteWriters(reader EndpointInfo) []EndpointInfo {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []EndpointInfo
	for _, w := range db.remoteWriters {
		if matches(reader, w) {
			out = append(out, w)
		}
	}
	return out
}

func (db *DiscoveryDB) MatchingRemoteReaders(writer EndpointInfo) []EndpointInfo {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []EndpointInfo
	for _, r := range db.remoteReaders {
		if matches(r, writer) {
			out = append(out, r)
		}
	}
	return out
}

// MatchingLocalWriters / MatchingLocalReaders answer a freshly
// discovered remote endpoint's counterpart question: which of our own
// local endpoints does it match.
func (db *DiscoveryDB) MatchingLocalReaders(writer EndpointInfo) []EndpointInfo {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []EndpointInfo
	for _, r := range db.localReaders {
		if matches(r, writer) {
			out = append(out, r)
		}
	}
	return out
}

func (db *DiscoveryDB) MatchingLocalWriters(reader EndpointInfo) []EndpointInfo {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []EndpointInfo
	for _, w := range db.localWriters {
		if matches(reader, w) {
			out = append(out, w)
		}
	}
	return out
}

// matches implements the SEDP matching rule (spec.md §4.6): same
// topic name, same type name, and QoS-compatible as a reader request
// against a writer offer.
func matches(reader, writer EndpointInfo) bool {
	if reader.TopicName != writer.TopicName || reader.TypeName != writer.TypeName {
		return false
	}
	ok, _ := qos.Compatible(reader.Policies, writer.Policies)
	return ok
}

// AlreadyMatched reports whether (reader, writer) has already been
// reported matched, and records it if not — used to make match
// notification idempotent across repeated discovery ticks.
func (db *DiscoveryDB) AlreadyMatched(reader, writer guid.GUID) (already bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	key := [2]guid.GUID{reader, writer}
	_, ok := db.matchedReaderWriter[key]
	if !ok {
		db.matchedReaderWriter[key] = struct{}{}
	}
	return ok
}

func (db *DiscoveryDB) ForgetMatch(reader, writer guid.GUID) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.matchedReaderWriter, [2]guid.GUID{reader, writer})
}
