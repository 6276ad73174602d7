package rtps

import (
	"crypto/md5"
	"fmt"
	"sync"
	"time"

	"github.com/nautopia/rdds/cache"
	"github.com/nautopia/rdds/guid"
	"github.com/nautopia/rdds/qos"
	"github.com/nautopia/rdds/wire"
	"github.com/rs/zerolog"
)

// HeartbeatPeriod is the default interval between periodic HEARTBEATs
// to reliable reader-proxies (spec.md §4.4).
const HeartbeatPeriod = 200 * time.Millisecond

// Writer is one RTPS writer endpoint: a topic, its QoS, the DDSCache
// it publishes into, its own sequence-number counter, and a
// ReaderProxy per matched reader (spec.md §4.4). Like Reader, it
// belongs to exactly one event-loop thread.
type Writer struct {
	GUID     guid.GUID
	Topic    string
	Policies qos.Policies

	cache *cache.DDSCache
	clock *guid.Clock

	mu            sync.Mutex
	readers       map[guid.GUID]*ReaderProxy
	nextSN        guid.SequenceNumber
	lowestInCache guid.SequenceNumber

	log zerolog.Logger
}

func NewWriter(guidVal guid.GUID, topic string, policies qos.Policies, c *cache.DDSCache, clock *guid.Clock, log zerolog.Logger) *Writer {
	return &Writer{
		GUID:          guidVal,
		Topic:         topic,
		Policies:      policies,
		cache:         c,
		clock:         clock,
		readers:       make(map[guid.GUID]*ReaderProxy),
		nextSN:        1,
		lowestInCache: 1,
		log:           log.With().Str("caller", "rtps.Writer").Str("topic", topic).Logger(),
	}
}

// LastAssignedSN returns the most recently assigned sequence number,
// i.e. the one the last successful Write/Dispose/Unregister call
// used. Used by discovery's SPDP writer, which has no ReaderProxies
// to address (participants are unmatched by definition) and instead
// broadcasts each change itself once Write has assigned its sequence
// number and inserted it into the cache.
func (w *Writer) LastAssignedSN() guid.SequenceNumber {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextSN - 1
}

// MatchReader installs a ReaderProxy for a newly matched remote reader.
func (w *Writer) MatchReader(reader guid.GUID, locators []string, reliable bool) *ReaderProxy {
	w.mu.Lock()
	defer w.mu.Unlock()
	rp := NewReaderProxy(reader, locators, reliable)
	w.readers[reader] = rp
	return rp
}

// UnmatchReader tears down the proxy for reader.
func (w *Writer) UnmatchReader(reader guid.GUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.readers, reader)
}

// ReaderLocators returns the locator strings recorded for reader, or
// nil if it isn't matched — the event loop's way of resolving where a
// PendingSend's DATA submessage actually needs to go.
func (w *Writer) ReaderLocators(reader guid.GUID) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	rp, ok := w.readers[reader]
	if !ok {
		return nil
	}
	return rp.Locators
}

// MatchedReaders returns a snapshot of every reader GUID currently
// matched to this writer, for the event loop's periodic heartbeat
// scan (spec.md §4.4) and for PARTICIPANT_LOST teardown (spec.md
// §4.6), neither of which can reach into the writer's own lock.
func (w *Writer) MatchedReaders() []guid.GUID {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]guid.GUID, 0, len(w.readers))
	for g := range w.readers {
		out = append(out, g)
	}
	return out
}

// PendingSend is one DATA submessage this writer owes a reader-proxy,
// produced by Write or Dispose and consumed by the event loop to
// actually transmit (spec.md §4.4: "schedule a DATA send").
type PendingSend struct {
	Reader guid.GUID
	Data   wire.Data
}

// Write assigns the next sequence number, inserts value into the
// DDSCache, and returns one PendingSend per matched reader-proxy
// (spec.md §4.4). Best-effort reader-proxies don't accumulate
// unacked_changes but still receive the DATA send.
func (w *Writer) Write(value wire.SerializedPayload, keyHash *cache.InstanceKeyHash) ([]PendingSend, error) {
	return w.publish(cache.Alive, &value, keyHash)
}

// Dispose publishes a key-only change with kind NotAliveDisposed,
// setting inline PID_STATUS_INFO and PID_KEY_HASH (spec.md §4.4,
// supplemented feature 3: the MD5-based 128-bit digest RTPS peers
// expect when no dedicated key hash was separately supplied).
func (w *Writer) Dispose(key []byte) ([]PendingSend, error) {
	kh := cache.InstanceKeyHash(md5.Sum(key))
	return w.publish(cache.NotAliveDisposed, nil, &kh)
}

// Unregister publishes a key-only change with kind NotAliveUnregistered.
func (w *Writer) Unregister(key []byte) ([]PendingSend, error) {
	kh := cache.InstanceKeyHash(md5.Sum(key))
	return w.publish(cache.NotAliveUnregistered, nil, &kh)
}

func (w *Writer) publish(kind cache.ChangeKind, value *wire.SerializedPayload, keyHash *cache.InstanceKeyHash) ([]PendingSend, error) {
	w.mu.Lock()

	sn := w.nextSN
	w.nextSN++

	var kh cache.InstanceKeyHash
	if keyHash != nil {
		kh = *keyHash
	}

	change := cache.CacheChange{
		Kind:            kind,
		WriterGUID:      w.GUID,
		SequenceNumber:  sn,
		InstanceKeyHash: kh,
		DataValue:       value,
	}

	var sends []PendingSend
	for _, rp := range w.readers {
		rp.AddUnacked(sn)
		sends = append(sends, PendingSend{Reader: rp.ReaderGUID, Data: w.buildData(sn, rp.ReaderGUID.Entity, change, keyHash, kind)})
	}
	w.mu.Unlock()

	_, err := w.cache.AddChange(w.Topic, w.clock.Next(), change)
	if err != nil {
		return nil, fmt.Errorf("rtps: writer %s inserting change: %w", w.GUID, err)
	}
	return sends, nil
}

func (w *Writer) buildData(sn guid.SequenceNumber, readerId guid.EntityId, change cache.CacheChange, keyHash *cache.InstanceKeyHash, kind cache.ChangeKind) wire.Data {
	d := wire.Data{
		ReaderId: readerId,
		WriterId: w.GUID.Entity,
		WriterSN: sn,
		Payload:  change.DataValue,
	}

	var params wire.ParameterList
	if keyHash != nil {
		params = append(params, wire.Parameter{ID: wire.PidKeyHash, Value: keyHash[:]})
	}
	var si wire.StatusInfo
	switch kind {
	case cache.NotAliveDisposed:
		si = wire.StatusInfoDisposed
	case cache.NotAliveUnregistered:
		si = wire.StatusInfoUnregistered
	}
	if si != 0 {
		params = append(params, wire.Parameter{ID: wire.PidStatusInfo, Value: wire.EncodeStatusInfo(si)})
	}
	if len(params) > 0 {
		d.HasInlineQos = true
		d.InlineQos = params
	}
	return d
}

// BuildHeartbeat composes a periodic HEARTBEAT for reader, setting
// FinalFlag iff that reader-proxy's unacked_changes is empty (spec.md
// §4.4).
func (w *Writer) BuildHeartbeat(reader guid.GUID, readerId, writerId guid.EntityId) (wire.Heartbeat, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rp, ok := w.readers[reader]
	if !ok || !rp.Reliable {
		return wire.Heartbeat{}, false
	}

	highest := w.nextSN - 1
	return wire.Heartbeat{
		ReaderId: readerId,
		WriterId: writerId,
		FirstSN:  w.lowestInCache,
		LastSN:   highest,
		Count:    rp.NextHeartbeatCount(),
		Final:    !rp.HasUnacked(),
	}, true
}

// HandleAckNack processes an ACKNACK from reader and returns one
// PendingSend for every sequence number that reader still has
// unacknowledged (spec.md §4.4). The event loop sends them all at
// once; resends are not throttled per scheduler tick.
func (w *Writer) HandleAckNack(reader guid.GUID, an wire.AckNack) []PendingSend {
	w.mu.Lock()
	rp, ok := w.readers[reader]
	if !ok {
		w.mu.Unlock()
		return nil
	}

	isNew := rp.ApplyAckNack(an.ReaderSNState, an.Count)
	if !isNew {
		w.mu.Unlock()
		return nil
	}
	toResend := rp.UnackedSNs()
	w.mu.Unlock()

	var sends []PendingSend
	for _, sn := range toResend {
		entries := w.cache.ChangesInRange(w.Topic, 0, 1<<62)
		for _, e := range entries {
			if e.Change.WriterGUID == w.GUID && e.Change.SequenceNumber == sn {
				var kh *cache.InstanceKeyHash
				if e.Change.InstanceKeyHash != (cache.InstanceKeyHash{}) {
					h := e.Change.InstanceKeyHash
					kh = &h
				}
				sends = append(sends, PendingSend{Reader: reader, Data: w.buildData(sn, reader.Entity, e.Change, kh, e.Change.Kind)})
				break
			}
		}
	}
	return sends
}

// EvictKeepLast applies KeepLast(n) History eviction to this writer's
// own topic store and recomputes lowestInCache from what survives
// (spec.md §4.4). KeepAll writers never call this; they rely on
// acknowledgment-driven retention instead.
func (w *Writer) EvictKeepLast(n int) {
	w.cache.RemoveOldestPerInstanceBeyond(w.Topic, n)

	w.mu.Lock()
	defer w.mu.Unlock()
	entries := w.cache.ChangesInRange(w.Topic, 0, 1<<62)
	lowest := w.nextSN
	for _, e := range entries {
		if e.Change.WriterGUID == w.GUID && e.Change.SequenceNumber < lowest {
			lowest = e.Change.SequenceNumber
		}
	}
	w.lowestInCache = lowest
}
