package rtps

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/nautopia/rdds/cache"
	"github.com/nautopia/rdds/guid"
	"github.com/nautopia/rdds/qos"
	"github.com/nautopia/rdds/wire"
	"github.com/rs/zerolog"
)

// Reader is one matched-or-not RTPS reader endpoint: a topic, its QoS,
// the DDSCache it feeds, and a WriterProxy per matched writer (spec.md
// §4.3). A Reader belongs to exactly one event-loop thread; its
// exported methods are not safe to call from a second goroutine, with
// the sole exception that Notify may be read concurrently by the
// owning reader handle.
type Reader struct {
	GUID     guid.GUID
	Topic    string
	Policies qos.Policies

	cache *cache.DDSCache
	clock *guid.Clock

	// Notify is a bounded, non-blocking notification channel: overflow
	// is silently coalesced (spec.md §4.3 step 5) since consumers poll
	// the cache, they don't count notifications.
	Notify chan struct{}

	mu               sync.Mutex
	writers          map[guid.GUID]*WriterProxy
	autoMatchWriters bool

	log zerolog.Logger
}

// NewReader constructs a Reader feeding into c under topic, logging
// with the caller-supplied logger tagged the way the teacher tags
// per-component loggers.
func NewReader(guidVal guid.GUID, topic string, policies qos.Policies, c *cache.DDSCache, clock *guid.Clock, log zerolog.Logger) *Reader {
	return &Reader{
		GUID:     guidVal,
		Topic:    topic,
		Policies: policies,
		cache:    c,
		clock:    clock,
		Notify:   make(chan struct{}, 100),
		writers:  make(map[guid.GUID]*WriterProxy),
		log:      log.With().Str("caller", "rtps.Reader").Str("topic", topic).Logger(),
	}
}

// MatchWriter installs a WriterProxy for a newly matched remote writer
// (called by discovery once SEDP matching succeeds).
func (r *Reader) MatchWriter(writer guid.GUID, locators []string) *WriterProxy {
	r.mu.Lock()
	defer r.mu.Unlock()
	wp := NewWriterProxy(writer, locators)
	r.writers[writer] = wp
	return wp
}

// UnmatchWriter tears down the proxy for writer, e.g. on PARTICIPANT_LOST.
func (r *Reader) UnmatchWriter(writer guid.GUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.writers, writer)
}

// WriterLocators returns the locator strings recorded for writer, or
// nil if it isn't matched — the event loop's way of resolving where an
// ACKNACK actually needs to go.
func (r *Reader) WriterLocators(writer guid.GUID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	wp, ok := r.writers[writer]
	if !ok {
		return nil
	}
	return wp.Locators
}

// MatchedWriters returns a snapshot of every writer GUID currently
// matched to this reader, used by PARTICIPANT_LOST teardown (spec.md
// §4.6: "tears down every WriterProxy/ReaderProxy whose guid has that
// prefix").
func (r *Reader) MatchedWriters() []guid.GUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]guid.GUID, 0, len(r.writers))
	for g := range r.writers {
		out = append(out, g)
	}
	return out
}

// SetAutoMatch controls whether HandleData installs a fresh
// WriterProxy on the fly for a writer it has never seen, instead of
// dropping the sample (spec.md §4.3: "unknown writer GUID is silently
// dropped"). SPDP is the one topic where this default is wrong: it is
// the bootstrap mechanism by which participants become known to each
// other in the first place (spec.md §4.6), so its built-in reader
// must accept a brand-new remote participant's very first sample.
func (r *Reader) SetAutoMatch(auto bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.autoMatchWriters = auto
}

func (r *Reader) notify() {
	select {
	case r.Notify <- struct{}{}:
	default:
	}
}

// HandleData processes one decoded DATA submessage from writer
// (spec.md §4.3 steps 1-5). order is the byte order the enclosing
// submessage was decoded with (callers derive it from d.Flags via
// wire.ByteOrderForFlags rather than assuming one), in case a future
// inline-QoS value needs it; PID_KEY_HASH and PID_STATUS_INFO are both
// fixed octet arrays and don't. It silently drops data from an
// unmatched writer and data that doesn't advance or fill a known gap.
func (r *Reader) HandleData(writer guid.GUID, d wire.Data, order binary.ByteOrder) error {
	r.mu.Lock()
	wp, ok := r.writers[writer]
	if !ok && r.autoMatchWriters {
		wp = NewWriterProxy(writer, nil)
		r.writers[writer] = wp
		ok = true
	}
	r.mu.Unlock()
	if !ok {
		r.log.Debug().Str("writer", writer.String()).Msg("DATA from unmatched writer, dropping")
		return nil
	}

	if !wp.AcceptDataSN(d.WriterSN) {
		r.log.Debug().Int64("sn", int64(d.WriterSN)).Msg("DATA already seen, dropping")
		return nil
	}

	var keyHash wire.KeyHash
	kind := cache.Alive
	if d.HasInlineQos {
		if kh, ok := d.InlineQos.KeyHash(); ok {
			keyHash = kh
		}
		if si, ok := d.InlineQos.StatusInfo(); ok {
			kind = cache.KindFromStatusInfo(si, d.Payload != nil)
		}
	}

	change := cache.CacheChange{
		Kind:            kind,
		WriterGUID:      writer,
		SequenceNumber:  d.WriterSN,
		InstanceKeyHash: cache.InstanceKeyHash(keyHash),
		DataValue:       d.Payload,
	}

	inserted, err := r.cache.AddChange(r.Topic, r.clock.Next(), change)
	if err != nil {
		return fmt.Errorf("rtps: reader %s inserting change: %w", r.GUID, err)
	}

	wp.RecordDataSN(d.WriterSN)

	if inserted {
		r.notify()
	}
	return nil
}

// HandleHeartbeat processes a HEARTBEAT from writer, updating
// missing_samples and reporting whether the caller should schedule an
// ACKNACK response (spec.md §4.3).
func (r *Reader) HandleHeartbeat(writer guid.GUID, hb wire.Heartbeat, now time.Time) (sendAckNack bool) {
	r.mu.Lock()
	wp, ok := r.writers[writer]
	r.mu.Unlock()
	if !ok {
		return false
	}

	isNew := wp.ApplyHeartbeat(hb.FirstSN, hb.LastSN, hb.Count)
	if !isNew {
		return false
	}

	needsResponse := !hb.Final || len(wp.missingSamples) > 0
	if !needsResponse {
		return false
	}
	return wp.ShouldSendAckNack(now)
}

// HandleGap processes a GAP from writer (spec.md §4.3).
func (r *Reader) HandleGap(writer guid.GUID, g wire.Gap) {
	r.mu.Lock()
	wp, ok := r.writers[writer]
	r.mu.Unlock()
	if !ok {
		return
	}
	wp.ApplyGap(g.Missing())
}

// BuildAckNack composes the ACKNACK submessage to send to writer,
// advancing its suppression timer and count (spec.md §4.3).
func (r *Reader) BuildAckNack(writer guid.GUID, readerId, writerId guid.EntityId, now time.Time) (wire.AckNack, bool) {
	r.mu.Lock()
	wp, ok := r.writers[writer]
	r.mu.Unlock()
	if !ok {
		return wire.AckNack{}, false
	}

	missing := wp.Missing()
	set := guid.SequenceNumberSetFromMissing(missing)
	if len(missing) == 0 {
		set = guid.NewSequenceNumberSet(wp.HighestSNReceived()+1, 0)
	}

	return wire.AckNack{
		ReaderId:      readerId,
		WriterId:      writerId,
		ReaderSNState: set,
		Count:         wp.NextAckNackCount(now),
		Final:         true,
	}, true
}
