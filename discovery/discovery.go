package discovery

import (
	"context"
	"crypto/md5"
	"time"

	"github.com/nautopia/rdds/cache"
	"github.com/nautopia/rdds/guid"
	"github.com/nautopia/rdds/qos"
	"github.com/nautopia/rdds/rtps"
	"github.com/nautopia/rdds/wire"
	"github.com/rs/zerolog"
)

// DefaultAnnouncePeriod and DefaultLeaseDuration are the
// participant_announce_period / lease_duration defaults spec.md §4.6
// names (5s) and a conventional RTPS default (100s) for the latter,
// kept generous enough that the 4x-per-period lease check in Run
// doesn't fire constantly.
const (
	DefaultAnnouncePeriod = 5 * time.Second
	DefaultLeaseDuration  = 100 * time.Second
)

// Built-in topic names for the SPDP participant topic and the two
// SEDP endpoint topics (spec.md §4.6).
const (
	TopicSPDPParticipant   = "DCPSParticipant"
	TopicSEDPPublications  = "DCPSPublication"
	TopicSEDPSubscriptions = "DCPSSubscription"
)

// endOfTime is used as the upper bound when draining a built-in
// topic's cache for "everything new since last time" (matches the
// 1<<62 sentinel the rtps package's own tests use for "everything").
const endOfTime = guid.Instant(1 << 62)

// Config bundles what Discovery needs to announce the local
// participant over SPDP (spec.md §4.6).
type Config struct {
	DomainId      int
	ParticipantId int
	GuidPrefix    guid.GuidPrefix

	AnnouncePeriod time.Duration
	LeaseDuration  time.Duration

	DefaultUnicastLocators       []wire.Locator
	DefaultMulticastLocators     []wire.Locator
	MetatrafficUnicastLocators   []wire.Locator
	MetatrafficMulticastLocators []wire.Locator
}

// CommandKind enumerates the DiscoveryCommand channel's accepted
// commands (spec.md §4.6).
type CommandKind int

const (
	CmdStopDiscovery CommandKind = iota
	CmdRemoveLocalReader
	CmdRemoveLocalWriter
	CmdAssertTopicLiveliness
)

// Command is one entry on the bounded DiscoveryCommand channel
// (capacity 10, spec.md §5).
type Command struct {
	Kind   CommandKind
	Reader guid.GUID
	Writer guid.GUID
	Topic  string
}

// Outbound is one datagram Discovery needs the event loop to actually
// transmit: multicast if Dest is nil, a directed unicast send to Dest
// otherwise (spec.md Design Notes: never hold a lock across a socket
// write, so Discovery only ever hands finished bytes across this
// channel).
type Outbound struct {
	Dest    *wire.Locator
	Payload []byte
}

// MatchHooks lets the owning participant learn about matches and
// losses Discovery decides on, without Discovery importing the root
// participant package (spec.md Design Notes: "no cycles" — a
// callback crosses the boundary, not a concrete import).
type MatchHooks struct {
	OnReaderMatchedWriter func(reader guid.GUID, writer EndpointInfo)
	OnWriterMatchedReader func(writer guid.GUID, reader EndpointInfo)
	OnParticipantLost     func(prefix guid.GuidPrefix)
}

// Discovery drives SPDP and SEDP using the same rtps.Reader/rtps.Writer
// machinery every user topic uses, pointed at the fixed built-in
// EntityIds (spec.md §4.6). Its Handle-side state (the built-in
// readers/writers) is safe to drive from the event-loop thread via
// the normal receiver.MessageReceiver dispatch (Readers/Writers expose
// them for registration); its Run method is the discovery thread
// proper (spec.md §5): it owns the periodic SPDP re-announce, lease
// expiry checks, and the DiscoveryCommand channel.
type Discovery struct {
	cfg   Config
	db    *DiscoveryDB
	hooks MatchHooks

	builtinCache *cache.DDSCache
	clock        *guid.Clock

	spdpWriter *rtps.Writer
	spdpReader *rtps.Reader
	pubWriter  *rtps.Writer
	pubReader  *rtps.Reader
	subWriter  *rtps.Writer
	subReader  *rtps.Reader

	spdpLastInstant guid.Instant
	pubLastInstant  guid.Instant
	subLastInstant  guid.Instant

	// Outbound is drained by the event loop, which performs the actual
	// socket write (spec.md §5 bounded-channel policy).
	Outbound chan Outbound
	// Commands accepts DiscoveryCommand traffic (spec.md §4.6), bound
	// to capacity 10 (spec.md §5).
	Commands chan Command

	log zerolog.Logger
}

// NewDiscovery constructs Discovery with its six built-in endpoints
// and default periods filled in where the caller left them zero.
func NewDiscovery(cfg Config, hooks MatchHooks, log zerolog.Logger) *Discovery {
	if cfg.AnnouncePeriod == 0 {
		cfg.AnnouncePeriod = DefaultAnnouncePeriod
	}
	if cfg.LeaseDuration == 0 {
		cfg.LeaseDuration = DefaultLeaseDuration
	}

	d := &Discovery{
		cfg:          cfg,
		db:           NewDiscoveryDB(),
		hooks:        hooks,
		builtinCache: cache.NewDDSCache(),
		clock:        guid.NewClock(),
		Outbound:     make(chan Outbound, 100),
		Commands:     make(chan Command, 10),
		log:          log.With().Str("caller", "discovery.Discovery").Logger(),
	}

	d.spdpWriter = rtps.NewWriter(guid.New(cfg.GuidPrefix, guid.EntityIdSPDPBuiltinParticipantWriter), TopicSPDPParticipant, qos.Default(), d.builtinCache, d.clock, d.log)
	d.spdpReader = rtps.NewReader(guid.New(cfg.GuidPrefix, guid.EntityIdSPDPBuiltinParticipantReader), TopicSPDPParticipant, qos.Default(), d.builtinCache, d.clock, d.log)
	// SPDP is the bootstrap protocol: a brand-new remote participant's
	// very first sample necessarily arrives from a writer we have
	// never matched (spec.md §4.6).
	d.spdpReader.SetAutoMatch(true)

	sedpPolicies := qos.Policies{
		Reliability: qos.ReliabilityPolicy{Kind: qos.Reliable},
		History:     qos.HistoryPolicy{Kind: qos.KeepLast, Depth: 1},
	}
	d.pubWriter = rtps.NewWriter(guid.New(cfg.GuidPrefix, guid.EntityIdSEDPBuiltinPublicationsWriter), TopicSEDPPublications, sedpPolicies, d.builtinCache, d.clock, d.log)
	d.pubReader = rtps.NewReader(guid.New(cfg.GuidPrefix, guid.EntityIdSEDPBuiltinPublicationsReader), TopicSEDPPublications, sedpPolicies, d.builtinCache, d.clock, d.log)
	d.subWriter = rtps.NewWriter(guid.New(cfg.GuidPrefix, guid.EntityIdSEDPBuiltinSubscriptionsWriter), TopicSEDPSubscriptions, sedpPolicies, d.builtinCache, d.clock, d.log)
	d.subReader = rtps.NewReader(guid.New(cfg.GuidPrefix, guid.EntityIdSEDPBuiltinSubscriptionsReader), TopicSEDPSubscriptions, sedpPolicies, d.builtinCache, d.clock, d.log)

	return d
}

// Readers and Writers expose the built-in endpoints so the event
// loop's receiver.MessageReceiver can dispatch to them exactly like
// any user Reader/Writer (spec.md §4.6: "Discovery runs the same
// reader/writer machinery on fixed built-in EntityIds").
func (d *Discovery) Readers() []*rtps.Reader { return []*rtps.Reader{d.spdpReader, d.pubReader, d.subReader} }
func (d *Discovery) Writers() []*rtps.Writer { return []*rtps.Writer{d.spdpWriter, d.pubWriter, d.subWriter} }

// DB exposes the DiscoveryDB backing this Discovery so the owning
// participant can answer "which remote endpoints currently match me"
// queries (spec.md §6 outbound interface) without Discovery having to
// grow a parallel query surface of its own.
func (d *Discovery) DB() *DiscoveryDB { return d.db }

func (d *Discovery) enqueueOutbound(o Outbound) {
	select {
	case d.Outbound <- o:
	default:
		d.log.Warn().Msg("discovery outbound channel full, dropping datagram")
	}
}

// AddLocalReader registers a local reader for SEDP announcement
// (spec.md §4.6) and immediately checks it against every remote writer
// already known, in case discovery learned about a matching writer
// before this reader existed.
func (d *Discovery) AddLocalReader(info EndpointInfo) {
	d.db.AddLocalReader(info)
	d.announceLocalReader(info, nil)
	for _, w := range d.db.MatchingRemoteWriters(info) {
		d.reportReaderMatch(info.GUID, w)
	}
}

// AddLocalWriter is AddLocalReader's writer-side counterpart.
func (d *Discovery) AddLocalWriter(info EndpointInfo) {
	d.db.AddLocalWriter(info)
	d.announceLocalWriter(info, nil)
	for _, r := range d.db.MatchingRemoteReaders(info) {
		d.reportWriterMatch(info.GUID, r)
	}
}

// RemoveLocalReader / RemoveLocalWriter mirror the
// REMOVE_LOCAL_READER/WRITER DiscoveryCommands (spec.md §4.6): stop
// announcing this endpoint over SEDP. No SEDP dispose sample is sent,
// so remote peers keep the endpoint until this participant's lease
// expires or the participant itself is disposed.
func (d *Discovery) RemoveLocalReader(g guid.GUID) {
	d.db.RemoveLocalReader(g)
}

func (d *Discovery) RemoveLocalWriter(g guid.GUID) {
	d.db.RemoveLocalWriter(g)
}

func (d *Discovery) reportReaderMatch(reader guid.GUID, writer EndpointInfo) {
	if d.db.AlreadyMatched(reader, writer.GUID) {
		return
	}
	if d.hooks.OnReaderMatchedWriter != nil {
		d.hooks.OnReaderMatchedWriter(reader, writer)
	}
}

func (d *Discovery) reportWriterMatch(writer guid.GUID, reader EndpointInfo) {
	if d.db.AlreadyMatched(reader.GUID, writer) {
		return
	}
	if d.hooks.OnWriterMatchedReader != nil {
		d.hooks.OnWriterMatchedReader(writer, reader)
	}
}

// Run is the discovery thread: it owns the periodic SPDP announce
// timer, the lease-expiry check, reacts to new built-in-topic samples
// via the ordinary Reader.Notify channel, and drains the
// DiscoveryCommand channel (spec.md §4.6, §5). It suspends only in
// select and timer waits, never blocking on user code.
func (d *Discovery) Run(ctx context.Context) {
	announceTicker := time.NewTicker(d.cfg.AnnouncePeriod)
	defer announceTicker.Stop()
	leaseTicker := time.NewTicker(d.cfg.LeaseDuration / 4)
	defer leaseTicker.Stop()

	d.announceParticipant()

	for {
		select {
		case <-ctx.Done():
			return
		case <-announceTicker.C:
			d.announceParticipant()
		case <-leaseTicker.C:
			d.checkLeases(time.Now())
		case <-d.spdpReader.Notify:
			d.drainSPDP()
		case <-d.pubReader.Notify:
			d.drainSEDP(TopicSEDPPublications, true)
		case <-d.subReader.Notify:
			d.drainSEDP(TopicSEDPSubscriptions, false)
		case cmd := <-d.Commands:
			if d.handleCommand(cmd) {
				return
			}
		}
	}
}

func (d *Discovery) handleCommand(cmd Command) (stop bool) {
	switch cmd.Kind {
	case CmdStopDiscovery:
		// spec.md §4.6: dispose our own participant and give peers one
		// announce period to observe it before exiting.
		d.disposeParticipant()
		time.Sleep(d.cfg.AnnouncePeriod)
		return true
	case CmdRemoveLocalReader:
		d.RemoveLocalReader(cmd.Reader)
	case CmdRemoveLocalWriter:
		d.RemoveLocalWriter(cmd.Writer)
	case CmdAssertTopicLiveliness:
		// Supplemented feature 4: re-announce immediately instead of
		// waiting out the rest of the current period.
		d.announceParticipant()
	}
	return false
}

func (d *Discovery) checkLeases(now time.Time) {
	for _, prefix := range d.db.ExpiredParticipants(now) {
		d.log.Warn().Str("participant", prefix.String()).Msg("participant lease expired")
		if d.hooks.OnParticipantLost != nil {
			d.hooks.OnParticipantLost(prefix)
		}
	}
}

// announceParticipant publishes the local participant descriptor and
// broadcasts it to the SPDP multicast group (spec.md §4.6). Unlike
// ordinary writers, the SPDP writer never accumulates ReaderProxies
// (every participant is, by definition, not yet matched when this
// needs to go out), so the DATA submessage is addressed to
// ENTITYID_UNKNOWN and built directly rather than through
// Writer.Write's matched-reader loop.
func (d *Discovery) announceParticipant() {
	pd := ParticipantData{
		GuidPrefix:                   d.cfg.GuidPrefix,
		ProtocolVersion:              wire.ProtocolVersion2_3,
		VendorId:                     guid.VendorId,
		DefaultUnicastLocators:       d.cfg.DefaultUnicastLocators,
		DefaultMulticastLocators:     d.cfg.DefaultMulticastLocators,
		MetatrafficUnicastLocators:   d.cfg.MetatrafficUnicastLocators,
		MetatrafficMulticastLocators: d.cfg.MetatrafficMulticastLocators,
		LeaseDuration:                d.cfg.LeaseDuration,
	}
	payload := pd.Encode()
	if _, err := d.spdpWriter.Write(payload, nil); err != nil {
		d.log.Warn().Err(err).Msg("failed to publish local participant descriptor")
		return
	}

	data := wire.Data{
		ReaderId: guid.ENTITYID_UNKNOWN,
		WriterId: guid.EntityIdSPDPBuiltinParticipantWriter,
		WriterSN: d.spdpWriter.LastAssignedSN(),
		Payload:  &payload,
	}
	d.sendBuiltin(nil, data)
}

// disposeParticipant publishes a key-only dispose sample for the
// local participant's own GUID (spec.md §4.6 STOP, supplemented
// feature 3 for the key-hash computation).
func (d *Discovery) disposeParticipant() {
	if _, err := d.spdpWriter.Dispose(d.cfg.GuidPrefix[:]); err != nil {
		d.log.Warn().Err(err).Msg("failed to publish participant dispose sample")
		return
	}

	keyHash := md5.Sum(d.cfg.GuidPrefix[:])
	params := wire.ParameterList{
		{ID: wire.PidKeyHash, Value: keyHash[:]},
		{ID: wire.PidStatusInfo, Value: wire.EncodeStatusInfo(wire.StatusInfoDisposed)},
	}
	data := wire.Data{
		ReaderId:     guid.ENTITYID_UNKNOWN,
		WriterId:     guid.EntityIdSPDPBuiltinParticipantWriter,
		WriterSN:     d.spdpWriter.LastAssignedSN(),
		HasInlineQos: true,
		InlineQos:    params,
	}
	d.sendBuiltin(nil, data)
}

// sendBuiltin wraps data in a minimal RTPS message (header + INFO_TS +
// optional INFO_DST + the DATA submessage itself) and hands the
// encoded bytes to the event loop via Outbound.
func (d *Discovery) sendBuiltin(dest *ParticipantInfo, data wire.Data) {
	subs := make([]wire.Submessage, 0, 3)
	subs = append(subs, wire.InfoTS{Valid: true, Timestamp: time.Now()})

	var target *wire.Locator
	if dest != nil {
		subs = append(subs, wire.InfoDst{GuidPrefix: dest.GuidPrefix})
		if len(dest.MetatrafficUnicastLocators) > 0 {
			l := dest.MetatrafficUnicastLocators[0]
			target = &l
		}
	}
	subs = append(subs, data)

	msg := wire.Message{
		Header: wire.Header{
			Version:    wire.ProtocolVersion2_3,
			VendorId:   guid.VendorId,
			GuidPrefix: d.cfg.GuidPrefix,
		},
		Submessages: subs,
	}
	d.enqueueOutbound(Outbound{Dest: target, Payload: msg.Encode()})
}

// drainSPDP processes every SPDP sample received since the last drain
// (spec.md §4.6): a new participant is registered and handed our
// local SEDP endpoints as directed writes; a disposed sample tears the
// participant down immediately rather than waiting for its lease to
// expire.
func (d *Discovery) drainSPDP() {
	entries := d.builtinCache.ChangesInRange(TopicSPDPParticipant, d.spdpLastInstant, endOfTime)
	for _, e := range entries {
		d.spdpLastInstant = e.Instant
		if e.Change.WriterGUID.Prefix == d.cfg.GuidPrefix {
			continue // our own announcement looped back via multicast
		}

		if e.Change.DataValue == nil {
			prefix := e.Change.WriterGUID.Prefix
			d.db.RemoveParticipant(prefix)
			if d.hooks.OnParticipantLost != nil {
				d.hooks.OnParticipantLost(prefix)
			}
			continue
		}

		pd, err := DecodeParticipantData(*e.Change.DataValue)
		if err != nil {
			d.log.Debug().Err(err).Msg("dropping malformed SPDP sample")
			continue
		}
		info := pd.ToParticipantInfo(time.Now())
		if pd.GuidPrefix != e.Change.WriterGUID.Prefix {
			// Defensive: trust the wire writer GUID over the payload's
			// self-reported one.
			info.GuidPrefix = e.Change.WriterGUID.Prefix
		}

		isNew := d.db.UpsertParticipant(info)
		if !isNew {
			continue
		}
		d.log.Info().Str("participant", info.GuidPrefix.String()).Msg("discovered new participant")
		d.matchBuiltinEndpoints(info)
		d.announceLocalEndpointsTo(info)
	}
}

// matchBuiltinEndpoints installs proxies for the newly discovered
// participant's own built-in SEDP reader/writer pair. Unlike user
// endpoints, built-in endpoint matching does not go through SEDP
// itself — every compliant participant is assumed to implement the
// same built-in endpoint set, so discovering the participant is
// sufficient (RTPS 2.3 §8.5.5.1's Builtin Endpoint Set).
func (d *Discovery) matchBuiltinEndpoints(info ParticipantInfo) {
	prefix := info.GuidPrefix
	locators := locatorStringsForProxy(info.MetatrafficUnicastLocators, info.MetatrafficMulticastLocators)

	d.pubReader.MatchWriter(guid.New(prefix, guid.EntityIdSEDPBuiltinPublicationsWriter), locators)
	d.pubWriter.MatchReader(guid.New(prefix, guid.EntityIdSEDPBuiltinPublicationsReader), locators, true)
	d.subReader.MatchWriter(guid.New(prefix, guid.EntityIdSEDPBuiltinSubscriptionsWriter), locators)
	d.subWriter.MatchReader(guid.New(prefix, guid.EntityIdSEDPBuiltinSubscriptionsReader), locators, true)
}

func locatorStringsForProxy(unicast, multicast []wire.Locator) []string {
	out := make([]string, 0, len(unicast)+len(multicast))
	for _, l := range unicast {
		out = append(out, l.UDPAddr().String())
	}
	for _, l := range multicast {
		out = append(out, l.UDPAddr().String())
	}
	return out
}

// announceLocalEndpointsTo sends every local reader/writer's SEDP
// descriptor as a directed write to a newly discovered participant
// (spec.md §4.6).
func (d *Discovery) announceLocalEndpointsTo(info ParticipantInfo) {
	for _, w := range d.db.LocalWriters() {
		d.announceLocalWriter(w, &info)
	}
	for _, r := range d.db.LocalReaders() {
		d.announceLocalReader(r, &info)
	}
}

// announceLocalWriter publishes (or re-sends, if dest is non-nil) one
// local writer's SEDP descriptor.
func (d *Discovery) announceLocalWriter(info EndpointInfo, dest *ParticipantInfo) {
	d.announceEndpoint(info, d.pubWriter, guid.EntityIdSEDPBuiltinPublicationsWriter, dest)
}

func (d *Discovery) announceLocalReader(info EndpointInfo, dest *ParticipantInfo) {
	d.announceEndpoint(info, d.subWriter, guid.EntityIdSEDPBuiltinSubscriptionsWriter, dest)
}

func (d *Discovery) announceEndpoint(info EndpointInfo, writer *rtps.Writer, writerEntity guid.EntityId, dest *ParticipantInfo) {
	ed := EndpointData{
		GUID:              info.GUID,
		TopicName:         info.TopicName,
		TypeName:          info.TypeName,
		Policies:          info.Policies,
		UnicastLocators:   info.UnicastLocators,
		MulticastLocators: info.MulticastLocators,
	}
	payload := ed.Encode()
	if _, err := writer.Write(payload, nil); err != nil {
		d.log.Warn().Err(err).Msg("failed to publish local endpoint descriptor")
		return
	}
	data := wire.Data{
		ReaderId: guid.ENTITYID_UNKNOWN,
		WriterId: writerEntity,
		WriterSN: writer.LastAssignedSN(),
		Payload:  &payload,
	}
	d.sendBuiltin(dest, data)
}

// drainSEDP processes every sample received since the last drain on
// one of the two SEDP topics, records the remote endpoint, and
// reports a match for any local endpoint the matching rule (spec.md
// §4.6) already satisfies.
func (d *Discovery) drainSEDP(topic string, isWriterTopic bool) {
	lastInstant := &d.pubLastInstant
	if !isWriterTopic {
		lastInstant = &d.subLastInstant
	}

	entries := d.builtinCache.ChangesInRange(topic, *lastInstant, endOfTime)
	for _, e := range entries {
		*lastInstant = e.Instant
		if e.Change.WriterGUID.Prefix == d.cfg.GuidPrefix {
			continue
		}
		if e.Change.DataValue == nil {
			d.removeRemoteEndpoint(e.Change, topic, isWriterTopic)
			continue
		}

		ed, err := DecodeEndpointData(*e.Change.DataValue)
		if err != nil {
			d.log.Debug().Err(err).Msg("dropping malformed SEDP sample")
			continue
		}
		info := ed.ToEndpointInfo()

		if isWriterTopic {
			d.db.UpsertRemoteWriter(info)
			for _, r := range d.db.MatchingLocalReaders(info) {
				d.reportReaderMatch(r.GUID, info)
			}
		} else {
			d.db.UpsertRemoteReader(info)
			for _, w := range d.db.MatchingLocalWriters(info) {
				d.reportWriterMatch(w.GUID, info)
			}
		}
	}
}

// removeRemoteEndpoint resolves a dispose sample's key hash against
// the last alive sample recorded under it to recover the endpoint's
// own GUID (the SEDP topic's WriterGUID is the remote participant's
// built-in publications/subscriptions writer, shared by every
// endpoint it describes, so it cannot identify which one was
// disposed on its own).
func (d *Discovery) removeRemoteEndpoint(change cache.CacheChange, topic string, isWriterTopic bool) {
	prior, ok := d.builtinCache.GetByKeyHash(topic, change.InstanceKeyHash)
	if !ok || prior.DataValue == nil {
		return
	}
	ed, err := DecodeEndpointData(*prior.DataValue)
	if err != nil {
		return
	}
	if isWriterTopic {
		d.db.RemoveRemoteWriter(ed.GUID)
	} else {
		d.db.RemoveRemoteReader(ed.GUID)
	}
}
