package rdds

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/nautopia/rdds/cache"
	"github.com/nautopia/rdds/discovery"
	"github.com/nautopia/rdds/guid"
	"github.com/nautopia/rdds/qos"
	"github.com/nautopia/rdds/rtps"
	"github.com/nautopia/rdds/transport"
	"github.com/nautopia/rdds/wire"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// participantSockets bundles the four UDP sockets a participant binds
// at construction (spec.md §4.5): SPDP multicast/unicast and user
// multicast/unicast.
type participantSockets struct {
	spdpMulticast *transport.SPDPMulticastListener
	userMulticast *transport.SPDPMulticastListener
	spdpUnicast   *net.UDPConn
	userUnicast   *net.UDPConn

	spdpMulticastPort int
	userMulticastPort int
	spdpUnicastPort   int
	userUnicastPort   int
	participantId     int
}

func bindParticipantSockets(domainId int) (participantSockets, error) {
	if err := transport.ValidateDomainId(domainId); err != nil {
		return participantSockets{}, err
	}

	spdpMulticast, err := transport.OpenSPDPMulticastListener(domainId)
	if err != nil {
		return participantSockets{}, fmt.Errorf("rdds: opening SPDP multicast listener: %w", err)
	}
	userMulticast, err := transport.OpenUserMulticastListener(domainId)
	if err != nil {
		spdpMulticast.Close()
		return participantSockets{}, fmt.Errorf("rdds: opening user multicast listener: %w", err)
	}

	participantId, spdpUnicast, userUnicast, err := transport.ScanParticipantID(domainId)
	if err != nil {
		spdpMulticast.Close()
		userMulticast.Close()
		return participantSockets{}, err
	}

	return participantSockets{
		spdpMulticast:     spdpMulticast,
		userMulticast:     userMulticast,
		spdpUnicast:       spdpUnicast,
		userUnicast:       userUnicast,
		spdpMulticastPort: transport.SPDPMulticastPort(domainId),
		userMulticastPort: transport.UserMulticastPort(domainId),
		spdpUnicastPort:   transport.SPDPUnicastPort(domainId, participantId),
		userUnicastPort:   transport.UserUnicastPort(domainId, participantId),
		participantId:     participantId,
	}, nil
}

func (s participantSockets) close() {
	s.spdpMulticast.Close()
	s.userMulticast.Close()
	s.spdpUnicast.Close()
	s.userUnicast.Close()
}

// localIPv4 picks the first non-loopback IPv4 address on the host to
// advertise in SPDP unicast locators; a participant announcing
// 0.0.0.0 would be useless to any peer on another host.
func localIPv4() net.IP {
	addrs, err := net.InterfaceAddrs()
	if err == nil {
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok || ipnet.IP.IsLoopback() {
				continue
			}
			if ip4 := ipnet.IP.To4(); ip4 != nil {
				return ip4
			}
		}
	}
	return net.IPv4(127, 0, 0, 1)
}

func locatorFor(ip net.IP, port int) wire.Locator {
	return wire.LocatorFromUDPAddr(&net.UDPAddr{IP: ip, Port: port})
}

// ReaderHandle is what AddReader returns: the caller drives it purely
// through Notify and reads the shared DDSCache directly under its own
// topic name, exactly the contract the out-of-scope DataReader façade
// would build on (spec.md §1 Non-goals, §6).
type ReaderHandle struct {
	GUID   guid.GUID
	Topic  string
	Notify <-chan struct{}
}

// WriterHandle is what AddWriter returns.
type WriterHandle struct {
	GUID  guid.GUID
	Topic string

	dp *DomainParticipant
}

// Write publishes value through this writer (spec.md §6 "write(writer_guid, CacheChange)").
func (h *WriterHandle) Write(value wire.SerializedPayload) error {
	return h.dp.write(h.GUID, value, false, nil)
}

// Dispose publishes a key-only NotAliveDisposed sample for key.
func (h *WriterHandle) Dispose(key []byte) error {
	return h.dp.write(h.GUID, wire.SerializedPayload{}, true, key)
}

// MatchObserver receives the outbound match/loss notifications
// spec.md §6 describes, invoked directly from the discovery thread, or
// from the goroutine calling AddReader/AddWriter when that call finds
// an already-known remote match — implementations must not block in
// these callbacks (spec.md §5: "Neither thread blocks on user code").
type MatchObserver struct {
	OnReaderMatchedWriter func(reader guid.GUID, writer discovery.EndpointInfo)
	OnWriterMatchedReader func(writer guid.GUID, reader discovery.EndpointInfo)
	OnParticipantLost     func(prefix guid.GuidPrefix)
}

// DomainParticipant is the root of the RTPS core (spec.md §2): it owns
// the shared DDSCache, the event-loop thread, and the discovery
// thread, and exposes the inbound command API and outbound
// notification/match-query surface (spec.md §6).
type DomainParticipant struct {
	DomainId      int
	ParticipantId int
	GuidPrefix    guid.GuidPrefix

	cache     *cache.DDSCache
	clock     *guid.Clock
	discovery *discovery.Discovery
	loop      *dpEventLoop
	sockets   participantSockets

	cfg Config
	log zerolog.Logger

	userUnicastLocators   []wire.Locator
	userMulticastLocators []wire.Locator

	nextEntity atomic.Uint32

	loopCtx    context.Context
	loopCancel context.CancelFunc
	loopDone   chan struct{}

	discoveryCtx    context.Context
	discoveryCancel context.CancelFunc
	discoveryDone   chan struct{}
}

// NewDomainParticipant constructs a participant bound to domainId:
// scans for a free participant id (supplemented feature 1), builds
// the shared DDSCache, discovery, and event loop, and starts both
// long-lived threads (spec.md §2, §5). Construction failures — an
// invalid domain id or an exhausted participant-id scan — are
// returned rather than panicking (spec.md §7 Resource exhaustion).
func NewDomainParticipant(domainId int, observer MatchObserver, opts ...ParticipantOption) (*DomainParticipant, error) {
	cfg := Config{
		DomainId:            domainId,
		AnnouncePeriod:      DefaultAnnouncePeriod,
		LeaseDuration:       DefaultLeaseDuration,
		ConstructionTimeout: DefaultConstructionTimeout,
		ShutdownTimeout:     DefaultShutdownTimeout,
	}
	for _, o := range opts {
		o(&cfg)
	}

	sockets, err := bindParticipantSockets(domainId)
	if err != nil {
		return nil, err
	}

	guidPrefix, err := guid.NewGuidPrefix()
	if err != nil {
		sockets.close()
		return nil, fmt.Errorf("rdds: generating participant guid: %w", err)
	}

	logger := log.Logger.With().Str("caller", "rdds.DomainParticipant").Str("guid_prefix", guidPrefix.String()).Logger()

	dp := &DomainParticipant{
		DomainId:      domainId,
		ParticipantId: sockets.participantId,
		GuidPrefix:    guidPrefix,
		cache:         cache.NewDDSCache(),
		clock:         guid.NewClock(),
		sockets:       sockets,
		cfg:           cfg,
		log:           logger,
		loopDone:      make(chan struct{}),
		discoveryDone: make(chan struct{}),
	}

	ip := localIPv4()
	dp.userUnicastLocators = []wire.Locator{locatorFor(ip, sockets.userUnicastPort)}
	dp.userMulticastLocators = []wire.Locator{locatorFor(net.ParseIP(transport.MulticastGroup), sockets.userMulticastPort)}

	discoCfg := discovery.Config{
		DomainId:                     domainId,
		ParticipantId:                sockets.participantId,
		GuidPrefix:                   guidPrefix,
		AnnouncePeriod:               cfg.AnnouncePeriod,
		LeaseDuration:                cfg.LeaseDuration,
		DefaultUnicastLocators:       dp.userUnicastLocators,
		DefaultMulticastLocators:     dp.userMulticastLocators,
		MetatrafficUnicastLocators:   []wire.Locator{locatorFor(ip, sockets.spdpUnicastPort)},
		MetatrafficMulticastLocators: []wire.Locator{locatorFor(net.ParseIP(transport.MulticastGroup), sockets.spdpMulticastPort)},
	}

	hooks := discovery.MatchHooks{
		OnReaderMatchedWriter: func(reader guid.GUID, writer discovery.EndpointInfo) {
			if observer.OnReaderMatchedWriter != nil {
				observer.OnReaderMatchedWriter(reader, writer)
			}
			select {
			case dp.loop.matchReaderCh <- readerMatchedWriterEvent{reader: reader, writer: writer}:
			default:
				dp.log.Warn().Msg("match-reader channel full, dropping match event")
			}
		},
		OnWriterMatchedReader: func(writer guid.GUID, reader discovery.EndpointInfo) {
			if observer.OnWriterMatchedReader != nil {
				observer.OnWriterMatchedReader(writer, reader)
			}
			select {
			case dp.loop.matchWriterCh <- writerMatchedReaderEvent{writer: writer, reader: reader}:
			default:
				dp.log.Warn().Msg("match-writer channel full, dropping match event")
			}
		},
		OnParticipantLost: func(prefix guid.GuidPrefix) {
			if observer.OnParticipantLost != nil {
				observer.OnParticipantLost(prefix)
			}
			dp.forwardParticipantLost(prefix)
		},
	}

	dp.discovery = discovery.NewDiscovery(discoCfg, hooks, logger)
	dp.loop = newDPEventLoop(guidPrefix, dp.discovery, sockets, logger)

	dp.loopCtx, dp.loopCancel = context.WithCancel(context.Background())
	dp.discoveryCtx, dp.discoveryCancel = context.WithCancel(context.Background())

	go func() {
		defer close(dp.loopDone)
		dp.loop.Run(dp.loopCtx)
	}()
	go func() {
		defer close(dp.discoveryDone)
		dp.discovery.Run(dp.discoveryCtx)
	}()

	return dp, nil
}

// forwardParticipantLost hands PARTICIPANT_LOST to the event loop so
// it can tear down the WriterProxy/ReaderProxy objects it owns
// (spec.md §4.6); discovery itself only owns DiscoveryDB, not the
// proxies living inside readers/writers.
func (dp *DomainParticipant) forwardParticipantLost(prefix guid.GuidPrefix) {
	select {
	case dp.loop.lostParticipants <- prefix:
	default:
		dp.log.Warn().Str("participant", prefix.String()).Msg("lost-participant channel full, dropping teardown signal")
	}
}

func (dp *DomainParticipant) stopped() bool {
	select {
	case <-dp.loopCtx.Done():
		return true
	default:
		return false
	}
}

// AddReader registers a new local reader on topic/typeName with the
// given QoS and announces it over SEDP (spec.md §6 "add_reader").
func (dp *DomainParticipant) AddReader(topic, typeName string, policies qos.Policies, keyed bool) (*ReaderHandle, error) {
	if dp.stopped() {
		return nil, ErrPreconditionNotMet
	}
	entity := guid.NewUserEntityId(dp.nextEntity.Add(1), false, keyed)
	g := guid.New(dp.GuidPrefix, entity)
	r := rtps.NewReader(g, topic, policies, dp.cache, dp.clock, dp.log)

	done := make(chan struct{})
	select {
	case dp.loop.addReaderCh <- addReaderReq{reader: r, done: done}:
	case <-dp.loopCtx.Done():
		return nil, ErrPreconditionNotMet
	}
	<-done

	dp.discovery.AddLocalReader(discovery.EndpointInfo{
		GUID:              g,
		TopicName:         topic,
		TypeName:          typeName,
		Policies:          policies,
		UnicastLocators:   dp.userUnicastLocators,
		MulticastLocators: dp.userMulticastLocators,
	})
	return &ReaderHandle{GUID: g, Topic: topic, Notify: r.Notify}, nil
}

// RemoveReader deregisters a local reader (spec.md §6 "remove_reader").
func (dp *DomainParticipant) RemoveReader(g guid.GUID) error {
	if dp.stopped() {
		return ErrPreconditionNotMet
	}
	select {
	case dp.loop.removeReaderCh <- removeReaderReq{guid: g}:
	case <-dp.loopCtx.Done():
		return ErrPreconditionNotMet
	}
	dp.sendDiscoveryCommand(discovery.Command{Kind: discovery.CmdRemoveLocalReader, Reader: g})
	return nil
}

// AddWriter registers a new local writer on topic/typeName with the
// given QoS and announces it over SEDP (spec.md §6 "add_writer").
func (dp *DomainParticipant) AddWriter(topic, typeName string, policies qos.Policies, keyed bool) (*WriterHandle, error) {
	if dp.stopped() {
		return nil, ErrPreconditionNotMet
	}
	entity := guid.NewUserEntityId(dp.nextEntity.Add(1), true, keyed)
	g := guid.New(dp.GuidPrefix, entity)
	w := rtps.NewWriter(g, topic, policies, dp.cache, dp.clock, dp.log)

	done := make(chan struct{})
	select {
	case dp.loop.addWriterCh <- addWriterReq{writer: w, done: done}:
	case <-dp.loopCtx.Done():
		return nil, ErrPreconditionNotMet
	}
	<-done

	dp.discovery.AddLocalWriter(discovery.EndpointInfo{
		GUID:              g,
		TopicName:         topic,
		TypeName:          typeName,
		Policies:          policies,
		UnicastLocators:   dp.userUnicastLocators,
		MulticastLocators: dp.userMulticastLocators,
	})
	return &WriterHandle{GUID: g, Topic: topic, dp: dp}, nil
}

// RemoveWriter deregisters a local writer (spec.md §6 "remove_writer").
func (dp *DomainParticipant) RemoveWriter(g guid.GUID) error {
	if dp.stopped() {
		return ErrPreconditionNotMet
	}
	select {
	case dp.loop.removeWriterCh <- removeWriterReq{guid: g}:
	case <-dp.loopCtx.Done():
		return ErrPreconditionNotMet
	}
	dp.sendDiscoveryCommand(discovery.Command{Kind: discovery.CmdRemoveLocalWriter, Writer: g})
	return nil
}

// Write implements spec.md §6's "write(writer_guid, CacheChange)":
// the actual DDSCache insert and reader-proxy fan-out happen on the
// event-loop thread, this call only hands the payload across.
func (dp *DomainParticipant) Write(writerGUID guid.GUID, value wire.SerializedPayload) error {
	return dp.write(writerGUID, value, false, nil)
}

func (dp *DomainParticipant) write(writerGUID guid.GUID, value wire.SerializedPayload, dispose bool, key []byte) error {
	if dp.stopped() {
		return ErrPreconditionNotMet
	}
	reply := make(chan error, 1)
	req := writeReq{writer: writerGUID, value: value, dispose: dispose, key: key, reply: reply}
	select {
	case dp.loop.writeCh <- req:
	case <-dp.loopCtx.Done():
		return ErrPreconditionNotMet
	}
	select {
	case err := <-reply:
		return err
	case <-dp.loopCtx.Done():
		return ErrPreconditionNotMet
	}
}

// AssertTopicLiveliness implements ASSERT_TOPIC_LIVELINESS (spec.md
// §4.6, supplemented feature 4): re-announce this participant's SPDP
// descriptor immediately instead of waiting for the next period.
func (dp *DomainParticipant) AssertTopicLiveliness(topic string) {
	dp.sendDiscoveryCommand(discovery.Command{Kind: discovery.CmdAssertTopicLiveliness, Topic: topic})
}

func (dp *DomainParticipant) sendDiscoveryCommand(cmd discovery.Command) {
	select {
	case dp.discovery.Commands <- cmd:
	default:
		dp.log.Warn().Msg("discovery command channel full, dropping command")
	}
}

// MatchedRemoteWriters answers spec.md §6's outbound match query for
// one local reader's EndpointInfo.
func (dp *DomainParticipant) MatchedRemoteWriters(reader discovery.EndpointInfo) []discovery.EndpointInfo {
	return dp.discovery.DB().MatchingRemoteWriters(reader)
}

// MatchedRemoteReaders is MatchedRemoteWriters' writer-side counterpart.
func (dp *DomainParticipant) MatchedRemoteReaders(writer discovery.EndpointInfo) []discovery.EndpointInfo {
	return dp.discovery.DB().MatchingRemoteReaders(writer)
}

// Close implements spec.md §5's Cancellation semantics: STOP_DISCOVERY
// first, bounded wait for the discovery thread to dispose-and-join,
// then signal the event loop to stop and join it.
func (dp *DomainParticipant) Close() error {
	dp.sendDiscoveryCommand(discovery.Command{Kind: discovery.CmdStopDiscovery})

	select {
	case <-dp.discoveryDone:
	case <-time.After(dp.cfg.ShutdownTimeout):
		dp.log.Warn().Msg("discovery did not join within shutdown timeout, forcing")
		dp.discoveryCancel()
		<-dp.discoveryDone
	}

	dp.loopCancel()
	select {
	case <-dp.loopDone:
	case <-time.After(dp.cfg.ShutdownTimeout):
		dp.log.Warn().Msg("event loop did not join within shutdown timeout, forcing")
	}

	dp.sockets.close()
	return nil
}
