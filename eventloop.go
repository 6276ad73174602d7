package rdds

import (
	"context"
	"net"
	"time"

	"github.com/nautopia/rdds/discovery"
	"github.com/nautopia/rdds/guid"
	"github.com/nautopia/rdds/qos"
	"github.com/nautopia/rdds/receiver"
	"github.com/nautopia/rdds/rtps"
	"github.com/nautopia/rdds/transport"
	"github.com/nautopia/rdds/wire"
	"github.com/rs/zerolog"
)

// datagram is one inbound UDP read, tagged with which socket it came
// in on only insofar as that's implicit in which pump goroutine sent
// it; DPEventLoop itself treats every socket's traffic identically
// (spec.md §4.5: "registered sources: UDP sockets...").
type datagram struct {
	data []byte
	from *net.UDPAddr
}

// addReaderReq/addWriterReq/removeReaderReq/removeWriterReq/writeReq
// are the bounded control-channel payloads spec.md §4.5/§5 names
// (add_reader, remove_reader, add_writer, remove_writer). Reader/
// Writer objects are constructed by the calling goroutine (pure, no
// shared state touched) and handed across the channel so that only
// the event-loop thread ever registers them into its dispatch maps or
// drives their HandleData/Write methods (spec.md Design Notes: "one
// owner, the event loop, holds all Reader/Writer state").
type addReaderReq struct {
	reader *rtps.Reader
	done   chan struct{}
}

type addWriterReq struct {
	writer *rtps.Writer
	done   chan struct{}
}

type removeReaderReq struct {
	guid guid.GUID
}

type removeWriterReq struct {
	guid guid.GUID
}

type writeReq struct {
	writer  guid.GUID
	value   wire.SerializedPayload
	dispose bool
	key     []byte
	reply   chan error
}

// readerMatchedWriterEvent/writerMatchedReaderEvent carry a SEDP match
// discovery decided on across to the event-loop thread, which is the
// only goroutine allowed to call Reader.MatchWriter/Writer.MatchReader
// on the Reader/Writer objects it owns (spec.md Design Notes: "one
// owner... holds all Reader/Writer state"; spec.md §4.6: "On match,
// instantiate a WriterProxy inside R and a ReaderProxy inside W").
type readerMatchedWriterEvent struct {
	reader guid.GUID
	writer discovery.EndpointInfo
}

type writerMatchedReaderEvent struct {
	writer guid.GUID
	reader discovery.EndpointInfo
}

// dpEventLoop is the cooperative poller of spec.md §4.5: it owns the
// four UDP sockets, the bounded control channels, and the dispatch
// maps receiver.MessageReceiver's lookup hooks read from. It belongs
// to exactly one goroutine (Run); everything it touches after
// construction is reachable only from that goroutine or via a
// channel send.
type dpEventLoop struct {
	guidPrefix guid.GuidPrefix

	spdpMulticastConn *net.UDPConn
	spdpUnicastConn   *net.UDPConn
	userMulticastConn *net.UDPConn
	userUnicastConn   *net.UDPConn

	spdpMulticastAddr *net.UDPAddr
	userMulticastAddr *net.UDPAddr

	disco *discovery.Discovery
	mr    *receiver.MessageReceiver

	readers map[guid.EntityId]*rtps.Reader
	writers map[guid.EntityId]*rtps.Writer

	inbound chan datagram

	addReaderCh    chan addReaderReq
	removeReaderCh chan removeReaderReq
	addWriterCh    chan addWriterReq
	removeWriterCh chan removeWriterReq
	writeCh        chan writeReq
	stopCh         chan struct{}

	lostParticipants chan guid.GuidPrefix
	matchReaderCh    chan readerMatchedWriterEvent
	matchWriterCh    chan writerMatchedReaderEvent

	log zerolog.Logger
}

func newDPEventLoop(guidPrefix guid.GuidPrefix, disco *discovery.Discovery, sockets participantSockets, log zerolog.Logger) *dpEventLoop {
	l := &dpEventLoop{
		guidPrefix:        guidPrefix,
		spdpMulticastConn: sockets.spdpMulticast.Conn,
		spdpUnicastConn:   sockets.spdpUnicast,
		userMulticastConn: sockets.userMulticast.Conn,
		userUnicastConn:   sockets.userUnicast,
		spdpMulticastAddr: &net.UDPAddr{IP: net.ParseIP(transport.MulticastGroup), Port: sockets.spdpMulticastPort},
		userMulticastAddr: &net.UDPAddr{IP: net.ParseIP(transport.MulticastGroup), Port: sockets.userMulticastPort},
		disco:             disco,
		readers:           make(map[guid.EntityId]*rtps.Reader),
		writers:           make(map[guid.EntityId]*rtps.Writer),
		inbound:           make(chan datagram, 256),
		addReaderCh:       make(chan addReaderReq, 100),
		removeReaderCh:    make(chan removeReaderReq, 100),
		addWriterCh:       make(chan addWriterReq, 10),
		removeWriterCh:    make(chan removeWriterReq, 10),
		writeCh:           make(chan writeReq, 100),
		stopCh:            make(chan struct{}),
		lostParticipants:  make(chan guid.GuidPrefix, 10),
		matchReaderCh:     make(chan readerMatchedWriterEvent, 100),
		matchWriterCh:     make(chan writerMatchedReaderEvent, 100),
		log:               log.With().Str("caller", "rdds.dpEventLoop").Logger(),
	}
	l.mr = receiver.NewMessageReceiver(guidPrefix, l.findReaders, l.findWriters, log)
	return l
}

func (l *dpEventLoop) findReaders(entity guid.EntityId) []*rtps.Reader {
	if entity == guid.ENTITYID_UNKNOWN {
		out := make([]*rtps.Reader, 0, len(l.readers)+3)
		out = append(out, l.disco.Readers()...)
		for _, r := range l.readers {
			out = append(out, r)
		}
		return out
	}
	if r, ok := l.readers[entity]; ok {
		return []*rtps.Reader{r}
	}
	for _, r := range l.disco.Readers() {
		if r.GUID.Entity == entity {
			return []*rtps.Reader{r}
		}
	}
	return nil
}

func (l *dpEventLoop) findWriters(entity guid.EntityId) []*rtps.Writer {
	if w, ok := l.writers[entity]; ok {
		return []*rtps.Writer{w}
	}
	for _, w := range l.disco.Writers() {
		if w.GUID.Entity == entity {
			return []*rtps.Writer{w}
		}
	}
	return nil
}

// pump reads datagrams off conn until ctx is done, forwarding each to
// l.inbound. A read error while ctx is still live is a Transient I/O
// failure (spec.md §7): logged, socket kept, loop continues.
func (l *dpEventLoop) pump(ctx context.Context, conn *net.UDPConn) {
	buf := make([]byte, 64*1024)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			l.log.Warn().Err(err).Msg("udp read failed")
			continue
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		select {
		case l.inbound <- datagram{data: cp, from: from}:
		case <-ctx.Done():
			return
		}
	}
}

// Run is the event-loop thread proper (spec.md §4.5, §5): it never
// blocks on anything but its own select, drains every ready source
// fully before the next iteration falls out naturally from Go's
// channel semantics, and never holds the DDSCache lock across a poll
// (it never takes that lock directly at all — every cache access
// happens inside rtps.Reader/rtps.Writer methods).
func (l *dpEventLoop) Run(ctx context.Context) {
	go l.pump(ctx, l.spdpMulticastConn)
	go l.pump(ctx, l.spdpUnicastConn)
	go l.pump(ctx, l.userMulticastConn)
	go l.pump(ctx, l.userUnicastConn)

	heartbeatTicker := time.NewTicker(rtps.HeartbeatPeriod)
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case dg := <-l.inbound:
			outcome, err := l.mr.HandleDatagram(dg.data, time.Now())
			if err != nil {
				l.log.Debug().Err(err).Msg("dropping malformed datagram")
				continue
			}
			l.sendAckNacks(outcome.AckNacks)
			l.sendPendingSends(outcome.Sends)
		case o := <-l.disco.Outbound:
			l.sendDiscoveryOutbound(o)
		case req := <-l.addReaderCh:
			l.readers[req.reader.GUID.Entity] = req.reader
			close(req.done)
		case req := <-l.removeReaderCh:
			delete(l.readers, req.guid.Entity)
		case req := <-l.addWriterCh:
			l.writers[req.writer.GUID.Entity] = req.writer
			close(req.done)
		case req := <-l.removeWriterCh:
			delete(l.writers, req.guid.Entity)
		case req := <-l.writeCh:
			l.handleWrite(req)
		case prefix := <-l.lostParticipants:
			l.tearDownParticipant(prefix)
		case ev := <-l.matchReaderCh:
			l.handleReaderMatchedWriter(ev)
		case ev := <-l.matchWriterCh:
			l.handleWriterMatchedReader(ev)
		case <-heartbeatTicker.C:
			l.sendHeartbeats()
		}
	}
}

func (l *dpEventLoop) handleWrite(req writeReq) {
	w, ok := l.writers[req.writer.Entity]
	if !ok {
		req.reply <- ErrUnknownEntity
		return
	}
	var sends []rtps.PendingSend
	var err error
	if req.dispose {
		sends, err = w.Dispose(req.key)
	} else {
		sends, err = w.Write(req.value, nil)
	}
	if err != nil {
		req.reply <- err
		return
	}
	l.sendPendingSends(sends)
	req.reply <- nil
}

// sendHeartbeats drives spec.md §4.4's periodic HEARTBEAT: every
// local writer with reliable matched readers gets one HEARTBEAT per
// reader per HeartbeatPeriod tick.
func (l *dpEventLoop) sendHeartbeats() {
	for _, w := range l.writers {
		for _, readerGUID := range w.MatchedReaders() {
			hb, ok := w.BuildHeartbeat(readerGUID, readerGUID.Entity, w.GUID.Entity)
			if !ok {
				continue
			}
			l.sendToGUID(w.ReaderLocators(readerGUID), l.wrapUserMessage(hb))
		}
	}
}

// tearDownParticipant implements the proxy-teardown half of spec.md
// §4.6's PARTICIPANT_LOST: DiscoveryDB has already forgotten the
// remote endpoints, but the WriterProxy/ReaderProxy objects living
// inside this event loop's own readers/writers are untouched until
// now.
func (l *dpEventLoop) tearDownParticipant(prefix guid.GuidPrefix) {
	for _, r := range l.readers {
		for _, w := range r.MatchedWriters() {
			if w.Prefix == prefix {
				r.UnmatchWriter(w)
			}
		}
	}
	for _, w := range l.writers {
		for _, rg := range w.MatchedReaders() {
			if rg.Prefix == prefix {
				w.UnmatchReader(rg)
			}
		}
	}
}

// handleReaderMatchedWriter installs a WriterProxy inside the local
// reader named in ev, populated from the SEDP record's locator lists
// (spec.md §4.6). A match event for a reader this event loop no
// longer owns (removed in the meantime) is silently dropped.
func (l *dpEventLoop) handleReaderMatchedWriter(ev readerMatchedWriterEvent) {
	r, ok := l.readers[ev.reader.Entity]
	if !ok {
		return
	}
	r.MatchWriter(ev.writer.GUID, endpointLocators(ev.writer))
}

// handleWriterMatchedReader is handleReaderMatchedWriter's writer-side
// counterpart: it also records whether the matched reader is
// reliable, since a Writer's ReaderProxy needs that to decide whether
// it owes heartbeats and acknowledgment tracking (spec.md §4.4).
func (l *dpEventLoop) handleWriterMatchedReader(ev writerMatchedReaderEvent) {
	w, ok := l.writers[ev.writer.Entity]
	if !ok {
		return
	}
	reliable := ev.reader.Policies.Reliability.Kind == qos.Reliable
	w.MatchReader(ev.reader.GUID, endpointLocators(ev.reader), reliable)
}

// endpointLocators flattens a SEDP endpoint record's unicast and
// multicast locator lists into the "ip:port" strings
// Writer.ReaderLocators/Reader.WriterLocators hand back to the send
// path.
func endpointLocators(info discovery.EndpointInfo) []string {
	out := make([]string, 0, len(info.UnicastLocators)+len(info.MulticastLocators))
	for _, l := range info.UnicastLocators {
		out = append(out, l.UDPAddr().String())
	}
	for _, l := range info.MulticastLocators {
		out = append(out, l.UDPAddr().String())
	}
	return out
}

func (l *dpEventLoop) sendAckNacks(pending []receiver.PendingAckNack) {
	for _, p := range pending {
		r := l.readers[p.AckNack.ReaderId]
		var locators []string
		if r != nil {
			locators = r.WriterLocators(p.Writer)
		}
		l.sendToGUID(locators, l.wrapUserMessage(p.AckNack))
	}
}

func (l *dpEventLoop) sendPendingSends(pending []rtps.PendingSend) {
	for _, p := range pending {
		w := l.writerOwning(p.Data.WriterId)
		var locators []string
		if w != nil {
			locators = w.ReaderLocators(p.Reader)
		}
		l.sendToGUID(locators, l.wrapUserMessage(p.Data))
	}
}

func (l *dpEventLoop) writerOwning(entity guid.EntityId) *rtps.Writer {
	if w, ok := l.writers[entity]; ok {
		return w
	}
	for _, w := range l.disco.Writers() {
		if w.GUID.Entity == entity {
			return w
		}
	}
	return nil
}

// wrapUserMessage builds a minimal RTPS message
// (header + the one submessage) the way discovery.sendBuiltin does,
// for ordinary user traffic instead of built-in topics.
func (l *dpEventLoop) wrapUserMessage(sm wire.Submessage) []byte {
	msg := wire.Message{
		Header: wire.Header{
			Version:    wire.ProtocolVersion2_3,
			VendorId:   guid.VendorId,
			GuidPrefix: l.guidPrefix,
		},
		Submessages: []wire.Submessage{sm},
	}
	return msg.Encode()
}

// sendToGUID transmits payload to every address in locators (parsed
// "ip:port" strings, as produced by wire.Locator.UDPAddr().String()),
// falling back to the user multicast group if locators is empty —
// matching spec.md §4.4's "implementation choice" to multicast when no
// specific unicast destination is known.
func (l *dpEventLoop) sendToGUID(locators []string, payload []byte) {
	if len(locators) == 0 {
		l.writeUDP(l.userMulticastConn, l.userMulticastAddr, payload)
		return
	}
	for _, loc := range locators {
		addr, err := net.ResolveUDPAddr("udp4", loc)
		if err != nil {
			l.log.Warn().Err(err).Str("locator", loc).Msg("unresolvable locator, dropping send")
			continue
		}
		l.writeUDP(l.userUnicastConn, addr, payload)
	}
}

func (l *dpEventLoop) sendDiscoveryOutbound(o discovery.Outbound) {
	if o.Dest == nil {
		l.writeUDP(l.spdpMulticastConn, l.spdpMulticastAddr, o.Payload)
		return
	}
	l.writeUDP(l.spdpUnicastConn, o.Dest.UDPAddr(), o.Payload)
}

func (l *dpEventLoop) writeUDP(conn *net.UDPConn, addr *net.UDPAddr, payload []byte) {
	if _, err := conn.WriteToUDP(payload, addr); err != nil {
		l.log.Warn().Err(err).Str("addr", addr.String()).Msg("udp write failed")
	}
}

