// Package participant owns one participant's endpoint arenas and wires the
// EndpointMatcher (core/qos.ValidMatching, component C5) between locally
// owned readers/writers and the remote endpoint descriptors an (out of
// scope, spec.md §1) SEDP-equivalent discovery protocol feeds in. It also
// implements core/discovery.ParticipantRegistry, the contract PDP consumes
// to learn what this participant offers.
package participant

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/latticemw/rtpscore/core/discovery"
	"github.com/latticemw/rtpscore/core/qos"
	"github.com/latticemw/rtpscore/rtps/reader"
	"github.com/latticemw/rtpscore/rtps/writer"

	"github.com/latticemw/rtpscore/guid"
)

// localReader bundles one StatefulReader with the descriptor the matcher
// needs and the remote writers currently paired to it.
type localReader struct {
	r          *reader.StatefulReader
	descriptor qos.EndpointDescriptor
	matched    map[guid.GUID]struct{}
}

type localWriter struct {
	w          *writer.StatefulWriter
	descriptor qos.EndpointDescriptor
	matched    map[guid.GUID]struct{}
}

// RemoteEndpoint is what a SEDP-equivalent discovery protocol announces
// about one remote reader or writer (spec.md §4.5's writer_desc/reader_desc).
type RemoteEndpoint struct {
	GUID          guid.GUID
	Descriptor    qos.EndpointDescriptor
	Liveliness    qos.LivelinessKind
	LeaseDuration time.Duration
	InlineQos     bool
}

// MatchListener receives the matched/unmatched notifications spec.md §4.5's
// "Matching side effects" paragraph specifies, at participant scope (in
// addition to the per-endpoint listeners each StatefulReader/StatefulWriter
// already drives). Incompatible-QoS verdicts go only to those endpoint
// listeners.
type MatchListener interface {
	OnEndpointsMatched(local, remote guid.GUID)
	OnEndpointsUnmatched(local, remote guid.GUID)
}

type nopMatchListener struct{}

func (nopMatchListener) OnEndpointsMatched(guid.GUID, guid.GUID)   {}
func (nopMatchListener) OnEndpointsUnmatched(guid.GUID, guid.GUID) {}

// Participant owns the participant-wide locking order spec.md §5 names:
// this registry lock first, then whichever endpoint's own lock its
// reader/writer method takes, then that endpoint's history lock.
type Participant struct {
	mu sync.Mutex

	Prefix guid.Prefix

	readers map[guid.GUID]*localReader
	writers map[guid.GUID]*localWriter

	remoteWriters map[guid.GUID]RemoteEndpoint
	remoteReaders map[guid.GUID]RemoteEndpoint

	listener MatchListener
	log      *log.Logger
}

// New constructs an empty Participant identified by prefix.
func New(prefix guid.Prefix, listener MatchListener, logger *log.Logger) *Participant {
	if listener == nil {
		listener = nopMatchListener{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Participant{
		Prefix:        prefix,
		readers:       make(map[guid.GUID]*localReader),
		writers:       make(map[guid.GUID]*localWriter),
		remoteWriters: make(map[guid.GUID]RemoteEndpoint),
		remoteReaders: make(map[guid.GUID]RemoteEndpoint),
		listener:      listener,
		log:           logger.WithPrefix("participant"),
	}
}

// AddReader installs a locally owned reader and immediately matches it
// against every already-known remote writer.
func (p *Participant) AddReader(r *reader.StatefulReader, desc qos.EndpointDescriptor) {
	p.mu.Lock()
	p.readers[r.GUID] = &localReader{r: r, descriptor: desc, matched: make(map[guid.GUID]struct{})}
	remotes := make([]RemoteEndpoint, 0, len(p.remoteWriters))
	for _, re := range p.remoteWriters {
		remotes = append(remotes, re)
	}
	p.mu.Unlock()

	for _, re := range remotes {
		p.tryMatchReaderWriter(r.GUID, re.GUID)
	}
}

// AddWriter installs a locally owned writer and immediately matches it
// against every already-known remote reader.
func (p *Participant) AddWriter(w *writer.StatefulWriter, desc qos.EndpointDescriptor) {
	p.mu.Lock()
	p.writers[w.GUID] = &localWriter{w: w, descriptor: desc, matched: make(map[guid.GUID]struct{})}
	remotes := make([]RemoteEndpoint, 0, len(p.remoteReaders))
	for _, re := range p.remoteReaders {
		remotes = append(remotes, re)
	}
	p.mu.Unlock()

	for _, re := range remotes {
		p.tryMatchReaderWriter(re.GUID, w.GUID)
	}
}

// RemoveReader unpairs and drops a locally owned reader.
func (p *Participant) RemoveReader(g guid.GUID) {
	p.mu.Lock()
	var remotes []guid.GUID
	if lr, ok := p.readers[g]; ok {
		for rg := range lr.matched {
			remotes = append(remotes, rg)
		}
	}
	p.mu.Unlock()

	for _, rg := range remotes {
		p.unmatch(g, rg)
	}
	p.mu.Lock()
	delete(p.readers, g)
	p.mu.Unlock()
}

// RemoveWriter unpairs and drops a locally owned writer.
func (p *Participant) RemoveWriter(g guid.GUID) {
	p.mu.Lock()
	var remotes []guid.GUID
	if lw, ok := p.writers[g]; ok {
		for rg := range lw.matched {
			remotes = append(remotes, rg)
		}
	}
	p.mu.Unlock()

	for _, rg := range remotes {
		p.unmatch(g, rg)
	}
	p.mu.Lock()
	delete(p.writers, g)
	p.mu.Unlock()
}

// AddDiscoveredWriter records a remote writer announcement and tries to
// match it against every local reader.
func (p *Participant) AddDiscoveredWriter(re RemoteEndpoint) {
	p.mu.Lock()
	p.remoteWriters[re.GUID] = re
	locals := make([]guid.GUID, 0, len(p.readers))
	for g := range p.readers {
		locals = append(locals, g)
	}
	p.mu.Unlock()

	for _, g := range locals {
		p.tryMatchReaderWriter(g, re.GUID)
	}
}

// AddDiscoveredReader records a remote reader announcement and tries to
// match it against every local writer.
func (p *Participant) AddDiscoveredReader(re RemoteEndpoint) {
	p.mu.Lock()
	p.remoteReaders[re.GUID] = re
	locals := make([]guid.GUID, 0, len(p.writers))
	for g := range p.writers {
		locals = append(locals, g)
	}
	p.mu.Unlock()

	for _, g := range locals {
		p.tryMatchReaderWriter(re.GUID, g)
	}
}

// RemoveDiscoveredWriter unmatches and drops a remote writer no longer
// discovered.
func (p *Participant) RemoveDiscoveredWriter(g guid.GUID) {
	p.mu.Lock()
	delete(p.remoteWriters, g)
	var affected []guid.GUID
	for rg, lr := range p.readers {
		if _, ok := lr.matched[g]; ok {
			affected = append(affected, rg)
		}
	}
	p.mu.Unlock()

	for _, rg := range affected {
		p.unmatch(rg, g)
	}
}

// RemoveDiscoveredReader unmatches and drops a remote reader no longer
// discovered.
func (p *Participant) RemoveDiscoveredReader(g guid.GUID) {
	p.mu.Lock()
	delete(p.remoteReaders, g)
	var affected []guid.GUID
	for wg, lw := range p.writers {
		if _, ok := lw.matched[g]; ok {
			affected = append(affected, wg)
		}
	}
	p.mu.Unlock()

	for _, wg := range affected {
		p.unmatch(wg, g)
	}
}

func (p *Participant) tryMatchReaderWriter(readerGUID, writerGUID guid.GUID) {
	p.mu.Lock()
	lr, rok := p.readers[readerGUID]
	rw, wok := p.remoteWriters[writerGUID]
	lw, lwok := p.writers[writerGUID]
	rr, rrok := p.remoteReaders[readerGUID]
	p.mu.Unlock()

	// A pair is matched only as a local reader against an announced remote
	// writer, or a local writer against an announced remote reader. Two
	// local endpoints are paired only if one of them has also been
	// announced through AddDiscoveredWriter/AddDiscoveredReader.
	switch {
	case rok && wok:
		p.matchLocalReaderRemoteWriter(lr, readerGUID, rw)
	case lwok && rrok:
		p.matchLocalWriterRemoteReader(lw, writerGUID, rr)
	}
}

func (p *Participant) matchLocalReaderRemoteWriter(lr *localReader, readerGUID guid.GUID, rw RemoteEndpoint) {
	matched, _, incompatible := qos.ValidMatching(rw.Descriptor, lr.descriptor)
	if !matched {
		if incompatible != 0 {
			lr.r.NotifyIncompatibleQoS(incompatible)
		}
		return
	}

	p.mu.Lock()
	_, already := lr.matched[rw.GUID]
	if !already {
		lr.matched[rw.GUID] = struct{}{}
	}
	p.mu.Unlock()
	if already {
		return
	}

	lr.r.MatchedWriterAdd(rw.GUID, rw.Liveliness, rw.LeaseDuration)
	p.listener.OnEndpointsMatched(readerGUID, rw.GUID)
}

func (p *Participant) matchLocalWriterRemoteReader(lw *localWriter, writerGUID guid.GUID, rr RemoteEndpoint) {
	matched, _, incompatible := qos.ValidMatching(lw.descriptor, rr.Descriptor)
	if !matched {
		if incompatible != 0 {
			lw.w.NotifyIncompatibleQoS(incompatible)
		}
		return
	}

	p.mu.Lock()
	_, already := lw.matched[rr.GUID]
	if !already {
		lw.matched[rr.GUID] = struct{}{}
	}
	p.mu.Unlock()
	if already {
		return
	}

	lw.w.MatchedReaderAdd(rr.GUID, rr.InlineQos, rr.Liveliness, rr.LeaseDuration)
	p.listener.OnEndpointsMatched(writerGUID, rr.GUID)
}

func (p *Participant) unmatch(local, remote guid.GUID) {
	p.mu.Lock()
	lr, isReader := p.readers[local]
	lw, isWriter := p.writers[local]
	p.mu.Unlock()

	switch {
	case isReader:
		lr.r.MatchedWriterRemove(remote)
		p.mu.Lock()
		delete(lr.matched, remote)
		p.mu.Unlock()
	case isWriter:
		lw.w.MatchedReaderRemove(remote)
		p.mu.Lock()
		delete(lw.matched, remote)
		p.mu.Unlock()
	}
	p.listener.OnEndpointsUnmatched(local, remote)
}

// --- core/discovery.ParticipantRegistry ---

// LookupParticipant is a placeholder local-only lookup: this Participant
// tracks remote endpoints, not remote participants, so it never resolves a
// prefix to a descriptor itself (spec.md §1: PDP's registry is the
// authoritative source; a real deployment wires PDP's own registry here).
func (p *Participant) LookupParticipant(guid.Prefix) (discovery.ParticipantDescriptor, bool) {
	return discovery.ParticipantDescriptor{}, false
}

func (p *Participant) ForEachUserReader(fn func(discovery.EndpointRef)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for g, lr := range p.readers {
		fn(discovery.EndpointRef{GUID: g, TopicName: lr.descriptor.TopicName})
	}
}

func (p *Participant) ForEachUserWriter(fn func(discovery.EndpointRef)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for g, lw := range p.writers {
		fn(discovery.EndpointRef{GUID: g, TopicName: lw.descriptor.TopicName})
	}
}

// OnParticipantDiscovered is a no-op at this layer: endpoint-level matching
// happens from AddDiscoveredWriter/AddDiscoveredReader once SEDP announces
// the remote participant's individual endpoints.
func (p *Participant) OnParticipantDiscovered(discovery.ParticipantDescriptor) {}

// OnParticipantLost drops every remote endpoint whose GUID carries prefix,
// unmatching each from whichever local endpoint it was paired to.
func (p *Participant) OnParticipantLost(prefix guid.Prefix, _ discovery.LostReason) {
	p.mu.Lock()
	var writers, readers []guid.GUID
	for g := range p.remoteWriters {
		if g.Prefix() == prefix {
			writers = append(writers, g)
		}
	}
	for g := range p.remoteReaders {
		if g.Prefix() == prefix {
			readers = append(readers, g)
		}
	}
	p.mu.Unlock()

	for _, g := range writers {
		p.RemoveDiscoveredWriter(g)
	}
	for _, g := range readers {
		p.RemoveDiscoveredReader(g)
	}
}

// CheckLiveliness sweeps every local reader's and writer's matched-peer
// leases, invoked periodically by the owner (spec.md §5's event thread
// pool).
func (p *Participant) CheckLiveliness(now time.Time) {
	p.mu.Lock()
	readers := make([]*reader.StatefulReader, 0, len(p.readers))
	for _, lr := range p.readers {
		readers = append(readers, lr.r)
	}
	writers := make([]*writer.StatefulWriter, 0, len(p.writers))
	for _, lw := range p.writers {
		writers = append(writers, lw.w)
	}
	p.mu.Unlock()

	for _, r := range readers {
		r.CheckLiveliness(now)
	}
	for _, w := range writers {
		w.CheckLiveliness(now)
	}
}
