// Command subscriber is a CLI demo reader: it loads a TOML QoS profile,
// binds a UDP transport, matches one fixed writer peer, and prints each
// delivered sample (teacher: ping's dot-per-result progress style, adapted
// here to print the payload instead of a bare dot since a subscriber's job
// is to show what it received).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/latticemw/rtpscore/config"
	"github.com/latticemw/rtpscore/core/cache"
	"github.com/latticemw/rtpscore/core/instance"
	corelog "github.com/latticemw/rtpscore/core/log"
	"github.com/latticemw/rtpscore/core/qos"
	"github.com/latticemw/rtpscore/core/seqnum"
	"github.com/latticemw/rtpscore/core/transport"
	"github.com/latticemw/rtpscore/core/wire"
	"github.com/latticemw/rtpscore/guid"
	"github.com/latticemw/rtpscore/rtps/reader"
)

func main() {
	configPath := flag.String("config", "subscriber.toml", "path to TOML configuration")
	profileName := flag.String("profile", "reliable", "QoS profile name to use")
	topic := flag.String("topic", "demo/topic", "topic to read")
	peer := flag.String("peer", "127.0.0.1:7400", "publisher address to match against")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "subscriber: %v\n", err)
		os.Exit(1)
	}
	q, err := cfg.Resolve(*profileName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "subscriber: %v\n", err)
		os.Exit(1)
	}

	backend, err := corelog.NewBackend(os.Stderr, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "subscriber: %v\n", err)
		os.Exit(1)
	}
	logger := backend.GetLogger("subscriber")

	tr, err := transport.Listen(cfg.Participant.BindAddress, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "subscriber: %v\n", err)
		os.Exit(1)
	}
	defer tr.Close()

	var writerGUID guid.GUID
	writerGUID[15] = 1
	var readerGUID guid.GUID
	readerGUID[15] = 2

	sender := &udpSender{tr: tr, peer: transport.Locator(*peer)}
	listener := &printListener{topic: *topic}

	r := reader.New(readerGUID, qos.NoKey, q, nil, sender, listener, logger)
	defer r.Stop()

	var writerLease time.Duration
	if q.Liveliness.LeaseDuration > 0 {
		writerLease = q.Liveliness.LeaseDuration
	}
	r.MatchedWriterAdd(writerGUID, q.Liveliness.Kind, writerLease)
	listener.r = r
	listener.writer = writerGUID

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	fmt.Printf("subscriber: reading %q from %s\n", *topic, *peer)

	if err := tr.Serve(ctx, func(from transport.Locator, msg interface{}) {
		switch m := msg.(type) {
		case *wire.Data:
			kind := cache.Alive
			if m.Flags&wire.FlagKeyOnly != 0 {
				kind = cache.NotAliveUnregistered
			}
			c := cache.New(writerGUID, m.SequenceNumber, kind, instance.Handle{}, m.Payload)
			r.ProcessData(writerGUID, c)
		case *wire.Heartbeat:
			r.ProcessHeartbeat(writerGUID, m.Count, m.FirstSN, m.LastSN, m.Final())
		case *wire.Gap:
			r.ProcessGap(writerGUID, m.GapStart, m.GapSet())
		}
	}); err != nil {
		fmt.Fprintf(os.Stderr, "subscriber: %v\n", err)
		os.Exit(1)
	}
}

type udpSender struct {
	tr   *transport.UDPTransport
	peer transport.Locator
}

func (s *udpSender) SendAckNack(writer guid.GUID, msg wire.AckNack) {
	_ = s.tr.Send(s.peer, msg)
}

func (s *udpSender) SendNackFrag(writer guid.GUID, msg wire.NackFrag) {
	_ = s.tr.Send(s.peer, msg)
}

// printListener prints every newly available sample as it is taken from the
// reader's history.
type printListener struct {
	topic  string
	r      *reader.StatefulReader
	writer guid.GUID
}

func (l *printListener) OnDataAvailable(writer guid.GUID, first, last seqnum.SequenceNumber) {
	l.r.Take(writer, func(c *cache.Cache) {
		fmt.Printf("[%s] #%d: %s\n", l.topic, c.SequenceNumber, string(c.Payload))
	})
}

func (l *printListener) OnSampleRejected(writer guid.GUID, sn seqnum.SequenceNumber, reason cache.RejectionReason) {
	fmt.Fprintf(os.Stderr, "[%s] rejected #%d: %v\n", l.topic, sn, reason)
}

func (l *printListener) OnSampleLost(writer guid.GUID, count int) {
	fmt.Fprintf(os.Stderr, "[%s] lost %d sample(s)\n", l.topic, count)
}

func (l *printListener) OnRequestedIncompatibleQoS(mask qos.QoSMask) {
	fmt.Fprintf(os.Stderr, "[%s] incompatible QoS: %v\n", l.topic, mask)
}

func (l *printListener) OnLivelinessChanged(writer guid.GUID, alive bool) {
	fmt.Printf("[%s] writer liveliness: %v\n", l.topic, alive)
}

func (l *printListener) OnSubscriptionMatched(writer guid.GUID, matched bool) {
	fmt.Printf("[%s] matched: %v\n", l.topic, matched)
}
