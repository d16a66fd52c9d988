// Command publisher is a CLI demo writer: it loads a TOML QoS profile,
// binds a UDP transport, and periodically writes a counter payload to one
// topic, printing a progress dot per sample sent (teacher: ping's
// dot-per-attempt progress style, fmt.Printf("!")/fmt.Printf("~")).
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
	"github.com/latticemw/rtpscore/core/transport"
	"github.com/latticemw/rtpscore/core/wire"
	"github.com/latticemw/rtpscore/guid"
	"github.com/latticemw/rtpscore/rtps/writer"
)

func main() {
	configPath := flag.String("config", "publisher.toml", "path to TOML configuration")
	profileName := flag.String("profile", "reliable", "QoS profile name to use")
	topic := flag.String("topic", "demo/topic", "topic to write")
	peer := flag.String("peer", "127.0.0.1:7401", "subscriber address to write to")
	period := flag.Duration("period", time.Second, "interval between samples")
	count := flag.Int("count", 0, "number of samples to send (0 = unbounded)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "publisher: %v\n", err)
		os.Exit(1)
	}
	q, err := cfg.Resolve(*profileName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "publisher: %v\n", err)
		os.Exit(1)
	}

	backend, err := corelog.NewBackend(os.Stderr, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "publisher: %v\n", err)
		os.Exit(1)
	}
	logger := backend.GetLogger("publisher")

	tr, err := transport.Listen(cfg.Participant.BindAddress, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "publisher: %v\n", err)
		os.Exit(1)
	}
	defer tr.Close()

	var writerGUID guid.GUID
	writerGUID[15] = 1
	var readerGUID guid.GUID
	readerGUID[15] = 2

	sender := &udpSender{tr: tr, peer: transport.Locator(*peer), reader: readerGUID}
	w := writer.New(writerGUID, qos.NoKey, q, nil, nil, sender, nil, logger)
	defer w.Stop()

	var readerProxyLease time.Duration
	if q.Liveliness.LeaseDuration > 0 {
		readerProxyLease = q.Liveliness.LeaseDuration
	}
	w.MatchedReaderAdd(readerGUID, false, q.Liveliness.Kind, readerProxyLease)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	go func() {
		_ = tr.Serve(ctx, func(from transport.Locator, msg interface{}) {
			switch m := msg.(type) {
			case *wire.AckNack:
				w.OnAckNack(readerGUID, m.Base, m.Set(), m.Count)
			}
		})
	}()

	fmt.Printf("publisher: writing %q every %s to %s\n", *topic, *period, *peer)
	ticker := time.NewTicker(*period)
	defer ticker.Stop()

	sent := 0
	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			return
		case <-ticker.C:
			payload := []byte(fmt.Sprintf("sample-%d", sent))
			c, gap := w.NewChange(cache.Alive, instance.Handle{}, payload)
			w.AddChange(c, gap)
			fmt.Print(".")
			sent++
			if *count > 0 && sent >= *count {
				fmt.Println()
				return
			}
		}
	}
}

// udpSender adapts transport.UDPTransport to writer.Sender for a single
// fixed peer - SEDP-driven per-reader locator resolution is out of scope
// for this demo binary.
type udpSender struct {
	tr     *transport.UDPTransport
	peer   transport.Locator
	reader guid.GUID
}

func (s *udpSender) SendData(reader guid.GUID, msg wire.Data) {
	_ = s.tr.Send(s.peer, msg)
}

func (s *udpSender) SendHeartbeat(reader guid.GUID, msg wire.Heartbeat) {
	_ = s.tr.Send(s.peer, msg)
}

func (s *udpSender) SendGap(reader guid.GUID, msg wire.Gap) {
	_ = s.tr.Send(s.peer, msg)
}
