package participant

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/latticemw/rtpscore/core/qos"
	"github.com/latticemw/rtpscore/guid"
	"github.com/latticemw/rtpscore/rtps/reader"
	"github.com/latticemw/rtpscore/rtps/writer"
)

func testGUID(b byte) guid.GUID {
	var g guid.GUID
	g[0] = b
	return g
}

type recordingMatchListener struct {
	mu      sync.Mutex
	matched [][2]guid.GUID
}

func (l *recordingMatchListener) OnEndpointsMatched(local, remote guid.GUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.matched = append(l.matched, [2]guid.GUID{local, remote})
}
func (l *recordingMatchListener) OnEndpointsUnmatched(guid.GUID, guid.GUID) {}

func descriptor(topic string) qos.EndpointDescriptor {
	return qos.EndpointDescriptor{
		TopicName: topic,
		TypeName:  "demo.Type",
		TopicKind: qos.NoKey,
		QoS:       qos.Default(),
	}
}

func TestAddDiscoveredWriterMatchesExistingReader(t *testing.T) {
	ml := &recordingMatchListener{}
	p := New(guid.Prefix{0xAA}, ml, nil)

	readerGUID := testGUID(1)
	r := reader.New(readerGUID, qos.NoKey, qos.Default(), nil, nil, nil, nil)
	defer r.Stop()
	p.AddReader(r, descriptor("demo/topic"))

	writerGUID := testGUID(2)
	p.AddDiscoveredWriter(RemoteEndpoint{
		GUID:          writerGUID,
		Descriptor:    descriptor("demo/topic"),
		Liveliness:    qos.Automatic,
		LeaseDuration: time.Minute,
	})

	require.Equal(t, [][2]guid.GUID{{readerGUID, writerGUID}}, ml.matched)
}

func TestAddDiscoveredReaderMatchesExistingWriter(t *testing.T) {
	ml := &recordingMatchListener{}
	p := New(guid.Prefix{0xBB}, ml, nil)

	writerGUID := testGUID(3)
	w := writer.New(writerGUID, qos.NoKey, qos.Default(), nil, nil, nil, nil, nil)
	defer w.Stop()
	p.AddWriter(w, descriptor("demo/topic"))

	readerGUID := testGUID(4)
	p.AddDiscoveredReader(RemoteEndpoint{
		GUID:          readerGUID,
		Descriptor:    descriptor("demo/topic"),
		Liveliness:    qos.Automatic,
		LeaseDuration: time.Minute,
	})

	require.Equal(t, [][2]guid.GUID{{writerGUID, readerGUID}}, ml.matched)
}

func TestMismatchedTopicNeverMatches(t *testing.T) {
	ml := &recordingMatchListener{}
	p := New(guid.Prefix{0xCC}, ml, nil)

	readerGUID := testGUID(5)
	r := reader.New(readerGUID, qos.NoKey, qos.Default(), nil, nil, nil, nil)
	defer r.Stop()
	p.AddReader(r, descriptor("demo/topic-a"))

	p.AddDiscoveredWriter(RemoteEndpoint{
		GUID:          testGUID(6),
		Descriptor:    descriptor("demo/topic-b"),
		Liveliness:    qos.Automatic,
		LeaseDuration: time.Minute,
	})

	require.Empty(t, ml.matched)
}

func TestOnParticipantLostUnmatchesRemoteEndpoints(t *testing.T) {
	ml := &recordingMatchListener{}
	p := New(guid.Prefix{0xDD}, ml, nil)

	readerGUID := testGUID(7)
	r := reader.New(readerGUID, qos.NoKey, qos.Default(), nil, nil, nil, nil)
	defer r.Stop()
	p.AddReader(r, descriptor("demo/topic"))

	var remotePrefix guid.Prefix
	remotePrefix[0] = 0xEE
	var writerGUID guid.GUID
	copy(writerGUID[:12], remotePrefix[:])
	writerGUID[12] = 1

	p.AddDiscoveredWriter(RemoteEndpoint{
		GUID:          writerGUID,
		Descriptor:    descriptor("demo/topic"),
		Liveliness:    qos.Automatic,
		LeaseDuration: time.Minute,
	})
	require.Len(t, ml.matched, 1)

	p.OnParticipantLost(remotePrefix, 0)

	p.mu.Lock()
	_, stillRemembered := p.remoteWriters[writerGUID]
	p.mu.Unlock()
	require.False(t, stillRemembered)
}
