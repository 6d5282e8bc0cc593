package transport_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/USA-RedDragon/axon/internal/transport"
	"github.com/USA-RedDragon/axon/internal/wire"
	"github.com/stretchr/testify/require"
)

func TestPubSubLoopback(t *testing.T) {
	t.Parallel()

	pub, port, err := transport.ListenPub(context.Background())
	require.NoError(t, err)
	defer pub.Close()

	received := make(chan wire.Message, 4)
	sub := transport.NewSubEmitter(context.Background(), func(_ string, msg wire.Message) {
		received <- msg
	})
	defer sub.Close()

	require.NoError(t, sub.Dial(fmt.Sprintf("127.0.0.1:%d", port)))

	// Give the accept loop a moment to register the connection.
	time.Sleep(50 * time.Millisecond)

	pub.Send(wire.Message{wire.StringField("message::hello"), wire.BlobField([]byte{0x01, 0x02, 0x03})})

	select {
	case msg := <-received:
		require.Len(t, msg, 2)
		require.Equal(t, "message::hello", msg[0].String())
		require.Equal(t, []byte{0x01, 0x02, 0x03}, msg[1].Bytes())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestSubEmitterRejectsDuplicateDial(t *testing.T) {
	t.Parallel()

	pub, port, err := transport.ListenPub(context.Background())
	require.NoError(t, err)
	defer pub.Close()

	sub := transport.NewSubEmitter(context.Background(), func(string, wire.Message) {})
	defer sub.Close()

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	require.NoError(t, sub.Dial(addr))
	require.NoError(t, sub.Dial(addr))
	require.True(t, sub.Connected(addr))
}

func TestReqRepRoundTrip(t *testing.T) {
	t.Parallel()

	rep, port, err := transport.ListenRep(context.Background(), func(msg wire.Message) wire.Message {
		topic := msg[0].String()
		require.Equal(t, "hello", topic)
		return wire.Message{wire.StringField("reply"), wire.RawJSONField([]byte(`{"goodbye":"world"}`))}
	})
	require.NoError(t, err)
	defer rep.Close()

	req := transport.NewReqTransport(context.Background())
	defer req.Close()

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	require.NoError(t, req.Dial(addr))
	time.Sleep(50 * time.Millisecond)

	reply, err := req.Send(wire.Message{wire.StringField("hello")}, time.Second)
	require.NoError(t, err)
	require.Len(t, reply, 2)

	var decoded map[string]string
	require.NoError(t, reply[1].Unmarshal(&decoded))
	require.Equal(t, "world", decoded["goodbye"])
}

func TestReqTimeoutWithNoConnections(t *testing.T) {
	t.Parallel()

	req := transport.NewReqTransport(context.Background())
	defer req.Close()

	start := time.Now()
	_, err := req.Send(wire.Message{wire.StringField("hello")}, 200*time.Millisecond)
	elapsed := time.Since(start)

	require.Error(t, err)
	require.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	require.Less(t, elapsed, 750*time.Millisecond)
}

func TestReqRoundRobin(t *testing.T) {
	t.Parallel()

	hits := make(chan int, 10)
	makeRep := func(id int) (*transport.RepTransport, int) {
		r, port, err := transport.ListenRep(context.Background(), func(msg wire.Message) wire.Message {
			hits <- id
			return wire.Message{wire.StringField("ok")}
		})
		require.NoError(t, err)
		return r, port
	}

	rep1, port1 := makeRep(1)
	defer rep1.Close()
	rep2, port2 := makeRep(2)
	defer rep2.Close()

	req := transport.NewReqTransport(context.Background())
	defer req.Close()

	require.NoError(t, req.Dial(fmt.Sprintf("127.0.0.1:%d", port1)))
	require.NoError(t, req.Dial(fmt.Sprintf("127.0.0.1:%d", port2)))
	time.Sleep(50 * time.Millisecond)

	seen := map[int]bool{}
	for i := 0; i < 2; i++ {
		_, err := req.Send(wire.Message{wire.StringField("hello")}, time.Second)
		require.NoError(t, err)
		seen[<-hits] = true
	}
	require.Len(t, seen, 2, "round robin should hit both reps")
}
