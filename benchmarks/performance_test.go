// Package benchmarks
// Author: momentics <momentics@gmail.com>
//
// Performance benchmarks for hioload-mq components.

package benchmarks

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/core/protocol"
	"github.com/momentics/hioload-mq/core/queue"
	"github.com/momentics/hioload-mq/mq"
	"github.com/momentics/hioload-mq/pool"
)

func newContext(b *testing.B) *mq.Context {
	b.Helper()
	ctx, err := mq.NewContext(mq.WithIOThreads(2), mq.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = ctx.Term(0) })
	return ctx
}

func socketPair(b *testing.B, ctx *mq.Context, ep string, server, client api.SocketType) (*mq.Socket, *mq.Socket) {
	b.Helper()
	srv, err := ctx.Socket(server)
	if err != nil {
		b.Fatal(err)
	}
	if err := srv.Bind(ep); err != nil {
		b.Fatal(err)
	}
	cli, err := ctx.Socket(client)
	if err != nil {
		b.Fatal(err)
	}
	if err := cli.Connect(srv.LastEndpoint()); err != nil {
		b.Fatal(err)
	}
	return srv, cli
}

// BenchmarkBytePool tests read buffer pool allocation performance.
func BenchmarkBytePool(b *testing.B) {
	p := pool.NewBytePool(64*1024, 256)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			p.Put(p.Get())
		}
	})
}

// BenchmarkQueueThroughput tests the HWM queue under one producer and one consumer.
func BenchmarkQueueThroughput(b *testing.B) {
	q := queue.New(queue.Config{HWM: 1000, Policy: api.Block})
	m := protocol.NewMessage(make([]byte, 64))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < b.N; i++ {
			if _, err := q.Dequeue(api.Infinite); err != nil {
				return
			}
		}
	}()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := q.Enqueue(m, api.Infinite); err != nil {
			b.Fatal(err)
		}
	}
	<-done
}

// BenchmarkFrameEncoding tests wire encoding of a two-frame message.
func BenchmarkFrameEncoding(b *testing.B) {
	m := protocol.NewMessage([]byte("topic"), make([]byte, 1024))
	var enc protocol.Encoder
	b.SetBytes(int64(m.Size()))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := enc.AppendMessage(m); err != nil {
			b.Fatal(err)
		}
		enc.Advance(enc.Len())
	}
}

// BenchmarkFrameDecoding tests incremental decoding in 4 KiB chunks.
func BenchmarkFrameDecoding(b *testing.B) {
	wire, err := protocol.Encode(protocol.NewMessage(make([]byte, 1024)).Frames)
	if err != nil {
		b.Fatal(err)
	}
	var stream []byte
	for len(stream) < 4096 {
		stream = append(stream, wire...)
	}
	perChunk := len(stream) / len(wire)
	d := protocol.NewDecoder(-1)
	b.SetBytes(int64(len(stream)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.Feed(stream)
		for n := 0; n < perChunk; n++ {
			if _, ok, err := d.Next(); !ok || err != nil {
				b.Fatalf("frame %d: ok=%v err=%v", n, ok, err)
			}
		}
	}
}

func benchPipeline(b *testing.B, ep string, size int) {
	ctx := newContext(b)
	pull, push := socketPair(b, ctx, ep, api.PULL, api.PUSH)
	payload := make([]byte, size)

	go func() {
		for i := 0; i < b.N; i++ {
			if err := push.Send([][]byte{payload}, 0); err != nil {
				return
			}
		}
	}()
	b.SetBytes(int64(size))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := pull.Recv(0); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkPipelineInproc tests PUSH/PULL throughput within the process.
func BenchmarkPipelineInproc(b *testing.B) { benchPipeline(b, "inproc://bench", 256) }

// BenchmarkPipelineTCP tests PUSH/PULL throughput over loopback TCP.
func BenchmarkPipelineTCP(b *testing.B) { benchPipeline(b, "tcp://127.0.0.1:0", 256) }

// BenchmarkRequestReplyTCP tests round-trip latency over loopback TCP.
func BenchmarkRequestReplyTCP(b *testing.B) {
	ctx := newContext(b)
	rep, req := socketPair(b, ctx, "tcp://127.0.0.1:0", api.REP, api.REQ)

	go func() {
		for {
			parts, err := rep.Recv(0)
			if err != nil {
				return
			}
			if err := rep.Send(parts, 0); err != nil {
				return
			}
		}
	}()
	payload := [][]byte{make([]byte, 64)}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := req.Send(payload, 0); err != nil {
			b.Fatal(err)
		}
		if _, err := req.Recv(0); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkPubSubFanout tests the publish rate to four subscribers.
// Subscribers that fall behind lose messages, as PUB never blocks.
func BenchmarkPubSubFanout(b *testing.B) {
	const subscribers = 4
	ctx := newContext(b)
	pub, err := ctx.Socket(api.PUB)
	if err != nil {
		b.Fatal(err)
	}
	if err := pub.Bind("inproc://fanout"); err != nil {
		b.Fatal(err)
	}
	subs := make([]*mq.Socket, subscribers)
	for i := range subs {
		s, err := ctx.Socket(api.SUB)
		if err != nil {
			b.Fatal(err)
		}
		if err := s.Subscribe(nil); err != nil {
			b.Fatal(err)
		}
		if err := s.Connect("inproc://fanout"); err != nil {
			b.Fatal(err)
		}
		waitSubscribed(b, pub, s)
		subs[i] = s
	}

	done := make(chan struct{}, subscribers)
	for _, s := range subs {
		go func(s *mq.Socket) {
			defer func() { done <- struct{}{} }()
			for {
				parts, err := s.Recv(0)
				if err != nil || string(parts[0]) == "end" {
					return
				}
			}
		}(s)
	}
	msg := [][]byte{[]byte("tick"), make([]byte, 64)}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := pub.Send(msg, 0); err != nil {
			b.Fatal(err)
		}
	}
	b.StopTimer()
	for finished := 0; finished < subscribers; {
		_ = pub.Send([][]byte{[]byte("end")}, api.DontWait)
		select {
		case <-done:
			finished++
		case <-time.After(time.Millisecond):
		}
	}
}

// waitSubscribed publishes probes until sub receives one, so the
// subscription has reached pub.
func waitSubscribed(b *testing.B, pub, sub *mq.Socket) {
	b.Helper()
	if err := sub.SetDuration(api.OptRcvTimeout, 10*time.Millisecond); err != nil {
		b.Fatal(err)
	}
	for {
		if err := pub.Send([][]byte{[]byte("probe")}, 0); err != nil {
			b.Fatal(err)
		}
		if _, err := sub.Recv(0); err == nil {
			break
		}
	}
	if err := sub.SetDuration(api.OptRcvTimeout, api.Infinite); err != nil {
		b.Fatal(err)
	}
}
