// pantilt-sim - synthetic perception source for bench testing
// Publishes a target moving on a Lissajous path (with dropouts) to a running
// pantilt, optionally queues tasks or clicks on the target through the
// dashboard API, and prints the packets the loop sends.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/teslashibe/go-pantilt/internal/httpc"
	pantiltlog "github.com/teslashibe/go-pantilt/internal/log"
	"github.com/teslashibe/go-pantilt/pkg/feed"
	"github.com/teslashibe/go-pantilt/pkg/protocol"
	"github.com/teslashibe/go-pantilt/pkg/task"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "pantilt address")
	name := flag.String("name", "sim", "Source name")
	fps := flag.Int("fps", 30, "Frames per second")
	identity := flag.Uint("identity", 0, "Identity to report (0: send an embedding instead)")
	dropout := flag.Float64("dropout", 0.05, "Probability a frame has no target")
	gap := flag.Duration("gap", 0, "Hide the target for this long every 10s (exercises lost/search)")
	kind := flag.String("task", "track", "Task to queue on start: track, search, none")
	click := flag.Bool("click", false, "Select the target through the dashboard API instead of queueing")
	verbose := flag.Bool("v", false, "Print every packet")
	flag.Parse()

	pantiltlog.Init("info")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	url := fmt.Sprintf("ws://%s/ws/perception/%s", *addr, *name)
	client, err := feed.Dial(ctx, url)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	defer client.Close()
	fmt.Printf("📡 Connected to %s\n", url)

	if rtt, err := client.Ping(ctx); err == nil {
		fmt.Printf("    RTT: %v\n", rtt)
	}

	var packets atomic.Int64
	client.OnPacket(func(p protocol.PacketData) {
		packets.Add(1)
		if *verbose {
			fmt.Printf("📦 %s\n", protocol.ControlPacket{Kind: p.Kind, X: p.X, Y: p.Y})
		}
	})

	target := newTarget(*identity)

	// First frame so a click has something to bind to
	x, y := target.position(0)
	_ = target.publish(client, x, y)

	switch {
	case *click:
		var resp struct {
			TaskID string `json:"task_id"`
		}
		err := httpc.PostJSON(ctx, "http://"+*addr+"/api/select", map[string]int{"x": x, "y": y}, &resp)
		if err != nil {
			log.Fatalf("❌ select: %v", err)
		}
		fmt.Printf("👆 Selected (%d,%d): task %s\n", x, y, resp.TaskID)
	case *kind != "none":
		if _, err := task.ParseKind(*kind); err != nil {
			log.Fatalf("❌ %v", err)
		}
		ack, err := client.Submit(ctx, protocol.TaskData{Kind: *kind})
		if err != nil {
			log.Fatalf("❌ submit: %v", err)
		}
		if !ack.OK() {
			log.Fatalf("❌ task rejected: %s", ack.Error)
		}
		fmt.Printf("📋 Queued %s task %s\n", *kind, ack.TaskID)
	}

	interval := time.Second / time.Duration(max(*fps, 1))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	report := time.NewTicker(5 * time.Second)
	defer report.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			fmt.Printf("👋 Sent %d frames, saw %d packets\n", target.frames, packets.Load())
			return
		case <-client.Done():
			log.Fatalf("❌ Connection closed by pantilt")
		case <-report.C:
			fmt.Printf("📊 %d frames, %d packets\n", target.frames, packets.Load())
		case <-ticker.C:
			elapsed := time.Since(start)
			hidden := *gap > 0 && elapsed%(10*time.Second) < *gap
			if hidden || rand.Float64() < *dropout {
				_ = client.Absent()
				continue
			}
			x, y := target.position(elapsed.Seconds())
			if err := target.publish(client, x, y); err != nil {
				log.Fatalf("❌ publish: %v", err)
			}
		}
	}
}

// target is a synthetic person walking a Lissajous path across a 640x480
// frame.
type target struct {
	identity  uint32
	embedding []float64
	frames    int
}

func newTarget(identity uint) *target {
	t := &target{identity: uint32(identity)}
	if t.identity == 0 {
		// Fixed direction with a little noise per frame still matches itself
		t.embedding = make([]float64, 128)
		for i := range t.embedding {
			t.embedding[i] = math.Sin(float64(i))
		}
	}
	return t
}

func (t *target) position(sec float64) (int, int) {
	x := 320 + 220*math.Sin(0.4*sec)
	y := 240 + 120*math.Sin(0.7*sec+1)
	return int(x), int(y)
}

func (t *target) publish(c *feed.Client, x, y int) error {
	t.frames++
	if t.identity != 0 {
		id := t.identity
		return c.Observe(x, y, &id, nil)
	}
	emb := make([]float64, len(t.embedding))
	for i, v := range t.embedding {
		emb[i] = v + 0.05*rand.NormFloat64()
	}
	return c.Observe(x, y, nil, emb)
}
