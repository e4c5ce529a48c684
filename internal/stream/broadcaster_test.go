package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/satindergrewal/bigeyemix/internal/audio"
)

func tone(seconds float64, v int16) audio.Buffer {
	b := audio.Silence(seconds)
	for i := range b {
		b[i] = v
	}
	return b
}

// startPreview runs a player over the given rendered mixes and fans its
// frames out through a broadcaster, the way the server wires them.
func startPreview(t *testing.T, mixes map[string]audio.Buffer) (*audio.Player, *Broadcaster) {
	t.Helper()
	decode := func(_ context.Context, path string) (audio.Buffer, error) {
		b, ok := mixes[path]
		if !ok {
			return nil, errors.New("no such mix")
		}
		return b, nil
	}
	player := audio.NewPlayer(nil, audio.WithDecoder(decode))
	b := NewBroadcaster()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go player.Run(ctx)
	go b.Run(ctx, player.Frames())
	return player, b
}

func nextFrame(t *testing.T, l *Listener) []int16 {
	t.Helper()
	select {
	case f := <-l.C:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a preview frame")
		return nil
	}
}

func TestPreviewMixReachesListener(t *testing.T) {
	player, b := startPreview(t, map[string]audio.Buffer{
		"/outputs/mix-1.mp3": tone(0.2, 1000),
	})
	l := b.Subscribe()
	defer b.Unsubscribe(l)

	if !player.Enqueue(audio.Item{ID: "mix-1", Name: "mix-1.mp3", Path: "/outputs/mix-1.mp3"}) {
		t.Fatal("Enqueue rejected the mix")
	}

	// 0.2s at 20ms per frame
	for i := 0; i < 10; i++ {
		f := nextFrame(t, l)
		if len(f) != audio.FrameSamples {
			t.Fatalf("frame %d has %d samples, want %d", i, len(f), audio.FrameSamples)
		}
		if f[0] != 1000 || f[len(f)-1] != 1000 {
			t.Fatalf("frame %d = [%d ... %d], want the mix's samples", i, f[0], f[len(f)-1])
		}
	}

	select {
	case f := <-l.C:
		t.Errorf("got an extra frame after the mix ended (first sample %d)", f[0])
	case <-time.After(100 * time.Millisecond):
	}

	deadline := time.Now().Add(time.Second)
	for b.Frames() < 10 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if b.Frames() != 10 {
		t.Errorf("Frames = %d, want 10", b.Frames())
	}
	if l.Dropped() != 0 {
		t.Errorf("Dropped = %d, want 0", l.Dropped())
	}
}

func TestPreviewMixesPlayInQueueOrder(t *testing.T) {
	player, b := startPreview(t, map[string]audio.Buffer{
		"a": tone(0.1, 100),
		"b": tone(0.1, 200),
	})
	l := b.Subscribe()
	defer b.Unsubscribe(l)

	player.Enqueue(audio.Item{ID: "a", Path: "a"})
	player.Enqueue(audio.Item{ID: "b", Path: "b"})

	var got []int16
	for i := 0; i < 10; i++ {
		got = append(got, nextFrame(t, l)[0])
	}
	for i, v := range got {
		want := int16(100)
		if i >= 5 {
			want = 200
		}
		if v != want {
			t.Fatalf("frame %d = %d, want %d (sequence %v)", i, v, want, got)
		}
	}
}

func TestPreviewSkipAdvancesToNextMix(t *testing.T) {
	player, b := startPreview(t, map[string]audio.Buffer{
		"long":  tone(2, 1000),
		"short": tone(0.1, -1000),
	})
	l := b.Subscribe()
	defer b.Unsubscribe(l)

	player.Enqueue(audio.Item{ID: "long", Path: "long"})
	player.Enqueue(audio.Item{ID: "short", Path: "short"})

	if f := nextFrame(t, l); f[0] != 1000 {
		t.Fatalf("first frame = %d, want the long mix", f[0])
	}
	player.Skip()

	longFrames, shortFrames := 1, 0
	for shortFrames < 5 {
		switch v := nextFrame(t, l)[0]; v {
		case 1000:
			if shortFrames > 0 {
				t.Fatal("long mix resumed after the next mix started")
			}
			longFrames++
		case -1000:
			shortFrames++
		default:
			t.Fatalf("unexpected sample %d", v)
		}
	}
	if longFrames >= 100 {
		t.Errorf("long mix played all %d frames, want it cut short by Skip", longFrames)
	}
}

func TestPreviewUndecodableMixIsSkipped(t *testing.T) {
	player, b := startPreview(t, map[string]audio.Buffer{
		"good": tone(0.04, 7),
	})
	l := b.Subscribe()
	defer b.Unsubscribe(l)

	player.Enqueue(audio.Item{ID: "gone", Path: "gone"})
	player.Enqueue(audio.Item{ID: "good", Path: "good"})

	for i := 0; i < 2; i++ {
		if f := nextFrame(t, l); f[0] != 7 {
			t.Fatalf("frame %d = %d, want the decodable mix", i, f[0])
		}
	}
}

func TestPreviewReachesEveryListener(t *testing.T) {
	player, b := startPreview(t, map[string]audio.Buffer{
		"mix": tone(0.02, 42),
	})
	listeners := make([]*Listener, 4)
	for i := range listeners {
		listeners[i] = b.Subscribe()
	}
	if b.ListenerCount() != 4 {
		t.Fatalf("ListenerCount = %d, want 4", b.ListenerCount())
	}

	player.Enqueue(audio.Item{ID: "mix", Path: "mix"})
	for i, l := range listeners {
		if f := nextFrame(t, l); f[0] != 42 {
			t.Errorf("listener %d got %d, want 42", i, f[0])
		}
		b.Unsubscribe(l)
	}
	if b.ListenerCount() != 0 {
		t.Errorf("ListenerCount = %d after unsubscribing all, want 0", b.ListenerCount())
	}
}

func TestLaggingListenerDropsInsteadOfBlocking(t *testing.T) {
	b := NewBroadcaster()
	lagging := b.Subscribe()
	reading := b.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	source := make(chan []int16)
	go b.Run(ctx, source)

	// the reading listener keeps up; the lagging one never reads
	received := make(chan int)
	go func() {
		n := 0
		for n < 200 {
			<-reading.C
			n++
		}
		received <- n
	}()

	for i := 0; i < 200; i++ {
		select {
		case source <- []int16{int16(i)}:
		case <-time.After(2 * time.Second):
			t.Fatalf("broadcast blocked at frame %d", i)
		}
	}
	select {
	case n := <-received:
		if n != 200 {
			t.Errorf("reading listener got %d frames, want 200", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reading listener did not receive every frame")
	}
	deadline := time.Now().Add(time.Second)
	for b.Frames() < 200 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	buffered := len(lagging.C)
	if buffered != cap(lagging.C) {
		t.Errorf("lagging listener buffered %d frames, want %d", buffered, cap(lagging.C))
	}
	if got, want := lagging.Dropped(), uint64(200-buffered); got != want {
		t.Errorf("lagging Dropped = %d, want %d", got, want)
	}
	if reading.Dropped() != 0 {
		t.Errorf("reading Dropped = %d, want 0", reading.Dropped())
	}
}

func TestBroadcastStops(t *testing.T) {
	t.Run("context cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			NewBroadcaster().Run(ctx, make(chan []int16))
			close(done)
		}()
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return after cancel")
		}
	})

	t.Run("player stopped", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		player := audio.NewPlayer(nil)
		go player.Run(ctx)

		done := make(chan struct{})
		go func() {
			// background context: only the closed frame channel ends Run
			NewBroadcaster().Run(context.Background(), player.Frames())
			close(done)
		}()
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return after the player closed its frames")
		}
	})
}

func TestUnsubscribeClosesDoneOnce(t *testing.T) {
	b := NewBroadcaster()
	l := b.Subscribe()

	b.Unsubscribe(l)
	select {
	case <-l.Done():
	default:
		t.Error("Done not closed after Unsubscribe")
	}

	// HTTP and WebRTC teardown may both unsubscribe the same listener
	b.Unsubscribe(l)
	if b.ListenerCount() != 0 {
		t.Errorf("ListenerCount = %d, want 0", b.ListenerCount())
	}
}
