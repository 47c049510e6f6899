package simulator

import (
	"fmt"
	"testing"
	"time"
)

func ExampleEventLoop() {
	loop := NewEventLoop()
	stream := loop.Stream()
	loop.Go(func(h *Handle) {
		msg := h.Poll(stream).Message
		fmt.Println(msg, h.Time())
	})
	loop.Go(func(h *Handle) {
		h.Schedule(stream, "Hello, world!", 15.5)
	})
	loop.Run()
	// Output: Hello, world! 15.5
}

func TestEventLoopTimer(t *testing.T) {
	loop := NewEventLoop()
	stream := loop.Stream()
	value := make(chan interface{}, 1)
	loop.Go(func(h *Handle) {
		value <- h.Poll(stream).Message
	})
	loop.Go(func(h *Handle) {
		h.Schedule(stream, 1337, 15.5)
	})
	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}
	if loop.Time() != 15.5 {
		t.Errorf("time should be 15.5 but is %f", loop.Time())
	}
	select {
	case val := <-value:
		if val != 1337 {
			t.Errorf("value should be 1337 but is %v", val)
		}
	default:
		t.Error("timer never fired")
	}
}

// TestEventLoopBuffering tests that events are queued when nobody is
// polling on their stream.
func TestEventLoopBuffering(t *testing.T) {
	loop := NewEventLoop()

	readFirst := loop.Stream()
	readSecond := loop.Stream()

	value := make(chan interface{}, 1)

	loop.Go(func(h *Handle) {
		h.Poll(readFirst)
		value <- h.Poll(readSecond).Message
	})

	loop.Go(func(h *Handle) {
		h.Schedule(readSecond, 1337, 3.0)
		h.Sleep(2)
		h.Schedule(readFirst, 123, 7.0)
	})

	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}

	if loop.Time() != 9.0 {
		t.Errorf("time should be 9.0 but got %f", loop.Time())
	}

	if val := <-value; val != 1337 {
		t.Errorf("expected 1337 but got %v", val)
	}
}

// TestEventLoopDeadlocks makes sure deadlocks are detected rather than
// hanging the test binary.
func TestEventLoopDeadlocks(t *testing.T) {
	loop := NewEventLoop()

	stream1 := loop.Stream()
	stream2 := loop.Stream()

	loop.Go(func(h *Handle) {
		h.Poll(stream1)
		h.Schedule(stream2, 1337, 0.0)
	})

	loop.Go(func(h *Handle) {
		time.Sleep(time.Second / 4)
		h.Poll(stream2)
		h.Schedule(stream1, 1337, 0.0)
	})

	if loop.Run() == nil {
		t.Error("did not detect deadlock")
	}
}
