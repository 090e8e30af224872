package transport

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeScheduler hands scheduled tasks to the test instead of running
// them, so backoff timing is observable without waiting.
type fakeScheduler struct {
	tasks chan fakeTask
}

type fakeTask struct {
	delay time.Duration
	fn    func()
}

type fakeTimer struct{}

func (fakeTimer) Stop() bool { return true }

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{tasks: make(chan fakeTask, 16)}
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.tasks <- fakeTask{delay: d, fn: f}
	return fakeTimer{}
}

// nextTask receives one scheduled task with a timeout so tests never hang.
func nextTask(t *testing.T, s *fakeScheduler, within time.Duration) fakeTask {
	t.Helper()
	select {
	case task := <-s.tasks:
		return task
	case <-time.After(within):
		t.Fatalf("timed out waiting for a scheduled task")
		return fakeTask{} // unreachable
	}
}

func noTask(t *testing.T, s *fakeScheduler, within time.Duration) {
	t.Helper()
	select {
	case task := <-s.tasks:
		t.Fatalf("expected no scheduled task, got one with delay %v", task.delay)
	case <-time.After(within):
	}
}

// fakeConn records writes and serves reads from a channel; Close unblocks
// the reader with an error.
type fakeConn struct {
	mu     sync.Mutex
	writes [][]byte
	inbox  chan []byte
	done   chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbox: make(chan []byte, 16),
		done:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.inbox:
		return 1, data, nil
	case <-c.done:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) writtenTypes(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	var types []string
	for _, data := range c.writes {
		var frame struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			// Close frames are not JSON.
			types = append(types, "<raw>")
			continue
		}
		types = append(types, frame.Type)
	}
	return types
}

func waitForState(t *testing.T, states <-chan ConnState, want ConnState, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case s := <-states:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %v", want)
		}
	}
}

func TestBackoffDelay(t *testing.T) {
	base := time.Second
	max := 30 * time.Second

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second}, // 32s capped
		{10, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := backoffDelay(tt.attempt, base, max); got != tt.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestTransition(t *testing.T) {
	tests := []struct {
		from ConnState
		ev   connEvent
		want ConnState
	}{
		{StateDisconnected, eventDial, StateConnecting},
		{StateConnecting, eventDialSucceeded, StateConnected},
		{StateConnecting, eventDialFailed, StateErrored},
		{StateConnected, eventConnLost, StateErrored},
		{StateConnected, eventClosed, StateDisconnected},
		{StateErrored, eventDial, StateConnecting},
	}

	for _, tt := range tests {
		if got := transition(tt.from, tt.ev); got != tt.want {
			t.Errorf("transition(%v, %d) = %v, want %v", tt.from, tt.ev, got, tt.want)
		}
	}
}

func TestClient_FlushesQueuedFramesBeforeNewSends(t *testing.T) {
	conn := newFakeConn()
	sched := newFakeScheduler()
	states := make(chan ConnState, 8)

	c := NewClient(Options{
		URL:       "ws://test",
		Token:     "tok",
		Scheduler: sched,
		Dial:      func(string) (Conn, error) { return conn, nil },
		OnStateChange: func(s ConnState) {
			states <- s
		},
	})

	// Buffered while disconnected.
	c.Send("first", nil)
	c.Send("second", nil)

	c.Connect()
	waitForState(t, states, StateConnected, time.Second)

	// Issued after the reconnect completed.
	c.Send("third", nil)

	got := conn.writtenTypes(t)
	want := []string{"auth", "first", "second", "third"}
	if len(got) != len(want) {
		t.Fatalf("writes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("writes = %v, want %v", got, want)
		}
	}
}

func TestClient_BackoffScheduleAndGiveUpOnce(t *testing.T) {
	sched := newFakeScheduler()
	var giveUps int
	var mu sync.Mutex

	c := NewClient(Options{
		URL:         "ws://test",
		MaxAttempts: 3,
		BackoffBase: time.Second,
		Scheduler:   sched,
		Dial:        func(string) (Conn, error) { return nil, errors.New("refused") },
		OnGiveUp: func() {
			mu.Lock()
			giveUps++
			mu.Unlock()
		},
	})

	c.Connect()

	wantDelays := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}
	for _, want := range wantDelays {
		task := nextTask(t, sched, time.Second)
		if task.delay != want {
			t.Fatalf("reconnect delay = %v, want %v", task.delay, want)
		}
		task.fn()
	}

	// Budget exhausted: no more reconnects, exactly one give-up.
	noTask(t, sched, 50*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if giveUps != 1 {
		t.Fatalf("give-up callbacks = %d, want 1", giveUps)
	}
	if c.State() != StateErrored {
		t.Fatalf("state after give-up = %v, want errored", c.State())
	}
}

func TestClient_DisconnectSuppressesReconnect(t *testing.T) {
	conn := newFakeConn()
	sched := newFakeScheduler()
	states := make(chan ConnState, 8)

	c := NewClient(Options{
		URL:           "ws://test",
		Scheduler:     sched,
		Dial:          func(string) (Conn, error) { return conn, nil },
		OnStateChange: func(s ConnState) { states <- s },
	})

	c.Connect()
	waitForState(t, states, StateConnected, time.Second)

	// Drain the heartbeat scheduled on connect.
	nextTask(t, sched, time.Second)

	c.Disconnect()
	waitForState(t, states, StateDisconnected, time.Second)

	// Intentional closure must not schedule a retry.
	noTask(t, sched, 50*time.Millisecond)

	types := conn.writtenTypes(t)
	if len(types) == 0 || types[len(types)-1] != "<raw>" {
		t.Fatalf("expected trailing close frame, writes = %v", types)
	}
}

func TestClient_PongTimeoutTearsDownConnection(t *testing.T) {
	conn := newFakeConn()
	sched := newFakeScheduler()
	states := make(chan ConnState, 8)

	c := NewClient(Options{
		URL:               "ws://test",
		HeartbeatInterval: 25 * time.Second,
		PongTimeout:       10 * time.Second,
		Scheduler:         sched,
		Dial:              func(string) (Conn, error) { return conn, nil },
		OnStateChange:     func(s ConnState) { states <- s },
	})

	c.Connect()
	waitForState(t, states, StateConnected, time.Second)

	heartbeat := nextTask(t, sched, time.Second)
	if heartbeat.delay != 25*time.Second {
		t.Fatalf("heartbeat delay = %v, want 25s", heartbeat.delay)
	}
	heartbeat.fn()

	// The ping schedules both the pong watchdog and the next heartbeat.
	var watchdog fakeTask
	for i := 0; i < 2; i++ {
		task := nextTask(t, sched, time.Second)
		if task.delay == 10*time.Second {
			watchdog = task
		}
	}
	if watchdog.fn == nil {
		t.Fatalf("pong watchdog was not scheduled")
	}

	// No pong arrives: the watchdog drops the connection and the client
	// goes through the reconnect path.
	watchdog.fn()
	waitForState(t, states, StateErrored, time.Second)

	reconnect := nextTask(t, sched, time.Second)
	if reconnect.delay != time.Second {
		t.Fatalf("first reconnect delay = %v, want 1s", reconnect.delay)
	}
}
