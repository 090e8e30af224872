package transport

import (
	"reflect"
	"testing"
)

func frames(values ...string) [][]byte {
	out := make([][]byte, 0, len(values))
	for _, v := range values {
		out = append(out, []byte(v))
	}
	return out
}

func TestSendQueue_FIFO(t *testing.T) {
	q := newSendQueue(4)

	for _, f := range frames("a", "b", "c") {
		if dropped := q.push(f); dropped {
			t.Fatalf("unexpected drop while under capacity")
		}
	}

	got := q.drain()
	if !reflect.DeepEqual(got, frames("a", "b", "c")) {
		t.Fatalf("drain order = %q, want a,b,c", got)
	}
	if q.len() != 0 {
		t.Fatalf("queue not empty after drain: len=%d", q.len())
	}
}

func TestSendQueue_OverflowDropsOldest(t *testing.T) {
	q := newSendQueue(3)

	q.push([]byte("a"))
	q.push([]byte("b"))
	q.push([]byte("c"))

	if dropped := q.push([]byte("d")); !dropped {
		t.Fatalf("expected overflow push to report a drop")
	}

	got := q.drain()
	if !reflect.DeepEqual(got, frames("b", "c", "d")) {
		t.Fatalf("after overflow drain = %q, want b,c,d", got)
	}
}

func TestSendQueue_ReusableAfterDrain(t *testing.T) {
	q := newSendQueue(2)

	q.push([]byte("a"))
	q.drain()

	q.push([]byte("b"))
	q.push([]byte("c"))
	q.push([]byte("d")) // evicts b

	got := q.drain()
	if !reflect.DeepEqual(got, frames("c", "d")) {
		t.Fatalf("drain = %q, want c,d", got)
	}
}
