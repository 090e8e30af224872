package transport

// sendQueue is a bounded FIFO ring for outbound frames buffered while
// disconnected. Overflow evicts the oldest entry so memory stays bounded
// and the newest frames survive.
type sendQueue struct {
	buf  [][]byte
	head int
	size int
}

func newSendQueue(capacity int) *sendQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &sendQueue{buf: make([][]byte, capacity)}
}

// push appends a frame, evicting the oldest when full. Reports whether an
// eviction happened.
func (q *sendQueue) push(frame []byte) bool {
	capacity := len(q.buf)
	if q.size == capacity {
		q.buf[q.head] = frame
		q.head = (q.head + 1) % capacity
		return true
	}
	q.buf[(q.head+q.size)%capacity] = frame
	q.size++
	return false
}

// drain returns every queued frame in FIFO order and empties the queue.
func (q *sendQueue) drain() [][]byte {
	out := make([][]byte, 0, q.size)
	for i := 0; i < q.size; i++ {
		idx := (q.head + i) % len(q.buf)
		out = append(out, q.buf[idx])
		q.buf[idx] = nil
	}
	q.head = 0
	q.size = 0
	return out
}

func (q *sendQueue) len() int { return q.size }
