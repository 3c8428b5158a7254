package mqtt

import "log"

// bufferedMsg holds one serialized message queued while the broker is
// unreachable.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer keeps the most recent messages up to a fixed capacity, dropping
// the oldest on overflow. Callers synchronize access; the publisher holds its
// own mutex around every call.
type ringBuffer struct {
	slots []bufferedMsg
	tail  int // index of the oldest message
	count int
	dropn int // messages dropped since the last drain
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{slots: make([]bufferedMsg, capacity)}
}

func (r *ringBuffer) push(msg bufferedMsg) {
	capacity := len(r.slots)
	if r.count == capacity {
		// Full: the slot at tail holds the oldest message, consume it.
		r.slots[r.tail] = msg
		r.tail = (r.tail + 1) % capacity
		if r.dropn == 0 {
			log.Printf("mqtt: offline buffer full (%d messages), dropping oldest", capacity)
		}
		r.dropn++
		return
	}
	r.slots[(r.tail+r.count)%capacity] = msg
	r.count++
}

// drainAll removes and returns every buffered message, oldest first, or nil
// when the buffer is empty.
func (r *ringBuffer) drainAll() []bufferedMsg {
	if r.count == 0 {
		return nil
	}
	out := make([]bufferedMsg, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.slots[(r.tail+i)%len(r.slots)])
	}
	r.tail = 0
	r.count = 0
	r.dropn = 0
	return out
}

func (r *ringBuffer) len() int { return r.count }
