package memory

import (
	"strconv"

	"github.com/ThreeDotsLabs/watermill/message"
)

// resequencer releases the messages of one key in the order they were published.
type resequencer struct {
	next    map[string]uint64 // key -> sequence to release next
	waiting map[string]map[uint64]*message.Message
}

// newResequencer starts every key right after the last sequence in published.
func newResequencer(published map[string]uint64) *resequencer {
	r := &resequencer{
		next:    make(map[string]uint64, len(published)),
		waiting: map[string]map[uint64]*message.Message{},
	}
	for k, seq := range published {
		r.next[k] = seq + 1
	}
	return r
}

// push returns the messages that are now due, oldest first. An early message is held and nil is
// returned.
func (r *resequencer) push(wm *message.Message) []*message.Message {
	seq, err := strconv.ParseUint(wm.Metadata.Get(metaSeq), 10, 64)
	if err != nil {
		return []*message.Message{wm}
	}
	key := wm.Metadata.Get(metaKey)
	next, ok := r.next[key]
	if !ok {
		next = 1
	}
	switch {
	case seq < next:
		return []*message.Message{wm}
	case seq > next:
		held := r.waiting[key]
		if held == nil {
			held = map[uint64]*message.Message{}
			r.waiting[key] = held
		}
		held[seq] = wm
		return nil
	}

	ready := []*message.Message{wm}
	next++
	held := r.waiting[key]
	for {
		m, ok := held[next]
		if !ok {
			break
		}
		delete(held, next)
		ready = append(ready, m)
		next++
	}
	if len(held) == 0 {
		delete(r.waiting, key)
	}
	r.next[key] = next
	return ready
}
