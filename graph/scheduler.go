package graph

import "container/heap"

// messageHeap orders queued messages by seq. Seq is allocated
// monotonically, so popping the minimum gives FIFO order.
type messageHeap []WorkflowMessage

func (h messageHeap) Len() int           { return len(h) }
func (h messageHeap) Less(i, j int) bool { return h[i].Seq < h[j].Seq }
func (h messageHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *messageHeap) Push(x interface{}) {
	*h = append(*h, x.(WorkflowMessage))
}

func (h *messageHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// messageQueue is the run loop's message queue. It also owns seq
// allocation. It is confined to the run goroutine.
type messageQueue struct {
	heap    messageHeap
	lastSeq int
}

// nextSeq allocates the next seq of the run, starting at 1.
func (q *messageQueue) nextSeq() int {
	q.lastSeq++
	return q.lastSeq
}

func (q *messageQueue) push(m WorkflowMessage) {
	heap.Push(&q.heap, m)
}

func (q *messageQueue) pop() (WorkflowMessage, bool) {
	if len(q.heap) == 0 {
		return WorkflowMessage{}, false
	}
	return heap.Pop(&q.heap).(WorkflowMessage), true
}

func (q *messageQueue) len() int {
	return len(q.heap)
}

// joinBuffer holds messages for nodes that declare waitFor.
//
// Buffers are keyed by node id only and cleared when released, so a node
// reached again later in the run starts a fresh round.
type joinBuffer struct {
	pending map[string][]WorkflowMessage
}

func newJoinBuffer() *joinBuffer {
	return &joinBuffer{pending: make(map[string][]WorkflowMessage)}
}

// add buffers m for nodeID and reports whether every sender in waitFor has
// now delivered. When it has, the buffered messages are returned in
// receipt order and the buffer is cleared.
func (j *joinBuffer) add(nodeID string, waitFor []string, m WorkflowMessage) ([]WorkflowMessage, bool) {
	buffered := append(j.pending[nodeID], m)
	j.pending[nodeID] = buffered

	received := make(map[string]bool, len(buffered))
	for _, b := range buffered {
		received[b.FromNodeID] = true
	}
	for _, required := range waitFor {
		if !received[required] {
			return nil, false
		}
	}

	delete(j.pending, nodeID)
	return buffered, true
}

// waiting returns the number of buffered messages for nodeID.
func (j *joinBuffer) waiting(nodeID string) int {
	return len(j.pending[nodeID])
}

func aggregate(buffered []WorkflowMessage) AggregatedPayload {
	agg := AggregatedPayload{Messages: make([]AggregatedItem, 0, len(buffered))}
	for _, b := range buffered {
		agg.Messages = append(agg.Messages, AggregatedItem{FromNodeID: b.FromNodeID, Payload: b.Payload})
	}
	return agg
}
