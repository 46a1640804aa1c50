package chain

import "testing"

func TestMatchQueueEnqueueDedup(t *testing.T) {
	q := newMatchQueue()
	h := chainhashOf(1)
	q.enqueue(h, 10)
	q.enqueue(h, 10)
	if q.len() != 1 {
		t.Fatalf("expected dedup on re-enqueue, len = %d", q.len())
	}
}

func TestMatchQueueHeadIsFIFO(t *testing.T) {
	q := newMatchQueue()
	a, b := chainhashOf(1), chainhashOf(2)
	q.enqueue(a, 10)
	q.enqueue(b, 11)

	head, ok := q.head()
	if !ok || head != a {
		t.Fatalf("expected head = a, got %v ok=%v", head, ok)
	}
	q.dequeue(a)
	head, ok = q.head()
	if !ok || head != b {
		t.Fatalf("expected head = b after dequeue, got %v ok=%v", head, ok)
	}
	if q.len() != 1 {
		t.Fatalf("expected len 1 after dequeue, got %d", q.len())
	}
}

func TestMatchQueueTruncateAbove(t *testing.T) {
	q := newMatchQueue()
	a, b, c := chainhashOf(1), chainhashOf(2), chainhashOf(3)
	q.enqueue(a, 10)
	q.enqueue(b, 20)
	q.enqueue(c, 30)

	q.truncateAbove(20)
	if q.len() != 2 {
		t.Fatalf("expected 2 entries after truncation, got %d", q.len())
	}
	if _, ok := q.height[c]; ok {
		t.Fatalf("height 30 entry should have been dropped")
	}
}

func TestMatchQueueDequeueUnknownIsNoop(t *testing.T) {
	q := newMatchQueue()
	q.dequeue(chainhashOf(1))
	if q.len() != 0 {
		t.Fatalf("expected no-op dequeue of unknown hash")
	}
}
