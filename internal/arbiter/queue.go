package arbiter

import "container/heap"

// requestQueue orders pending requests by priority (higher first), breaking
// ties by arrival time so equal-priority requests stay FIFO.
type requestQueue []*request

func (q requestQueue) Len() int { return len(q) }

func (q requestQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].createdAt.Before(q[j].createdAt)
}

func (q requestQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *requestQueue) Push(x any) {
	req := x.(*request)
	req.index = len(*q)
	*q = append(*q, req)
}

func (q *requestQueue) Pop() any {
	old := *q
	n := len(old)
	req := old[n-1]
	old[n-1] = nil
	req.index = -1
	*q = old[:n-1]
	return req
}

// remove takes req out of the queue if it is still there.
func (q *requestQueue) remove(req *request) bool {
	if req.index < 0 || req.index >= len(*q) || (*q)[req.index] != req {
		return false
	}
	heap.Remove(q, req.index)
	return true
}
