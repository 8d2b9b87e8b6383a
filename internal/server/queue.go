package server

import "github.com/eapache/queue"

// writeJob is one response slot. Slots are reserved in request order when
// a request is dispatched and become ready when the handler enqueues its
// response.
type writeJob struct {
	resp  *Response
	ready bool
}

// writeQueue is the per-connection FIFO of pending responses. At most one
// job is written at a time, and only the front job, so responses leave in
// the order their requests arrived. Its fullness gates pipelined reads.
//
// All methods must be called from the owning connection's event loop.
type writeQueue struct {
	jobs    *queue.Queue
	limit   int
	writing bool
	stopped bool
	start   func(*writeJob)
}

func newWriteQueue(limit int, start func(*writeJob)) *writeQueue {
	return &writeQueue{
		jobs:  queue.New(),
		limit: limit,
		start: start,
	}
}

// enqueue appends j and starts writing it if the queue was idle.
func (q *writeQueue) enqueue(j *writeJob) {
	q.jobs.Add(j)
	q.startFront()
}

// fill marks j ready with its response.
func (q *writeQueue) fill(j *writeJob, resp *Response) {
	j.resp = resp
	j.ready = true
	q.startFront()
}

func (q *writeQueue) isFull() bool {
	return q.jobs.Length() >= q.limit
}

func (q *writeQueue) len() int {
	return q.jobs.Length()
}

func (q *writeQueue) busy() bool {
	return q.writing
}

// onWriteCompleted pops the job that was being written and starts the next
// one. It reports whether the queue was full before the pop, which tells
// the caller that a withheld read may resume.
func (q *writeQueue) onWriteCompleted() bool {
	full := q.isFull()
	if q.jobs.Length() > 0 {
		q.jobs.Remove()
	}
	q.writing = false
	q.startFront()
	return full
}

// stop drops every queued job. A job already being written is left to its
// writer.
func (q *writeQueue) stop() {
	q.stopped = true
	skip := q.writing
	for q.jobs.Length() > 0 {
		j := q.jobs.Remove().(*writeJob)
		if skip {
			skip = false
			continue
		}
		if j.resp != nil {
			j.resp.discard()
		}
	}
	q.writing = false
}

func (q *writeQueue) startFront() {
	if q.stopped || q.writing || q.jobs.Length() == 0 {
		return
	}
	j := q.jobs.Peek().(*writeJob)
	if !j.ready {
		return
	}
	q.writing = true
	q.start(j)
}
