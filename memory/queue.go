package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Prateek-Gupta001/GuideMemory/types"
	"github.com/nats-io/nats.go"
)

// Queue hands memory jobs to background workers. Submit never waits for
// the job to run.
type Queue interface {
	Submit(job types.MemoryJob) error
	Stop()
}

// Persister runs one memory job.
type Persister interface {
	Persist(ctx context.Context, job *types.MemoryJob) error
}

const (
	memorySubject = "memory_work"
	memoryStream  = "MEMORY"
	workerGroup   = "workers"
	jobTimeout    = 60 * time.Second
)

var ErrQueueFull = errors.New("memory queue is full")

// NatsQueue publishes jobs to a JetStream work queue consumed by a group of
// queue subscribers.
type NatsQueue struct {
	JSClient nats.JetStreamContext
	agent    Persister
	subs     []*nats.Subscription
}

func NewNatsQueue(nc *nats.Conn, agent Persister, numWorker int) (*NatsQueue, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	if _, err := js.StreamInfo(memoryStream); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      memoryStream,
			Subjects:  []string{memorySubject},
			Retention: nats.WorkQueuePolicy,
		})
		if err != nil {
			return nil, fmt.Errorf("creating stream %s: %w", memoryStream, err)
		}
	}
	q := &NatsQueue{JSClient: js, agent: agent}
	for i := 0; i < numWorker; i++ {
		sub, err := q.MemoryWorker(i)
		if err != nil {
			q.Stop()
			return nil, err
		}
		q.subs = append(q.subs, sub)
	}
	return q, nil
}

func (q *NatsQueue) MemoryWorker(id int) (*nats.Subscription, error) {
	slog.Info("Memory worker is up and running!", "id", id)
	return q.JSClient.QueueSubscribe(memorySubject, workerGroup, func(msg *nats.Msg) {
		job := &types.MemoryJob{}
		if err := json.Unmarshal(msg.Data, job); err != nil {
			slog.Error("error while unmarshalling NATS-jetstream data", "error", err)
			msg.Term()
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		if err := q.agent.Persist(ctx, job); err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				slog.Error("Memory job rejected", "error", err, "reqId", job.ReqId)
				msg.Term()
				return
			}
			slog.Error("Memory worker encountered an error while working", "error", err, "reqId", job.ReqId, "userId", job.UserId)
			msg.Nak()
			return
		}
		msg.Ack()
	}, nats.ManualAck(), nats.AckWait(jobTimeout+10*time.Second))
}

func (q *NatsQueue) Submit(job types.MemoryJob) error {
	memJson, err := json.Marshal(job)
	if err != nil {
		slog.Error("Got this error while marshalling the MemoryJob", "error", err)
		return err
	}
	if _, err = q.JSClient.Publish(memorySubject, memJson); err != nil {
		return err
	}
	slog.Info("Memory job inserted into NATS-Jetstream", "reqId", job.ReqId)
	return nil
}

func (q *NatsQueue) Stop() {
	for _, sub := range q.subs {
		if err := sub.Drain(); err != nil {
			slog.Error("Got this error while draining a memory worker", "error", err)
		}
	}
	q.subs = nil
}

// LocalQueue is an in-process bounded queue drained by a fixed worker pool.
type LocalQueue struct {
	jobs  chan types.MemoryJob
	agent Persister
	wg    sync.WaitGroup
	once  sync.Once
	mu    sync.RWMutex
	done  bool
}

func NewLocalQueue(agent Persister, queueLen, numWorker int) *LocalQueue {
	if numWorker < 1 {
		numWorker = 1
	}
	q := &LocalQueue{jobs: make(chan types.MemoryJob, queueLen), agent: agent}
	for i := 0; i < numWorker; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	return q
}

func (q *LocalQueue) Submit(job types.MemoryJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.done {
		return errors.New("memory queue stopped")
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *LocalQueue) worker(id int) {
	defer q.wg.Done()
	slog.Info("Memory worker is up and running!", "id", id)
	for job := range q.jobs {
		q.run(job)
	}
}

func (q *LocalQueue) run(job types.MemoryJob) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Memory job panicked", "panic", r, "reqId", job.ReqId)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if err := q.agent.Persist(ctx, &job); err != nil {
		slog.Error("Memory worker encountered an error while working", "error", err, "reqId", job.ReqId)
	}
}

// Stop rejects new jobs and waits for queued ones to finish.
func (q *LocalQueue) Stop() {
	q.once.Do(func() {
		q.mu.Lock()
		q.done = true
		close(q.jobs)
		q.mu.Unlock()
		q.wg.Wait()
	})
}
