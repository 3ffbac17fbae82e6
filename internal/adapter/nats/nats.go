// Package nats implements the priority job queue port using NATS JetStream.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/skalegrid/agentq/internal/port/messagequeue"
)

const streamName = "AGENTQ"

// ackWaitFloor guards very short plan estimates; redelivery must not race a
// worker that is still executing.
const ackWaitFloor = 5 * time.Minute

// Queue implements messagequeue.Queue using NATS JetStream. Each lane maps to
// its own subject; work-queue retention gives pop-once claim semantics.
type Queue struct {
	nc  *nats.Conn
	js  jetstream.JetStream
	log *slog.Logger
}

// Connect establishes a connection to NATS and ensures the execution stream
// exists with work-queue retention.
func Connect(ctx context.Context, url string, log *slog.Logger) (*Queue, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{"tasks.execute.>"},
		Retention: jetstream.WorkQueuePolicy,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	log.Info("nats connected", "url", url, "stream", streamName)
	return &Queue{nc: nc, js: js, log: log}, nil
}

// Enqueue publishes a job to the lane's subject and returns the job handle.
// The handle is minted here so the caller can persist it before any worker
// picks the job up.
func (q *Queue) Enqueue(ctx context.Context, lane messagequeue.Lane, job messagequeue.Job) (string, error) {
	if !lane.Valid() {
		return "", fmt.Errorf("enqueue: unknown lane %q", lane)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}

	// Job IDs double as dedup keys: a retried publish of the same job is
	// dropped by the stream instead of creating a second delivery.
	_, err = q.js.Publish(ctx, lane.Subject(), data, jetstream.WithMsgID(job.ID))
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", lane.Subject(), err)
	}

	return job.ID, nil
}

// Consume registers a handler for the lane's jobs on a durable consumer.
// Handler errors trigger a Nak with delay so the job is redelivered.
func (q *Queue) Consume(ctx context.Context, lane messagequeue.Lane, handler messagequeue.Handler) (func(), error) {
	if !lane.Valid() {
		return nil, fmt.Errorf("consume: unknown lane %q", lane)
	}

	consumer, err := q.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:       "exec-" + string(lane),
		FilterSubject: lane.Subject(),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWaitFloor,
		MaxDeliver:    5,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create %s: %w", lane, err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		var job messagequeue.Job
		if err := json.Unmarshal(msg.Data(), &job); err != nil {
			q.log.Error("malformed job payload, dropping", "lane", lane, "error", err)
			// Redelivery cannot fix a decode failure.
			if termErr := msg.Term(); termErr != nil {
				q.log.Error("nats term failed", "error", termErr)
			}
			return
		}

		// Extend the ack deadline to the job's own budget for long plans.
		if job.Timeout() > ackWaitFloor {
			if err := msg.InProgress(); err != nil {
				q.log.Warn("nats in-progress signal failed", "job_id", job.ID, "error", err)
			}
		}

		if err := handler(ctx, job); err != nil {
			q.log.Error("job handler failed", "lane", lane, "job_id", job.ID, "error", err)
			if nakErr := msg.NakWithDelay(30 * time.Second); nakErr != nil {
				q.log.Error("nats nak failed", "error", nakErr)
			}
			return
		}
		if ackErr := msg.Ack(); ackErr != nil {
			q.log.Error("nats ack failed", "job_id", job.ID, "error", ackErr)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume %s: %w", lane, err)
	}

	return cons.Stop, nil
}

// Drain processes pending deliveries and stops accepting new ones.
func (q *Queue) Drain() error {
	return q.nc.Drain()
}

// Close shuts down the NATS connection immediately.
func (q *Queue) Close() error {
	q.nc.Close()
	return nil
}

// IsConnected reports whether the NATS connection is currently up.
func (q *Queue) IsConnected() bool {
	return q.nc.IsConnected()
}
