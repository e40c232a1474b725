// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package replication queues the intent to replicate archive mutations to peers. It does not
// transport anything itself.
package replication

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

var (
	// Error is the default replication error class.
	Error = errs.Class("replication")
	// ErrEmpty is returned when dequeueing from an empty queue.
	ErrEmpty = errs.Class("replication queue empty")

	mon = monkit.Package()
)

// Config defines the redis list jobs are queued in.
type Config struct {
	Address  string `help:"redis address of the replication queue, empty disables queueing" default:""`
	Password string `help:"redis password" default:""`
	DB       int    `help:"redis database" default:"0"`
	Key      string `help:"redis list jobs are pushed to" default:"casper:replication"`
}

// Job asks for the result of a ledger row to be replicated.
type Job struct {
	LedgerID    int64     `json:"ledger_id"`
	Correlation string    `json:"correlation"`
	Operation   string    `json:"operation"`
	URI         string    `json:"uri"`
	Slaves      []string  `json:"slaves"`
	Deadline    time.Time `json:"deadline"`
}

// Queue is a FIFO of jobs stored in a redis list.
type Queue struct {
	log    *zap.Logger
	client *redis.Client
	key    string
}

// Open connects to redis, verifying the connection.
func Open(log *zap.Logger, config Config) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := client.Ping().Err(); err != nil {
		return nil, errs.Combine(Error.New("ping failed: %v", err), Error.Wrap(client.Close()))
	}
	key := config.Key
	if key == "" {
		key = "casper:replication"
	}
	return &Queue{log: log, client: client, key: key}, nil
}

// Close closes the connection to redis.
func (queue *Queue) Close() error {
	return Error.Wrap(queue.client.Close())
}

// Enqueue adds a job at the end of the queue.
func (queue *Queue) Enqueue(ctx context.Context, job Job) (err error) {
	defer mon.Task()(&ctx)(&err)

	data, err := json.Marshal(job)
	if err != nil {
		return Error.Wrap(err)
	}
	if err := queue.client.WithContext(ctx).LPush(queue.key, data).Err(); err != nil {
		return Error.New("enqueue error: %v", err)
	}
	queue.log.Debug("queued", zap.Int64("ledger id", job.LedgerID), zap.String("uri", job.URI))
	return nil
}

// Dequeue removes the job at the front of the queue.
func (queue *Queue) Dequeue(ctx context.Context) (_ Job, err error) {
	defer mon.Task()(&ctx)(&err)

	data, err := queue.client.WithContext(ctx).RPop(queue.key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return Job{}, ErrEmpty.New("")
		}
		return Job{}, Error.New("dequeue error: %v", err)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return Job{}, Error.Wrap(err)
	}
	return job, nil
}

// Len returns the number of queued jobs.
func (queue *Queue) Len(ctx context.Context) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	n, err := queue.client.WithContext(ctx).LLen(queue.key).Result()
	return n, Error.Wrap(err)
}

// Peek returns up to limit jobs from the front of the queue without removing them.
func (queue *Queue) Peek(ctx context.Context, limit int) (_ []Job, err error) {
	defer mon.Task()(&ctx)(&err)

	if limit <= 0 {
		return nil, nil
	}
	items, err := queue.client.WithContext(ctx).LRange(queue.key, -int64(limit), -1).Result()
	if err != nil {
		return nil, Error.Wrap(err)
	}
	jobs := make([]Job, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		var job Job
		if err := json.Unmarshal([]byte(items[i]), &job); err != nil {
			return nil, Error.Wrap(err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
