package main

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/getsentry/vernier/internal/result"
	"github.com/getsentry/vernier/internal/storageutil"
)

// ProfileKafkaMessage announces a profile stored in the profiles bucket.
type ProfileKafkaMessage struct {
	DurationNS  uint64 `json:"duration_ns"`
	Environment string `json:"environment,omitempty"`
	ID          string `json:"profile_id"`
	Mode        string `json:"mode"`
	Received    int64  `json:"received"`
	Release     string `json:"release,omitempty"`
	SampleCount int    `json:"sample_count"`
	StoragePath string `json:"storage_path"`
	ThreadCount int    `json:"thread_count"`
	TotalWeight uint64 `json:"total_weight"`
}

func buildProfileKafkaMessage(r *result.Result, environment, path string) ProfileKafkaMessage {
	m := ProfileKafkaMessage{
		Environment: environment,
		ID:          r.Meta.ProfileID,
		Mode:        r.Meta.Mode,
		Received:    time.Now().Unix(),
		Release:     release,
		StoragePath: path,
		ThreadCount: len(r.Threads),
		TotalWeight: r.TotalWeight(),
	}
	if r.Meta.StoppedAt > r.Meta.StartedAt {
		m.DurationNS = r.Meta.StoppedAt - r.Meta.StartedAt
	}
	for _, th := range r.Threads {
		m.SampleCount += len(th.Samples)
	}
	return m
}

// storeResult writes r to the profiles bucket and announces it. It returns
// the storage path, or an empty path when no bucket is configured.
func (e *environment) storeResult(ctx context.Context, r *result.Result) (string, error) {
	if e.profilesBucket == nil {
		return "", nil
	}
	path := storageutil.ProfilePath(r.Meta.Mode, r.Meta.ProfileID)
	if err := storageutil.CompressedWrite(ctx, e.profilesBucket, path, r); err != nil {
		return "", err
	}
	if e.profilingWriter == nil {
		return path, nil
	}
	b, err := json.Marshal(buildProfileKafkaMessage(r, e.config.Environment, path))
	if err != nil {
		return path, err
	}
	return path, e.profilingWriter.WriteMessages(ctx, kafka.Message{
		Key:   []byte(r.Meta.ProfileID),
		Value: b,
	})
}
