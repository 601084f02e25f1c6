package mq

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault-orchestrator-sol/internal/logic/core"
	"vault-orchestrator-sol/internal/utils"
)

type captureSender struct {
	mu   sync.Mutex
	jobs []*KafkaJob
}

func (c *captureSender) send(_ context.Context, jobs []*KafkaJob, _ time.Duration) ([]*KafkaJob, []KafkaSendResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs = append(c.jobs, jobs...)
	return jobs, nil
}

func vaultKey(b byte) []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = b
	}
	return key
}

func TestPublisher_SendsAllBufferedEvents(t *testing.T) {
	c := &captureSender{}
	p := newPublisher(c.send, "vault_lifecycle_event", 4, time.Second, 16)
	go p.Start()

	for i := 0; i < 10; i++ {
		p.Publish(&core.Event{
			Type:   core.EventOpConfirmed,
			Key:    vaultKey(byte(i % 2)),
			Fields: map[string]interface{}{"seq": i},
			At:     time.Unix(int64(i), 0),
		})
	}
	p.Stop()

	require.Len(t, c.jobs, 10)
	partitions := map[byte]int32{}
	for _, job := range c.jobs {
		assert.Equal(t, "vault_lifecycle_event", job.Topic)
		e, err := utils.DecodeLifecycleEvent(job.Value)
		require.NoError(t, err)
		assert.Equal(t, core.EventOpConfirmed, e.Type)

		// 同一金库固定同一分区
		if prev, ok := partitions[job.Key[0]]; ok {
			assert.Equal(t, prev, job.Partition)
		}
		partitions[job.Key[0]] = job.Partition
	}
	assert.Equal(t, int64(0), p.Dropped())
}

func TestPublisher_DropsWhenFull(t *testing.T) {
	c := &captureSender{}
	p := newPublisher(c.send, "t", 1, time.Second, 1)
	p.Publish(&core.Event{Type: core.EventOpFailed})
	p.Publish(&core.Event{Type: core.EventOpFailed})
	assert.Equal(t, int64(1), p.Dropped())

	go p.Start()
	p.Stop()
	assert.Len(t, c.jobs, 1)
}

func TestPublisher_PublishAfterStop(t *testing.T) {
	c := &captureSender{}
	p := newPublisher(c.send, "t", 1, time.Second, 4)
	go p.Start()
	p.Stop()
	p.Stop()

	assert.NotPanics(t, func() { p.Publish(&core.Event{Type: core.EventOpConfirmed}) })
	assert.Equal(t, int64(1), p.Dropped())
	assert.Empty(t, c.jobs)
}
