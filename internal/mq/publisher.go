package mq

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"vault-orchestrator-sol/internal/config"
	"vault-orchestrator-sol/internal/logic/core"
	"vault-orchestrator-sol/internal/pkg/logger"
	"vault-orchestrator-sol/internal/utils"
)

const maxBatch = 64

type sendFunc func(ctx context.Context, jobs []*KafkaJob, timeout time.Duration) ([]*KafkaJob, []KafkaSendResult)

// Publisher 把生命周期事件异步发送到 Kafka，实现 core.EventSink。
// 同一金库的事件按地址哈希落在同一分区，保持顺序。
type Publisher struct {
	topic      string
	partitions uint32
	timeout    time.Duration
	send       sendFunc

	mu      sync.RWMutex
	closed  bool
	events  chan *core.Event
	done    chan struct{}
	dropped atomic.Int64
}

var _ core.EventSink = (*Publisher)(nil)

func NewPublisher(producer *kafka.Producer, cfg config.KafkaProducerConfig) *Publisher {
	send := func(ctx context.Context, jobs []*KafkaJob, timeout time.Duration) ([]*KafkaJob, []KafkaSendResult) {
		return SendKafkaJobs(ctx, producer, jobs, timeout)
	}
	return newPublisher(send, cfg.Topic, cfg.Partitions, time.Duration(cfg.SendTimeoutMs)*time.Millisecond, cfg.BufferSize)
}

func newPublisher(send sendFunc, topic string, partitions int, timeout time.Duration, buffer int) *Publisher {
	if partitions <= 0 {
		partitions = 1
	}
	if buffer <= 0 {
		buffer = 1
	}
	return &Publisher{
		topic:      topic,
		partitions: uint32(partitions),
		timeout:    timeout,
		send:       send,
		events:     make(chan *core.Event, buffer),
		done:       make(chan struct{}),
	}
}

// Publish 不阻塞调用方；缓冲区满时丢弃并计数
func (p *Publisher) Publish(e *core.Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.dropped.Add(1)
		return
	}
	select {
	case p.events <- e:
	default:
		n := p.dropped.Add(1)
		logger.Warnf("[Publisher] 事件缓冲区已满，丢弃事件: type=%d dropped=%d", e.Type, n)
	}
}

func (p *Publisher) Dropped() int64 {
	return p.dropped.Load()
}

// Start 发送循环，直到 Stop 且缓冲区排空后返回
func (p *Publisher) Start() {
	defer close(p.done)
	for e := range p.events {
		batch := []*core.Event{e}
	collect:
		for len(batch) < maxBatch {
			select {
			case more, ok := <-p.events:
				if !ok {
					break collect
				}
				batch = append(batch, more)
			default:
				break collect
			}
		}
		p.flush(batch)
	}
}

// Stop 停止接收新事件，等待已缓冲事件发送完毕
func (p *Publisher) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()
	<-p.done
}

func (p *Publisher) flush(batch []*core.Event) {
	jobs := make([]*KafkaJob, 0, len(batch))
	for _, e := range batch {
		value, err := utils.EncodeLifecycleEvent(e)
		if err != nil {
			logger.Errorf("[Publisher] 事件编码失败: type=%d err=%v", e.Type, err)
			continue
		}
		jobs = append(jobs, &KafkaJob{
			Topic:     p.topic,
			Partition: int32(utils.PartitionHashBytes(e.Key, p.partitions)),
			Key:       e.Key,
			Value:     value,
		})
	}
	if len(jobs) == 0 {
		return
	}
	ok, failed := p.send(context.Background(), jobs, p.timeout)
	for _, f := range failed {
		logger.Warnf("[Publisher] 事件发送失败: topic=%s partition=%d err=%v", f.Job.Topic, f.Job.Partition, f.Err)
	}
	logger.Debugf("[Publisher] 事件发送完成: ok=%d failed=%d", len(ok), len(failed))
}
