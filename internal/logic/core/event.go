package core

import "time"

// EventType 生命周期事件类型，作为 Kafka 消息前 4 字节
type EventType uint32

const (
	EventOpConfirmed        EventType = 1
	EventOpFailed           EventType = 2
	EventMigrationTransited EventType = 3
)

// Event 对外发布的生命周期事件
type Event struct {
	Type   EventType
	Key    []byte                 // Kafka 分区 key，使用金库地址
	Fields map[string]interface{} // 事件内容（编码为 protobuf Struct）
	At     time.Time
}

// EventSink 事件发布接口，未配置 Kafka 时使用 NopSink
type EventSink interface {
	Publish(event *Event)
}

type NopSink struct{}

func (NopSink) Publish(*Event) {}
