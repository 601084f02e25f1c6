package utils

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"vault-orchestrator-sol/internal/logic/core"
)

const eventTypePrefixLen = 4

var ErrShortEvent = errors.New("event payload shorter than type prefix")

// EncodeEvent 将 protobuf 消息编码为带事件类型前缀的二进制数据：
// - 前 4 字节为事件类型（uint32，小端序）
// - 后续为 protobuf 确定性序列化数据
func EncodeEvent(eventType uint32, msg proto.Message) ([]byte, error) {
	const extraBuffer = 32

	size := proto.Size(msg)
	buf := make([]byte, eventTypePrefixLen, eventTypePrefixLen+size+extraBuffer)
	binary.LittleEndian.PutUint32(buf, eventType)

	opts := proto.MarshalOptions{Deterministic: true}
	result, err := opts.MarshalAppend(buf, msg)
	if err != nil {
		return nil, fmt.Errorf("EncodeEvent: marshal %T: %w", msg, err)
	}
	return result, nil
}

// EncodeLifecycleEvent 生命周期事件编码为 structpb.Struct，附带 unix 毫秒时间戳 at_ms
func EncodeLifecycleEvent(e *core.Event) ([]byte, error) {
	fields := make(map[string]interface{}, len(e.Fields)+1)
	for k, v := range e.Fields {
		fields[k] = v
	}
	fields["at_ms"] = e.At.UnixMilli()

	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("EncodeLifecycleEvent: type=%d: %w", e.Type, err)
	}
	return EncodeEvent(uint32(e.Type), st)
}

// DecodeLifecycleEvent EncodeLifecycleEvent 的逆操作；数字字段解码为 float64
func DecodeLifecycleEvent(data []byte) (*core.Event, error) {
	if len(data) < eventTypePrefixLen {
		return nil, ErrShortEvent
	}
	var st structpb.Struct
	if err := proto.Unmarshal(data[eventTypePrefixLen:], &st); err != nil {
		return nil, fmt.Errorf("DecodeLifecycleEvent: %w", err)
	}
	fields := st.AsMap()
	e := &core.Event{
		Type:   core.EventType(binary.LittleEndian.Uint32(data[:eventTypePrefixLen])),
		Fields: fields,
	}
	if ms, ok := fields["at_ms"].(float64); ok {
		e.At = time.UnixMilli(int64(ms))
		delete(fields, "at_ms")
	}
	return e, nil
}
