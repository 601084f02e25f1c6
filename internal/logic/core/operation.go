package core

// OpKind 金库程序支持的指令类型
type OpKind uint8

const (
	OpInitialize OpKind = iota + 1
	OpDeposit
	OpWithdraw
	OpRebalance
	OpEmergencyStop
	OpUpdateParams
)

func (k OpKind) String() string {
	switch k {
	case OpInitialize:
		return "initialize"
	case OpDeposit:
		return "deposit"
	case OpWithdraw:
		return "withdraw"
	case OpRebalance:
		return "rebalance"
	case OpEmergencyStop:
		return "emergency_stop"
	case OpUpdateParams:
		return "update_params"
	default:
		return "unknown"
	}
}

// Resubmittable 表示该操作在结果不确定时，重新读取前置条件后能否安全地再次提交。
// 初始化、紧急停止、参数更新都是绝对写入，重复生效无副作用；存取款与再平衡会重复记账。
func (k OpKind) Resubmittable() bool {
	switch k {
	case OpInitialize, OpEmergencyStop, OpUpdateParams:
		return true
	default:
		return false
	}
}

// OpStatus 操作生命周期：constructed → submitted → confirmed | failed
type OpStatus int

const (
	OpStatusUnknown   OpStatus = 0
	OpStatusSubmitted OpStatus = 1
	OpStatusConfirmed OpStatus = 2
	OpStatusFailed    OpStatus = 3
	OpStatusSkipped   OpStatus = 4 // 前置条件已满足，无需提交（如重复紧急停止）
)

func (s OpStatus) String() string {
	switch s {
	case OpStatusSubmitted:
		return "submitted"
	case OpStatusConfirmed:
		return "confirmed"
	case OpStatusFailed:
		return "failed"
	case OpStatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}
