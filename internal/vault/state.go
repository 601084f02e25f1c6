package vault

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/near/borsh-go"

	"vault-orchestrator-sol/internal/consts"
	"vault-orchestrator-sol/internal/types"
)

const (
	DiscriminatorLen = 8
	// StateSize borsh 编码后的 VaultState 长度（不含 discriminator）
	StateSize = 469
	// StateAccountSize 链上账户总长度
	StateAccountSize = DiscriminatorLen + StateSize
)

// StateDiscriminator = sha256("account:VaultState")[:8]
var StateDiscriminator = accountDiscriminator("VaultState")

// State 金库状态账户，字段顺序即链上布局
type State struct {
	Admin                 types.Pubkey
	Bump                  uint8
	TargetLeverage        uint8
	RebalanceThresholdBps uint16
	MaxSlippageBps        uint16

	TotalAssets   uint64
	TotalShares   uint64
	LongPosition  int64
	ShortPosition int64

	TotalFeesCollected uint64
	LastRebalanceTime  int64
	NetDeposits        int64

	EmergencyStop bool
	MaxCapacity   uint64

	DriftUserAuthority types.Pubkey
	DriftUser          types.Pubkey
	DriftUserStats     types.Pubkey

	ManagementFeeBps  uint16
	PerformanceFeeBps uint16

	MinRebalanceInterval int64
	DeltaThreshold       uint16

	Reserved [32]uint64
}

// NewState 初始化指令成功后的链上初始状态
func NewState(admin types.Pubkey, bump uint8, params Params) *State {
	return &State{
		Admin:                 admin,
		Bump:                  bump,
		TargetLeverage:        params.TargetLeverage,
		RebalanceThresholdBps: params.RebalanceThresholdBps,
		MaxSlippageBps:        params.MaxSlippageBps,
		MaxCapacity:           consts.DefaultMaxCapacity,
		ManagementFeeBps:      consts.DefaultManagementFeeBps,
		PerformanceFeeBps:     consts.DefaultPerformanceFeeBps,
		MinRebalanceInterval:  consts.DefaultMinRebalanceSecond,
		DeltaThreshold:        params.RebalanceThresholdBps,
	}
}

func (s *State) Params() Params {
	return Params{
		TargetLeverage:        s.TargetLeverage,
		RebalanceThresholdBps: s.RebalanceThresholdBps,
		MaxSlippageBps:        s.MaxSlippageBps,
	}
}

// SharePrice 每份额价值，精度 1e6；无份额时为 1e6
func (s *State) SharePrice() uint64 {
	return SharePrice(s.TotalAssets, s.TotalShares)
}

func (s *State) Clone() *State {
	c := *s
	return &c
}

// DecodeState 解析账户数据：校验 discriminator，忽略尾部多余空间
func DecodeState(data []byte) (*State, error) {
	if len(data) < StateAccountSize {
		return nil, fmt.Errorf("vault state too short: got %d, want >= %d", len(data), StateAccountSize)
	}
	if !bytes.Equal(data[:DiscriminatorLen], StateDiscriminator[:]) {
		return nil, fmt.Errorf("vault state discriminator mismatch: %x", data[:DiscriminatorLen])
	}
	var s State
	if err := borsh.Deserialize(&s, data[DiscriminatorLen:StateAccountSize]); err != nil {
		return nil, fmt.Errorf("decode vault state: %w", err)
	}
	return &s, nil
}

// EncodeState 生成与链上一致的账户数据（discriminator + borsh）
func EncodeState(s *State) ([]byte, error) {
	body, err := borsh.Serialize(*s)
	if err != nil {
		return nil, fmt.Errorf("encode vault state: %w", err)
	}
	out := make([]byte, 0, DiscriminatorLen+len(body))
	out = append(out, StateDiscriminator[:]...)
	return append(out, body...), nil
}

func accountDiscriminator(name string) [DiscriminatorLen]byte {
	return discriminator("account:" + name)
}

func discriminator(preimage string) [DiscriminatorLen]byte {
	sum := sha256.Sum256([]byte(preimage))
	var d [DiscriminatorLen]byte
	copy(d[:], sum[:DiscriminatorLen])
	return d
}
