package consts

// PDA 种子
const (
	VaultSeed             = "vault"
	VaultTokenAccountSeed = "vault_token_account"
)

// 参数边界（与链上程序的校验保持一致，提交前先行拦截）
const (
	MinLeverage               uint8  = 1
	MaxLeverage               uint8  = 10
	MinRebalanceThresholdBps  uint16 = 10   // 0.1%
	MaxRebalanceThresholdBps  uint16 = 1000 // 10%
	MaxSlippageBps            uint16 = 1000 // 10%
	BasisPointsDivisor        uint64 = 10_000
	SharePricePrecision       uint64 = 1_000_000
	DefaultManagementFeeBps   uint16 = 200
	DefaultPerformanceFeeBps  uint16 = 2000
	DefaultMaxCapacity        uint64 = 1_000_000_000_000
	DefaultMinRebalanceSecond int64  = 300
)
