package vault

import (
	"errors"
	"math/bits"

	"vault-orchestrator-sol/internal/consts"
)

var ErrMathOverflow = errors.New("math overflow")

// mulDiv 计算 a*b/c，中间结果按 128 位处理
func mulDiv(a, b, c uint64) (uint64, error) {
	if c == 0 {
		return 0, ErrMathOverflow
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= c {
		return 0, ErrMathOverflow
	}
	q, _ := bits.Div64(hi, lo, c)
	return q, nil
}

// SharesForDeposit 首笔存款 1:1 发行份额，之后按 amount*shares/assets
func SharesForDeposit(amount, totalAssets, totalShares uint64) (uint64, error) {
	if totalShares == 0 || totalAssets == 0 {
		return amount, nil
	}
	return mulDiv(amount, totalShares, totalAssets)
}

// SharesForWithdraw 取出 amount 需要销毁的份额
func SharesForWithdraw(amount, totalAssets, totalShares uint64) (uint64, error) {
	if totalShares == 0 || totalAssets == 0 {
		return 0, nil
	}
	return mulDiv(amount, totalShares, totalAssets)
}

// RedeemableValue 持有 shares 份额可赎回的资产数量
func RedeemableValue(shares, totalAssets, totalShares uint64) (uint64, error) {
	if totalShares == 0 {
		return 0, nil
	}
	return mulDiv(shares, totalAssets, totalShares)
}

func SharePrice(totalAssets, totalShares uint64) uint64 {
	if totalShares == 0 {
		return consts.SharePricePrecision
	}
	price, err := mulDiv(totalAssets, consts.SharePricePrecision, totalShares)
	if err != nil {
		return 0
	}
	return price
}
