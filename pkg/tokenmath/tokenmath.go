package tokenmath

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// 代币金额换算。链上金额统一为 1e18 定点整数（wei 口径），
// 人类可读金额用 decimal 表达，避免 float64 精度损失。

// Decimals 代币精度
const Decimals = 18

var weiPerToken = decimal.New(1, Decimals) // 10^18

// ToWei 人类可读金额 -> 1e18 定点整数
// 超出 18 位小数的部分直接截断
func ToWei(amount decimal.Decimal) *big.Int {
	return amount.Mul(weiPerToken).Truncate(0).BigInt()
}

// FromWei 1e18 定点整数 -> 人类可读金额
func FromWei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -Decimals)
}

// ParseAmount 解析人类可读金额字符串（如 "10" 或 "2.5"）为 wei
func ParseAmount(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid token amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("token amount must not be negative: %s", s)
	}
	return ToWei(d), nil
}

// FormatAmount wei -> 可读字符串（去掉多余的尾零）
func FormatAmount(wei *big.Int) string {
	return FromWei(wei).String()
}

// MulUint64 wei 金额乘以整数因子（批量成本计算用）
func MulUint64(wei *big.Int, n uint64) *big.Int {
	if wei == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(wei, new(big.Int).SetUint64(n))
}
