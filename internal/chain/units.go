package chain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// TokenDecimals DAOS 代币精度
const TokenDecimals = 18

// FormatEther wei 转换为代币单位
func FormatEther(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -TokenDecimals)
}

// ParseEther 代币单位转换为 wei，多余精度截断
func ParseEther(amount decimal.Decimal) *big.Int {
	return amount.Shift(TokenDecimals).BigInt()
}
