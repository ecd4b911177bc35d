package listing

import (
	"math"
	"math/rand"
)

// Display price adjustment: the game shows a price tweaked away from the
// real listing price so settlement is not a coin flip against a number the
// player can look up. Cosmetic only; the true price stays authoritative
// for settlement.

const (
	minAdjustPct = 5
	maxAdjustPct = 15
)

// AdjustPrice returns the display price: the real price moved up or down
// by a random 5–15%. Never returns 0 and never returns the input itself.
func AdjustPrice(actual uint64) uint64 {
	if actual == 0 {
		return 0
	}
	pct := uint64(minAdjustPct + rand.Intn(maxAdjustPct-minAdjustPct+1))
	// 分段计算，actual*pct 在接近 uint64 上限时会溢出
	delta := actual/100*pct + actual%100*pct/100
	if delta == 0 {
		// 极小价格（< $7）按百分比算不出偏移，强制移动 1
		delta = 1
	}
	up := rand.Intn(2) == 0
	if up && actual > math.MaxUint64-delta {
		up = false
	}
	if !up && delta >= actual {
		up = true
	}
	if up {
		return actual + delta
	}
	return actual - delta
}
