package pipeline

import "sync/atomic"

// Gate は即時処理の同時実行数を制御します。空きがなければキュー投入へ回します。
type Gate struct {
	limit  int64
	active atomic.Int64
}

// NewGate は上限付きのGateを生成します。上限1未満は1に切り上げます。
func NewGate(limit int) *Gate {
	if limit < 1 {
		limit = 1
	}
	return &Gate{limit: int64(limit)}
}

// TryAcquire は枠を1つ確保します。上限に達している場合はfalseを返します。
func (g *Gate) TryAcquire() bool {
	for {
		current := g.active.Load()
		if current >= g.limit {
			return false
		}
		if g.active.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

// Release は確保した枠を返却します。
func (g *Gate) Release() {
	if g.active.Add(-1) < 0 {
		g.active.Store(0)
	}
}

// Active は現在の使用中の枠数を返します。
func (g *Gate) Active() int {
	return int(g.active.Load())
}

// Limit は同時実行の上限を返します。
func (g *Gate) Limit() int {
	return int(g.limit)
}
