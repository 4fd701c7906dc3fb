package common

import (
	"sync/atomic"
)

var sink atomic.Pointer[any]

// DoNotOptimizeAway は v をプロセス全体の受け皿に書き込み、計算結果が捨てられたとみなされないようにします。
func DoNotOptimizeAway(v any) {
	sink.Store(&v)
}
