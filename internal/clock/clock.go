package clock

import "time"

// Clock 抽象时间源，便于在测试中固定时间判断秒杀时间窗。
type Clock interface {
	Now() time.Time
}

type system struct{}

func (system) Now() time.Time { return time.Now() }

// NewSystem 返回真实时钟。
func NewSystem() Clock { return system{} }

type fixed struct{ t time.Time }

func (f fixed) Now() time.Time { return f.t }

// NewFixed 返回永远停在 t 的时钟。
func NewFixed(t time.Time) Clock { return fixed{t: t} }
