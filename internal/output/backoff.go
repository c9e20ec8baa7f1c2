package output

import "time"

// Backoff 指数退避：每次失败后翻倍，不超过 max
type Backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

// NewBackoff 创建退避器
func NewBackoff(initial, maxDelay time.Duration) *Backoff {
	if initial <= 0 {
		initial = time.Second
	}
	if maxDelay < initial {
		maxDelay = initial
	}
	return &Backoff{initial: initial, max: maxDelay, current: initial}
}

// Next 返回本次应等待的时长，并将下一次翻倍
func (b *Backoff) Next() time.Duration {
	d := b.current
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

// Reset 连接成功后恢复初始值
func (b *Backoff) Reset() {
	b.current = b.initial
}
