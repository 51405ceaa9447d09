package redis

import (
	"errors"
	"fmt"
)

// ErrUnavailable 表示共享存储不可达，调用方应当作可重试失败处理。
var ErrUnavailable = errors.New("store unavailable")

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
