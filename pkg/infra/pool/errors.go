package pool

import "errors"

var (
	// ErrPoolClosed 池已关闭
	ErrPoolClosed = errors.New("worker pool closed")

	// ErrPoolOverload 池已满且为非阻塞模式
	ErrPoolOverload = errors.New("worker pool overloaded")
)
