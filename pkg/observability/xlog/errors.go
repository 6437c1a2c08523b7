package xlog

import "errors"

var (
	// ErrUnknownLevel 无法识别的级别名。
	ErrUnknownLevel = errors.New("xlog: unknown level")

	// ErrUnknownFormat 格式既不是 text 也不是 json。
	ErrUnknownFormat = errors.New("xlog: unknown format")

	// ErrEmptyFilename 轮转文件名为空。
	ErrEmptyFilename = errors.New("xlog: empty rotation filename")

	// ErrNilHandler NewTraceHandler 的 base 为 nil。
	ErrNilHandler = errors.New("xlog: base handler is nil")
)
