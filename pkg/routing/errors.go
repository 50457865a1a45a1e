package routing

import "errors"

// Error 定义路由表操作可能返回的错误类型
type Error struct {
	Code    int
	Message string
}

// Error 实现error接口
func (e *Error) Error() string {
	return e.Message
}

// 定义错误代码
const (
	// ErrNotFound 服务不存在
	ErrNotFound = iota + 1
	// ErrAlreadyExists 服务已存在且与请求冲突
	ErrAlreadyExists
	// ErrInvalidArgument 参数无效
	ErrInvalidArgument
	// ErrInternal 内部错误
	ErrInternal
)

// NewNotFoundError 创建服务不存在错误
func NewNotFoundError(message string) *Error {
	return &Error{Code: ErrNotFound, Message: message}
}

// NewAlreadyExistsError 创建服务冲突错误
func NewAlreadyExistsError(message string) *Error {
	return &Error{Code: ErrAlreadyExists, Message: message}
}

// NewInvalidArgumentError 创建参数无效错误
func NewInvalidArgumentError(message string) *Error {
	return &Error{Code: ErrInvalidArgument, Message: message}
}

// NewInternalError 创建内部错误
func NewInternalError(message string) *Error {
	return &Error{Code: ErrInternal, Message: message}
}

// CodeOf 返回错误代码，非路由错误返回0
func CodeOf(err error) int {
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	return 0
}

// IsNotFound 判断是否为服务不存在错误
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrNotFound
}
