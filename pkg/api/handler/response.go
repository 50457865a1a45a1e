package handler

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/hewenyu/someip-routing/pkg/routing"
)

// Response 通用API响应
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// CustomValidator 实现echo.Validator接口
type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator 创建请求参数校验器
func NewValidator() *CustomValidator {
	return &CustomValidator{validator: validator.New()}
}

// Validate 校验请求结构体
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

func success(c echo.Context, status int, data any) error {
	return c.JSON(status, Response{
		Code:    status,
		Message: "success",
		Data:    data,
	})
}

func failure(c echo.Context, status int, message string) error {
	return c.JSON(status, Response{
		Code:    status,
		Message: message,
	})
}

// routingFailure 将路由表错误映射为HTTP状态码
func routingFailure(c echo.Context, err error) error {
	switch routing.CodeOf(err) {
	case routing.ErrNotFound:
		return failure(c, http.StatusNotFound, err.Error())
	case routing.ErrAlreadyExists:
		return failure(c, http.StatusConflict, err.Error())
	case routing.ErrInvalidArgument:
		return failure(c, http.StatusBadRequest, err.Error())
	default:
		return failure(c, http.StatusInternalServerError, "内部错误: "+err.Error())
	}
}
