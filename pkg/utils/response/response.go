// Package response 统一的 API 响应结构。
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/errors"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/json"
)

// RequestIDKey gin 上下文中请求 ID 的键。
const RequestIDKey = "request_id"

// Response is the envelope for every JSON API response.
type Response struct {
	// Code 业务错误码，0 表示成功
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Success builds a successful envelope.
func Success(data any) *Response {
	return &Response{Code: errors.OK.Code, Message: "success", Data: data}
}

// Err builds an error envelope from an Errno.
func Err(e *errors.Errno) *Response {
	if e == nil {
		return Success(nil)
	}
	return &Response{Code: e.Code, Message: e.MessageEN}
}

// OK writes data with HTTP 200.
func OK(c *gin.Context, data any) {
	write(c, http.StatusOK, Success(data))
}

// Created writes data with HTTP 201.
func Created(c *gin.Context, data any) {
	write(c, http.StatusCreated, Success(data))
}

// Accepted writes data with HTTP 202, used when work continues in the background.
func Accepted(c *gin.Context, data any) {
	write(c, http.StatusAccepted, Success(data))
}

// Fail converts err to an Errno and writes it with the mapped HTTP status.
func Fail(c *gin.Context, err error) {
	e := errors.FromError(err)
	r := Err(e)
	if lang := c.GetHeader("Accept-Language"); lang != "" {
		r.Message = e.Message(lang)
	}
	write(c, e.HTTPStatus(), r)
	c.Abort()
}

func write(c *gin.Context, status int, r *Response) {
	r.RequestID = c.GetString(RequestIDKey)
	body, err := json.Marshal(r)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(status, "application/json; charset=utf-8", body)
}
