package response

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
)

const (
	RequestError = "The request is not valid."
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Ext struct {
	*fiber.Ctx
}

// Ok : 성공(200) 응답
func (ext Ext) Ok(data interface{}) error {
	return ext.Status(fiber.StatusOK).JSON(data)
}

// Error : 에러 응답. status 를 안 주면 400
func (ext Ext) Error(err error, status ...int) error {
	code := fiber.StatusBadRequest
	if len(status) > 0 {
		code = status[0]
	}
	msg := RequestError
	if err != nil {
		msg = err.Error()
	}
	return ext.Status(code).JSON(ErrorResponse{
		Code:    strconv.Itoa(code),
		Message: msg,
	})
}

// Panic : 서버 내부 에러 (500) 응답
func (ext Ext) Panic(id interface{}) error {
	res := ErrorResponse{
		Code:    strconv.Itoa(fiber.StatusInternalServerError),
		Message: "Internal Server Error",
	}
	return ext.Status(fiber.StatusInternalServerError).JSON(res)
}
