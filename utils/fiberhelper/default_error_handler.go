package fiberhelpers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"qxtrader/utils/fiberhelper/response"
	"qxtrader/utils/log"
)

func DefaultErrorHandler(ctx *fiber.Ctx, err error) error {
	fiberError, ok := convertToFiberError(err)
	if !ok {
		log.Errorf("[HTTP] %s %s: %v", ctx.Method(), ctx.Path(), err)
		return response.Ext{Ctx: ctx}.Panic(err)
	}
	return response.Ext{Ctx: ctx}.Error(fiberError, fiberError.Code)
}

func convertToFiberError(err error) (*fiber.Error, bool) {
	var fiberError *fiber.Error
	if errors.As(err, &fiberError) {
		return fiberError, true
	}
	return nil, false
}
