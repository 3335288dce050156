package fiberhelpers

import (
	"fmt"
	"runtime/debug"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"qxtrader/utils/log"
)

func NewRecover() fiber.Handler {
	return recover.New(
		recover.Config{
			StackTraceHandler: func(c *fiber.Ctx, e interface{}) {
				log.WithField("stack_trace", string(debug.Stack())).
					Errorf("[HTTP] panic on %s: %s", c.Path(), fmt.Sprintf("%v", e))
			},
			EnableStackTrace: true,
		},
	)
}
