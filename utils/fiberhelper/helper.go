package fiberhelpers

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"qxtrader/utils/log"
)

func NewApp() *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          DefaultErrorHandler,
	})
	app.Use(NewRecover())
	return app
}

// ListenWithGraceFullyShutdown ctx 가 끝나면 서버를 내린다
func ListenWithGraceFullyShutdown(ctx context.Context, app *fiber.App, port string) error {
	if !strings.ContainsAny(port, ":") {
		port = fmt.Sprintf(":%s", port)
	}

	serverShutdown := make(chan struct{})
	go func() {
		defer close(serverShutdown)
		<-ctx.Done()
		log.Info("[HTTP] gracefully shutting down...")
		_ = app.Shutdown()
	}()

	address := port
	if strings.HasPrefix(address, ":") {
		address = "0.0.0.0" + address
	}
	log.Infof("[HTTP] starting server on %s", address)
	if err := app.Listen(address); err != nil {
		log.Errorf("[HTTP] server failed on %s: %v", address, err)
		return err
	}
	<-serverShutdown
	return nil
}
