package server

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AppOptions controls how the diagnostics application behaves on its port.
type AppOptions struct {
	Logger          *logrus.Logger
	ListenPort      int
	ProxyPort       int
	DestinationRoot string
}

const contextKeyRequestID = "_proxy2fs_request_id"

// NewApp builds a Fiber application with request-id middleware, panic
// recovery and the health probe. Unknown paths get a JSON 404.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.ListenPort <= 0 || opts.ListenPort > 65535 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":           "ok",
			"proxy_port":       opts.ProxyPort,
			"destination_root": opts.DestinationRoot,
		})
	})

	return app, nil
}

// NotFound 作为最后一个路由注册，记录并渲染未匹配的诊断路径。
func NotFound(app *fiber.App, logger *logrus.Logger, port int) {
	var handler fiber.Handler = func(c fiber.Ctx) error {
		return renderNotFound(c, logger, port)
	}
	app.Use(handler)
}

// requestContextMiddleware 为每个请求生成请求 ID，并写入响应头。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

func renderNotFound(c fiber.Ctx, logger *logrus.Logger, port int) error {
	logger.WithFields(logrus.Fields{
		"action":     "diagnostics",
		"path":       c.Path(),
		"port":       port,
		"request_id": RequestID(c),
	}).Warn("route unmapped")

	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "route_unmapped",
	})
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
