package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

// AllowedHeaders are the request headers browser clients send with uploads.
const AllowedHeaders = "authorization,x-client-info,apikey,content-type"

// CORS answers preflight requests with an empty body and allows any origin.
func CORS() fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins:  "*",
		AllowMethods:  "GET,POST,OPTIONS",
		AllowHeaders:  AllowedHeaders,
		ExposeHeaders: RequestIDHeader,
		MaxAge:        86400,
	})
}

// OptionsFallback answers any OPTIONS request the CORS middleware let through,
// such as one without Origin or Access-Control-Request-Method, with the same
// permissive headers and an empty body.
func OptionsFallback() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodOptions {
			return c.Next()
		}
		c.Set(fiber.HeaderAccessControlAllowOrigin, "*")
		c.Set(fiber.HeaderAccessControlAllowMethods, "GET,POST,OPTIONS")
		c.Set(fiber.HeaderAccessControlAllowHeaders, AllowedHeaders)
		return c.SendStatus(fiber.StatusNoContent)
	}
}
