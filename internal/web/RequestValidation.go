// This file contains the validator used for incoming http requests. Request structs live in common and carry
// their rules as validate tags.

package web

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = validator.New()

// ValidateRequest validates a request using a Fiber context and a request struct.
// It parses the request differently based on HTTP method.
func ValidateRequest(c *fiber.Ctx, req interface{}) error {
	switch c.Method() {
	case fiber.MethodGet:
		if err := c.QueryParser(req); err != nil {
			return err
		}
		if err := c.ParamsParser(req); err != nil {
			return err
		}
	case fiber.MethodPost, fiber.MethodPut, fiber.MethodPatch:
		if err := c.BodyParser(req); err != nil {
			return err
		}
	}
	return validate.Struct(req)
}
