package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/gyeh/chartcoder/internal/api"
	"github.com/gyeh/chartcoder/internal/codes"
	"github.com/gyeh/chartcoder/internal/pkg/logger"
	"github.com/gyeh/chartcoder/internal/workflow"
)

type response struct {
	Success bool        `json:"success"`
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func successResponse(message string, data interface{}) response {
	return response{Success: true, Code: fiber.StatusOK, Message: message, Data: data}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func validateRequest(req interface{}) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s is %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return fiber.NewError(fiber.StatusBadRequest, strings.Join(msgs, "; "))
}

// statusFor maps an error to the HTTP status returned to the browser.
// Backend HTTP failures pass their status through unchanged.
func statusFor(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	var re *api.RequestError
	if errors.As(err, &re) {
		if re.Kind == api.KindHTTP {
			return re.StatusCode
		}
		return fiber.StatusBadGateway
	}
	var pe *codes.ParseError
	if errors.As(err, &pe) {
		return fiber.StatusBadRequest
	}
	switch {
	case errors.Is(err, workflow.ErrNoSession),
		errors.Is(err, workflow.ErrNoSelection),
		errors.Is(err, workflow.ErrVerificationInFlight),
		errors.Is(err, workflow.ErrSuperseded):
		return fiber.StatusConflict
	}
	return fiber.StatusInternalServerError
}

func errorHandler(log logger.ILogger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := statusFor(err)
		msg := err.Error()
		var re *api.RequestError
		if errors.As(err, &re) {
			if m := re.Message(); m != "" {
				msg = m
			}
		}

		details := map[string]interface{}{
			"method": c.Method(),
			"path":   c.Path(),
			"status": code,
			"error":  err.Error(),
		}
		if code >= fiber.StatusInternalServerError {
			log.Error(module, "request failed", details)
		} else {
			log.Debug(module, "request rejected", details)
		}

		return c.Status(code).JSON(response{Success: false, Code: code, Message: msg})
	}
}
