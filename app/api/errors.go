package api

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"productrag/types"
)

// NewErrorHandler renders every handler error as JSON.
func NewErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var (
			apiErr   Error
			valErr   ValidationError
			fiberErr *fiber.Error
		)
		switch {
		case errors.As(err, &apiErr):
		case errors.As(err, &valErr):
			return c.Status(valErr.Status).JSON(valErr)
		case errors.As(err, &fiberErr):
			apiErr = NewError(fiberErr.Code, fiberErr.Message)
		default:
			apiErr = fromDomainError(err)
		}

		if apiErr.Code >= fiber.StatusInternalServerError {
			logger.Error("request failed", "method", c.Method(), "path", c.Path(), "code", apiErr.Code, "err", err)
		} else {
			logger.Debug("request rejected", "method", c.Method(), "path", c.Path(), "code", apiErr.Code, "err", err)
		}
		return c.Status(apiErr.Code).JSON(apiErr)
	}
}

func fromDomainError(err error) Error {
	var (
		svcErr *types.EmbeddingServiceError
		pErr   *types.PersistenceError
	)
	switch {
	case errors.As(err, &svcErr):
		return NewError(fiber.StatusBadGateway, err.Error())
	case errors.As(err, &pErr):
		return NewError(fiber.StatusInternalServerError, err.Error())
	default:
		return NewError(fiber.StatusInternalServerError, err.Error())
	}
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
}

type ValidationError struct {
	Status int               `json:"status"`
	Errors map[string]string `json:"errors"`
}

func (e ValidationError) Error() string {
	return "validation failed"
}

func NewValidationError(errors map[string]string) ValidationError {
	return ValidationError{
		Status: fiber.StatusUnprocessableEntity,
		Errors: errors,
	}
}

// fromParseError reports the invalid fields of a document, or the decode error.
func fromParseError(err *types.ParseError) ValidationError {
	fields := err.Fields
	if len(fields) == 0 {
		msg := "invalid document"
		if err.Err != nil {
			msg = err.Err.Error()
		}
		fields = map[string]string{"file": msg}
	}
	return NewValidationError(fields)
}

// Error implements the Error interface
func (e Error) Error() string {
	return e.Message
}

func NewError(code int, err string) Error {
	return Error{
		Code:    code,
		Message: err,
	}
}

func ErrBadRequest() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "invalid JSON request",
	}
}

func ErrInvalidFile(msg string) Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: msg,
	}
}
