// Package response defines the JSON envelope returned by the HTTP API.
package response

import "github.com/go-playground/validator/v10"

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

type Response struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message"`
	Details []any  `json:"details,omitempty"`
	Data    any    `json:"data,omitempty"`
}

var EmptyRequestBodyResponse = Response{
	Status:  StatusError,
	Error:   "Empty Request Body",
	Message: "Request body is empty. Please provide necessary data.",
}

var BadRequestResponse = Response{
	Status:  StatusError,
	Error:   "Bad Request",
	Message: "The request is malformed or contains invalid data.",
}

var ResourceNotFoundResponse = Response{
	Status:  StatusError,
	Error:   "Resource Not Found",
	Message: "The requested resource was not found.",
}

var LinkExpiredResponse = Response{
	Status:  StatusError,
	Error:   "Gone",
	Message: "The requested short link has expired.",
}

var CodeConflictResponse = Response{
	Status:  StatusError,
	Error:   "Conflict",
	Message: "The requested short code is already taken.",
}

var ServerErrorResponse = Response{
	Status:  StatusError,
	Error:   "Server Error",
	Message: "An internal server error occurred. Please try again later.",
}

func SuccessResponse(msg string, data ...any) Response {
	resp := Response{
		Status:  StatusSuccess,
		Message: msg,
	}

	if len(data) > 0 {
		resp.Data = data[0]
	}

	return resp
}

// ErrorResponse builds an error envelope with a caller-supplied message,
// used when a validation failure carries context worth surfacing.
func ErrorResponse(errName, msg string) Response {
	return Response{
		Status:  StatusError,
		Error:   errName,
		Message: msg,
	}
}

type validationDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func messageForTag(tag string) string {
	switch tag {
	case "required":
		return "this field is required"
	case "url":
		return "invalid url"
	case "min":
		return "value is too small"
	case "max":
		return "value is too large"
	case "oneof":
		return "value is not one of the allowed options"
	default:
		return "invalid value"
	}
}

// ValidationErrorResponse converts validator errors into a response with
// per-field details.
func ValidationErrorResponse(err error) Response {
	resp := Response{
		Status:  StatusError,
		Error:   "Validation Error",
		Message: "The request contains invalid fields.",
	}

	if errs, ok := err.(validator.ValidationErrors); ok {
		for _, e := range errs {
			resp.Details = append(resp.Details, validationDetail{
				Field:   e.Field(),
				Message: messageForTag(e.Tag()),
			})
		}
	}

	return resp
}
