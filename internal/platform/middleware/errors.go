package middleware

import "github.com/labstack/echo/v4"

// errorBody matches the {message, code} payload the API handlers return.
type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func abort(status int, code, message string) *echo.HTTPError {
	return echo.NewHTTPError(status, errorBody{Message: message, Code: code})
}
