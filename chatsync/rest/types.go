package rest

// ErrorResponse represents an API error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}
