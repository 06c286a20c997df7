package models

// BaseError is the error body the backend returns with non 2xx responses.
type BaseError struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// String returns the most descriptive message in the body.
func (e BaseError) String() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}
