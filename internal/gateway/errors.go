package gateway

// AppError carries an HTTP status alongside the message. The wire format is
// the flat envelope the dashboard pages expect: {"error": "<message>"}.
type AppError struct {
	Code    string
	Status  int
	Message string
}

func (e *AppError) Error() string {
	return e.Message
}

// DataResponse is the success envelope.
type DataResponse struct {
	Data any `json:"data"`
}

// ErrorResponse is the failure envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

func MalformedError(msg string) *AppError {
	return &AppError{Code: "MALFORMED_REQUEST", Status: 400, Message: msg}
}

func PolicyError(reason string, status int) *AppError {
	return &AppError{Code: "POLICY_VIOLATION", Status: status, Message: reason}
}

func StoreFailure(msg string) *AppError {
	return &AppError{Code: "STORE_ERROR", Status: 400, Message: msg}
}

func UnauthorizedError(msg string) *AppError {
	return &AppError{Code: "UNAUTHORIZED", Status: 401, Message: msg}
}
