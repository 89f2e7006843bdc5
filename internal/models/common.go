package models

//nolint:gosec //file not handles sensitive data
const (
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"

	MwClaimsKey = "claims"

	APIBasePath = "/api/v1"

	LoginPath        = "/users/login"
	RefreshTokenPath = "/users/refresh-token"
)

// APIResponse is the envelope every endpoint answers with, errors included.
type APIResponse struct {
	StatusCode int      `json:"statusCode"`
	Data       any      `json:"data"`
	Message    string   `json:"message"`
	Success    bool     `json:"success"`
	Errors     []string `json:"errors,omitempty"`
}

func NewAPIResponse(status int, data any, message string) APIResponse {
	return APIResponse{
		StatusCode: status,
		Data:       data,
		Message:    message,
		Success:    status < 400,
	}
}

func NewAPIError(status int, message string, errs ...string) APIResponse {
	return APIResponse{
		StatusCode: status,
		Message:    message,
		Success:    false,
		Errors:     errs,
	}
}
