package models

type RegisterRequest struct {
	Handle      string `json:"handle"`
	Contact     string `json:"contact"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
}

// LoginRequest accepts either the handle or the contact address in Login.
type LoginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type LoginResponse struct {
	User Profile `json:"user"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

type UpdateAccountRequest struct {
	DisplayName string `json:"displayName"`
	Contact     string `json:"contact"`
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
}
