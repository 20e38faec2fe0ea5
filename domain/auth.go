package domain

// Credentials is the login payload.
type Credentials struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

// Registration is the sign-up payload.
type Registration struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
	Role     Role   `json:"role,omitempty"`
}

// TokenPair is the refresh endpoint response.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// AuthResponse is returned by login and register.
type AuthResponse struct {
	TokenPair
	User User `json:"user"`
}
