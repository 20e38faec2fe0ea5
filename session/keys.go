package session

// Persisted key names.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	KeyUser         = "user"
)

var persistedKeys = []string{KeyAccessToken, KeyRefreshToken, KeyUser}
