package auth

// Credentials kept in the OS keyring for the chat CLI.
import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	serviceName = "counselchat-cli"
	tokenKey    = "auth_tokens"
)

var ErrNoCredentials = errors.New("not logged in: no stored credentials")

type StoredCredentials struct {
	AccessToken string `json:"access_token"`
	UserID      int64  `json:"user_id"`
	Username    string `json:"username"`
	Avatar      string `json:"avatar,omitempty"`
	AvatarColor string `json:"avatar_color,omitempty"`
	ExpiresAt   int64  `json:"expires_at"`
}

// StoreToken extracts the identity from an access token and saves both
func StoreToken(token string) (*StoredCredentials, error) {
	claims, err := ParseUnverified(token)
	if err != nil {
		return nil, err
	}
	creds := claims.Credentials(token)
	if err := StoreTokens(creds); err != nil {
		return nil, err
	}
	return creds, nil
}

func StoreTokens(creds *StoredCredentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	return keyring.Set(serviceName, tokenKey, string(data))
}

func GetTokens() (*StoredCredentials, error) {
	value, err := keyring.Get(serviceName, tokenKey)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, ErrNoCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read keyring: %w", err)
	}

	var creds StoredCredentials
	if err := json.Unmarshal([]byte(value), &creds); err != nil {
		return nil, fmt.Errorf("corrupt stored credentials: %w", err)
	}
	return &creds, nil
}

func DeleteTokens() error {
	err := keyring.Delete(serviceName, tokenKey)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}
