package auth

import "errors"

var ErrInvalidToken = errors.New("invalid token")

// Authenticator turns bearer tokens into user ids. Accounts and login live
// in the user service; this API only checks the tokens it signs.
type Authenticator interface {
	Issue(userID int64) (string, error)
	Verify(token string) (int64, error)
}
