package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

const (
	resetIDSize       = 16
	resetSecretSize   = 32
	resetTokenRawSize = resetIDSize + resetSecretSize
)

// ResetToken is a freshly minted password-reset token. Only Hash is stored;
// Token goes into the reset link.
type ResetToken struct {
	ID    string
	Token string
	Hash  [32]byte
}

// NewResetToken draws a random reset id and secret.
func NewResetToken() (ResetToken, error) {
	var raw [resetTokenRawSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return ResetToken{}, err
	}
	return ResetToken{
		ID:    base64.RawURLEncoding.EncodeToString(raw[:resetIDSize]),
		Token: base64.RawURLEncoding.EncodeToString(raw[:]),
		Hash:  sha256.Sum256(raw[resetIDSize:]),
	}, nil
}

// DecodeResetToken splits a reset link token into its id and secret hash.
func DecodeResetToken(token string) (string, [32]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", [32]byte{}, err
	}
	if len(raw) != resetTokenRawSize {
		return "", [32]byte{}, errors.New("invalid reset token size")
	}
	return base64.RawURLEncoding.EncodeToString(raw[:resetIDSize]), sha256.Sum256(raw[resetIDSize:]), nil
}
