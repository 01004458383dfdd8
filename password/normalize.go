package password

import "golang.org/x/text/unicode/norm"

// Normalize returns the NFKC form of an entered password.
func Normalize(password string) string {
	return norm.NFKC.String(password)
}
