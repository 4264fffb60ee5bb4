// Package keyring stores journal passwords in the OS keychain, keyed by
// the journal ID so multiple journals on one machine do not collide.
package keyring

import (
	"github.com/zalando/go-keyring"
)

const serviceName = "notelock"

// SavePassword stores a password in the OS keyring
func SavePassword(journalID string, password string) error {
	return keyring.Set(serviceName, journalID, password)
}

// GetPassword retrieves a password from the OS keyring
func GetPassword(journalID string) (string, error) {
	return keyring.Get(serviceName, journalID)
}

// DeletePassword removes a password from the OS keyring
func DeletePassword(journalID string) error {
	return keyring.Delete(serviceName, journalID)
}

// HasPassword checks if a password is stored in the keyring
func HasPassword(journalID string) bool {
	_, err := keyring.Get(serviceName, journalID)
	return err == nil
}
