package cmd

import (
	"fmt"
	"os"

	"github.com/notelock/notelock/internal/crypto"
	"github.com/notelock/notelock/internal/journal"
	"github.com/notelock/notelock/internal/keyring"
)

// KeyringSave saves the password to the OS keyring
func KeyringSave() {
	j := openJournal()
	defer j.Close()

	password, err := journal.ReadPassword("Enter password: ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	defer crypto.ClearBytes(password)

	// Verify before storing; a stale keyring entry is worse than none.
	if err := j.Unlock(password); err != nil {
		HandleError(err)
	}
	j.Lock()

	journalID, err := j.Store().GetOrCreateJournalID()
	if err != nil {
		HandleError(err)
	}

	if err := keyring.SavePassword(journalID, string(password)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to save to keyring: %s\n", err)
		os.Exit(1)
	}

	fmt.Println("Password saved to keyring")
}

// KeyringDelete removes the password from the OS keyring
func KeyringDelete() {
	j := openJournal()
	defer j.Close()

	journalID, err := j.Store().GetOrCreateJournalID()
	if err != nil {
		fmt.Println("No password stored in keyring")
		return
	}

	if err := keyring.DeletePassword(journalID); err != nil {
		fmt.Println("No password stored in keyring")
		return
	}

	fmt.Println("Password removed from keyring")
}

// KeyringStatus checks if a password is stored in the keyring
func KeyringStatus() {
	j := openJournal()
	defer j.Close()

	journalID, err := j.Store().GetOrCreateJournalID()
	if err != nil {
		fmt.Println("Password: not stored")
		return
	}

	if keyring.HasPassword(journalID) {
		fmt.Println("Password: stored in keyring")
	} else {
		fmt.Println("Password: not stored")
	}
}
