package cmd

import (
	"fmt"
	"os"

	"github.com/notelock/notelock/internal/crypto"
	"github.com/notelock/notelock/internal/journal"
	"github.com/notelock/notelock/internal/keyring"
)

// Passwd changes the journal password, re-encrypting every entry
func Passwd() {
	j := openJournal()
	defer j.Close()

	journalID, _ := j.Store().GetOrCreateJournalID()

	currentPassword, err := GetPassword(j, "Enter current password: ")
	if err != nil {
		HandleError(err)
	}
	defer crypto.ClearBytes(currentPassword)

	newPassword, err := journal.ReadPasswordConfirm()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	defer crypto.ClearBytes(newPassword)

	if err := j.ChangePassword(currentPassword, newPassword); err != nil {
		HandleError(err)
	}

	// Keep the keyring copy in step with the new password.
	if journalID != "" && keyring.HasPassword(journalID) {
		if err := keyring.SavePassword(journalID, string(newPassword)); err == nil {
			fmt.Println("Keyring updated with new password")
		}
	}

	// Compact after rewriting every envelope.
	if err := j.Store().Compact(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: compaction failed: %s\n", err)
	}

	fmt.Println("password changed successfully")
}
