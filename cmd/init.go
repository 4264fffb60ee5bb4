package cmd

import (
	"fmt"
	"os"

	"github.com/notelock/notelock/internal/crypto"
	"github.com/notelock/notelock/internal/journal"
)

// Init creates a new journal in the current directory
func Init() {
	// Read password (env var or prompt with confirmation)
	password := journal.GetPasswordFromEnv()
	if password == nil {
		var err error
		password, err = journal.ReadPasswordConfirm()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
	}
	defer crypto.ClearBytes(password)

	j, err := journal.Create(journalPath(), password, journal.Options{})
	if err != nil {
		HandleError(err)
	}
	defer j.Close()

	fmt.Printf("✓ Initialized %s\n", journalPath())
}
