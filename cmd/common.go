package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/notelock/notelock/internal/crypto"
	"github.com/notelock/notelock/internal/journal"
	"github.com/notelock/notelock/internal/keyring"
	"github.com/notelock/notelock/internal/vault"
)

// JournalFile is the database file in the current directory. Override
// with the NOTELOCK_JOURNAL environment variable.
const JournalFile = ".notelock"

func journalPath() string {
	if path := os.Getenv("NOTELOCK_JOURNAL"); path != "" {
		return path
	}
	return JournalFile
}

func openJournal() *journal.Journal {
	j, err := journal.Open(journalPath(), journal.Options{})
	if err != nil {
		HandleError(err)
	}
	return j
}

// GetPassword retrieves the password from the environment, the OS
// keyring, or a prompt, in that order. The caller clears the result.
func GetPassword(j *journal.Journal, prompt string) ([]byte, error) {
	if password := journal.GetPasswordFromEnv(); password != nil {
		return password, nil
	}

	if journalID, err := j.Store().GetOrCreateJournalID(); err == nil {
		if stored, err := keyring.GetPassword(journalID); err == nil {
			return []byte(stored), nil
		}
	}

	return journal.ReadPassword(prompt)
}

// UnlockOrExit unlocks the journal, falling back to a fresh prompt when
// a keyring-stored password has gone stale.
func UnlockOrExit(j *journal.Journal) {
	password, err := GetPassword(j, "Enter password: ")
	if err != nil {
		HandleError(err)
	}
	defer crypto.ClearBytes(password)

	err = j.Unlock(password)
	if errors.Is(err, vault.ErrInvalidPassword) && journal.GetPasswordFromEnv() == nil {
		// The keyring copy may be stale; ask directly once.
		prompted, perr := journal.ReadPassword("Enter password: ")
		if perr != nil {
			HandleError(perr)
		}
		defer crypto.ClearBytes(prompted)
		err = j.Unlock(prompted)
	}
	if err != nil {
		HandleError(err)
	}
}

// HandleError handles common errors consistently
func HandleError(err error) {
	switch {
	case errors.Is(err, journal.ErrNotInitialized):
		fmt.Fprintf(os.Stderr, "Error: notelock not initialized\n")
		fmt.Fprintf(os.Stderr, "Run 'notelock init' first\n")
	case errors.Is(err, journal.ErrAlreadyExists):
		fmt.Fprintf(os.Stderr, "Error: %s already exists in this directory\n", JournalFile)
		fmt.Fprintf(os.Stderr, "Use 'notelock status' to see current state\n")
	case errors.Is(err, vault.ErrInvalidPassword):
		fmt.Fprintf(os.Stderr, "Error: invalid password\n")
	default:
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	}
	os.Exit(1)
}

func formatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
