package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/notelock/notelock/internal/syncer"
)

// Sync runs one pull-reconcile-drain cycle against the remote server.
// Works on a locked journal: sync moves ciphertext, never plaintext.
func Sync(ctx context.Context, server, token, auditPath string) {
	if server == "" {
		server = os.Getenv("NOTELOCK_SERVER")
	}
	if token == "" {
		token = os.Getenv("NOTELOCK_TOKEN")
	}
	if server == "" {
		fmt.Fprintf(os.Stderr, "Error: no sync server configured\n")
		fmt.Fprintf(os.Stderr, "Pass --server or set NOTELOCK_SERVER\n")
		os.Exit(1)
	}

	j := openJournal()
	defer j.Close()

	var audit *syncer.AuditLog
	if auditPath != "" {
		audit = syncer.NewAuditLog(auditPath)
	}

	coordinator := syncer.New(syncer.Config{
		Store:     j.Store(),
		Transport: syncer.NewHTTPTransport(server, token),
		Audit:     audit,
	})

	status, err := coordinator.Sync(ctx)
	if status != nil {
		printSyncStatus(status)
	}
	if err != nil {
		HandleError(err)
	}
}

func printSyncStatus(status *syncer.Status) {
	fmt.Printf("Pulled %d, applied %d, pushed %d\n", status.Pulled, status.Applied, status.Pushed)
	if status.Retried > 0 {
		fmt.Printf("Retries scheduled: %d\n", status.Retried)
	}
	if status.Failed > 0 {
		fmt.Printf("Failed permanently: %d (see 'notelock status')\n", status.Failed)
	}
	for _, c := range status.Conflicts {
		fmt.Printf("Conflict on %s: kept %s version\n", c.RecordID, c.Winner)
	}
}
