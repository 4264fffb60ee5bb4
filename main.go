package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/notelock/notelock/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		runInit(ctx, os.Args[2:])
	case "add":
		runAdd(ctx, os.Args[2:])
	case "show":
		runShow(ctx, os.Args[2:])
	case "edit":
		runEdit(ctx, os.Args[2:])
	case "ls", "list":
		runList(ctx, os.Args[2:])
	case "rm":
		runRm(ctx, os.Args[2:])
	case "diff":
		runDiff(ctx, os.Args[2:])
	case "sync":
		runSync(ctx, os.Args[2:])
	case "status":
		runStatus(ctx, os.Args[2:])
	case "passwd":
		runPasswd(ctx, os.Args[2:])
	case "keyring":
		runKeyring(ctx, os.Args[2:])
	case "compact":
		runCompact(ctx, os.Args[2:])
	case "help", "-h", "--help":
		if len(os.Args) <= 2 {
			printUsage()
			return
		}
		printCommandHelp(os.Args[2])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runInit(_ context.Context, args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	cmd.Init()
}

func runAdd(_ context.Context, args []string) {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	title := fs.String("title", "", "Entry title")
	mood := fs.Int("mood", 0, "Mood rating 1-5")
	tags := fs.String("tags", "", "Comma-separated tag ids")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	if *mood < 0 || *mood > 5 {
		fmt.Fprintln(os.Stderr, "Error: mood must be between 1 and 5")
		os.Exit(1)
	}

	cmd.Add(*title, *mood, splitTags(*tags))
}

func runShow(_ context.Context, args []string) {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: notelock show <id>")
		os.Exit(1)
	}

	cmd.Show(fs.Arg(0))
}

func runEdit(_ context.Context, args []string) {
	fs := flag.NewFlagSet("edit", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: notelock edit <id>")
		os.Exit(1)
	}

	cmd.Edit(fs.Arg(0))
}

func runList(_ context.Context, args []string) {
	fs := flag.NewFlagSet("ls", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	cmd.List()
}

func runRm(_ context.Context, args []string) {
	fs := flag.NewFlagSet("rm", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	cmd.Remove(fs.Args())
}

func runDiff(_ context.Context, args []string) {
	fs := flag.NewFlagSet("diff", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	if fs.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "Usage: notelock diff <id> <file>")
		os.Exit(1)
	}

	cmd.Diff(fs.Arg(0), fs.Arg(1))
}

func runSync(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	server := fs.String("server", "", "Sync server base URL (or NOTELOCK_SERVER)")
	token := fs.String("token", "", "Bearer token (or NOTELOCK_TOKEN)")
	audit := fs.String("audit", "", "Conflict audit log path")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	cmd.Sync(ctx, *server, *token, *audit)
}

func runStatus(_ context.Context, args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	cmd.Status()
}

func runPasswd(_ context.Context, args []string) {
	fs := flag.NewFlagSet("passwd", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	cmd.Passwd()
}

func runKeyring(_ context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: notelock keyring <save|rm|status>")
		os.Exit(1)
	}
	switch args[0] {
	case "save":
		cmd.KeyringSave()
	case "rm", "delete":
		cmd.KeyringDelete()
	case "status":
		cmd.KeyringStatus()
	default:
		fmt.Fprintf(os.Stderr, "Unknown keyring subcommand: %s\n", args[0])
		os.Exit(1)
	}
}

func runCompact(_ context.Context, args []string) {
	fs := flag.NewFlagSet("compact", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	cmd.Compact()
}

func splitTags(tags string) []string {
	if tags == "" {
		return nil
	}
	parts := strings.Split(tags, ",")
	var result []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}

func printUsage() {
	fmt.Println("notelock - Encrypted, offline-first personal journal")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  notelock <command> [arguments]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  init        Create a .notelock journal in current directory")
	fmt.Println("  add         Write a new encrypted entry")
	fmt.Println("  show        Decrypt and print an entry")
	fmt.Println("  edit        Edit an entry in $EDITOR")
	fmt.Println("  ls, list    List entries (no password required)")
	fmt.Println("  rm          Delete entries")
	fmt.Println("  diff        Compare an entry with a local file")
	fmt.Println("  sync        Synchronize with the remote server")
	fmt.Println("  status      Show journal and sync queue status")
	fmt.Println("  passwd      Change the journal password")
	fmt.Println("  keyring     Manage the OS keyring password copy")
	fmt.Println("  compact     Compact the journal database")
	fmt.Println("  help        Show help for a command")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  notelock init                   # Create new journal")
	fmt.Println("  notelock add --title Monday     # Write an entry in $EDITOR")
	fmt.Println("  echo hi | notelock add          # Write an entry from stdin")
	fmt.Println("  notelock sync                   # Push and pull changes")
	fmt.Println()
	fmt.Println("Use 'notelock help <command>' for more information about a command.")
}

func printCommandHelp(command string) {
	switch command {
	case "init":
		fmt.Println("notelock init")
		fmt.Println()
		fmt.Println("Creates a .notelock journal file in the current directory.")
		fmt.Println("Prompts for a password that will be used for encryption.")
		fmt.Println("The password is not stored anywhere - you must remember it,")
		fmt.Println("or save it with 'notelock keyring save'.")
	case "add":
		fmt.Println("notelock add [--title <title>] [--mood <1-5>] [--tags <a,b>]")
		fmt.Println()
		fmt.Println("Writes a new encrypted entry. Content is read from stdin when")
		fmt.Println("piped, otherwise $EDITOR opens.")
		fmt.Println()
		fmt.Println("Flags:")
		fmt.Println("  --title    Optional entry title (encrypted)")
		fmt.Println("  --mood     Mood rating 1-5 (stored in plaintext metadata)")
		fmt.Println("  --tags     Comma-separated tag ids")
	case "show":
		fmt.Println("notelock show <id>")
		fmt.Println()
		fmt.Println("Decrypts and prints one entry. Requires the password.")
	case "edit":
		fmt.Println("notelock edit <id>")
		fmt.Println()
		fmt.Println("Opens the decrypted entry in $EDITOR and saves the result")
		fmt.Println("as an update. The sync queue picks the change up.")
	case "ls", "list":
		fmt.Println("notelock ls")
		fmt.Println()
		fmt.Println("Lists entry metadata: id, date, word count, mood, sync state.")
		fmt.Println("Does not require a password; content stays encrypted.")
	case "rm":
		fmt.Println("notelock rm <id> [id...]")
		fmt.Println()
		fmt.Println("Deletes entries. The entry is tombstoned locally and removed")
		fmt.Println("for good once the remote confirms the delete.")
	case "diff":
		fmt.Println("notelock diff <id> <file>")
		fmt.Println()
		fmt.Println("Shows a unified diff between a stored entry and a local file.")
	case "sync":
		fmt.Println("notelock sync [--server <url>] [--token <token>] [--audit <path>]")
		fmt.Println()
		fmt.Println("Pulls remote changes, reconciles conflicts (last write wins),")
		fmt.Println("and pushes queued local operations. Works on a locked journal:")
		fmt.Println("only ciphertext crosses the wire.")
		fmt.Println()
		fmt.Println("Flags:")
		fmt.Println("  --server   Sync server base URL (or NOTELOCK_SERVER)")
		fmt.Println("  --token    Bearer token (or NOTELOCK_TOKEN)")
		fmt.Println("  --audit    Append resolved conflicts to a JSONL file")
	case "status":
		fmt.Println("notelock status")
		fmt.Println()
		fmt.Println("Shows entry counts, sync queue depth, failed operations and")
		fmt.Println("the last sync watermark. Does not require a password.")
	case "passwd":
		fmt.Println("notelock passwd")
		fmt.Println()
		fmt.Println("Changes the journal password.")
		fmt.Println("Requires both the current and new passwords.")
		fmt.Println("Re-encrypts all entries with the new password.")
	case "keyring":
		fmt.Println("notelock keyring <save|rm|status>")
		fmt.Println()
		fmt.Println("Manages the password copy in the OS keyring.")
		fmt.Println("  save     Verify and store the password")
		fmt.Println("  rm       Remove the stored password")
		fmt.Println("  status   Check whether a password is stored")
	case "compact":
		fmt.Println("notelock compact")
		fmt.Println()
		fmt.Println("Compacts the journal database to reclaim unused disk space.")
		fmt.Println("This is automatically done after 'passwd', but can be run")
		fmt.Println("manually, e.g. after many deletes have been purged.")
		fmt.Println()
		fmt.Println("Does not require a password.")
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
	}
}
