package journal

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

// getEditor returns the editor to use, checking environment variables
// with a platform fallback.
func getEditor() string {
	if editor := os.Getenv("VISUAL"); editor != "" {
		return editor
	}
	if editor := os.Getenv("EDITOR"); editor != "" {
		return editor
	}
	if runtime.GOOS == "windows" {
		return "notepad"
	}
	return "vi"
}

// EditContent writes content to a temp file, opens it in the user's
// editor and returns the edited result. The temp file is removed
// afterwards; its lifetime is the only moment plaintext touches disk.
func EditContent(content []byte) ([]byte, error) {
	tmpFile, err := os.CreateTemp("", "notelock-entry-*.md")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmpFile.Name())

	if err := os.Chmod(tmpFile.Name(), 0600); err != nil {
		tmpFile.Close()
		return nil, fmt.Errorf("failed to set temp file permissions: %w", err)
	}
	if _, err := tmpFile.Write(content); err != nil {
		tmpFile.Close()
		return nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := invokeEditor(tmpFile.Name()); err != nil {
		return nil, err
	}

	edited, err := os.ReadFile(tmpFile.Name())
	if err != nil {
		return nil, fmt.Errorf("failed to read edited file: %w", err)
	}
	return edited, nil
}

// invokeEditor opens the specified editor and waits for it to finish.
func invokeEditor(filename string) error {
	editor := getEditor()

	if _, err := exec.LookPath(editor); err != nil {
		return fmt.Errorf("editor '%s' not found: %w\nPlease set VISUAL or EDITOR environment variable", editor, err)
	}

	cmd := exec.Command(editor, filename)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}
	exitErr, ok := err.(*exec.ExitError)
	if ok {
		return fmt.Errorf("editor exited with code %d", exitErr.ExitCode())
	}
	return err
}
