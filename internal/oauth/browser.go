package oauth

import (
	"fmt"
	"os/exec"
	"runtime"
)

// OpenBrowser launches the URL in the user's default browser.
func OpenBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "darwin":
		cmd = exec.Command("open", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}
	// The browser process is not waited on; reaping it is the OS's problem.
	go func() { _ = cmd.Wait() }()
	return nil
}
