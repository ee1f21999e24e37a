//go:build !windows

package scenarios

import "github.com/vojkodrev/build/e2e/harness"

// createShellAdapter creates a platform-specific shell adapter
func createShellAdapter(name string) harness.ShellAdapter {
	switch name {
	case "bash":
		return harness.NewBashAdapter()
	default:
		return nil
	}
}
