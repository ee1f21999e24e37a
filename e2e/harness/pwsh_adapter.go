//go:build windows

package harness

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// PwshAdapter implements ShellAdapter for PowerShell
type PwshAdapter struct {
	cmd          *exec.Cmd
	stdin        io.WriteCloser
	stdout       io.ReadCloser
	stdoutReader *bufio.Reader
	stderrFile   string
	mu           sync.Mutex
}

// NewPwshAdapter creates a new PowerShell adapter
func NewPwshAdapter() *PwshAdapter {
	return &PwshAdapter{}
}

// Name returns the shell name
func (a *PwshAdapter) Name() string {
	return "pwsh"
}

// Setup starts PowerShell in workDir with the build binary on PATH
func (a *PwshAdapter) Setup(buildBinary, workDir string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Start PowerShell with no profile, reading commands from stdin
	a.cmd = exec.Command("pwsh", "-NoProfile", "-NoLogo", "-NonInteractive", "-Command", "-")
	a.cmd.Stderr = io.Discard

	// Setup pipes
	stdin, err := a.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	a.stdin = stdin

	stdout, err := a.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	a.stdout = stdout
	a.stdoutReader = bufio.NewReader(stdout)

	// Command stderr is redirected here and read back after each command
	f, err := os.CreateTemp("", "build-e2e-stderr-")
	if err != nil {
		return fmt.Errorf("failed to create stderr file: %w", err)
	}
	a.stderrFile = f.Name()
	f.Close()

	// Start the shell
	if err := a.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start pwsh: %w", err)
	}

	setupScript := fmt.Sprintf(`
$env:PATH = '%s;' + $env:PATH
$env:NO_COLOR = '1'
Remove-Item Env:BUILD_PLAN -ErrorAction SilentlyContinue
Remove-Item Env:BUILD_SHELL -ErrorAction SilentlyContinue
Set-Location '%s'
Write-Output "___SETUP_COMPLETE___"
`, filepath.Dir(buildBinary), workDir)

	if _, err := a.stdin.Write([]byte(setupScript)); err != nil {
		return fmt.Errorf("failed to write setup script: %w", err)
	}

	// Wait for setup to complete
	if _, _, err := readUntil(a.stdoutReader, "___SETUP_COMPLETE___"); err != nil {
		return fmt.Errorf("failed to complete setup: %w", err)
	}

	return nil
}

// Execute runs a command in the PowerShell shell
func (a *PwshAdapter) Execute(cmd string, args []string) (*Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Build command with markers
	fullCmd := cmd
	if len(args) > 0 {
		// Quote arguments for PowerShell
		quotedArgs := make([]string, len(args))
		for i, arg := range args {
			quotedArgs[i] = "'" + strings.ReplaceAll(arg, "'", "''") + "'"
		}
		fullCmd = fmt.Sprintf("%s %s", cmd, strings.Join(quotedArgs, " "))
	}

	script := fmt.Sprintf(`
Write-Output "___CMD_START___"; & %s 2> '%s'; $__exit_code = $LASTEXITCODE; Write-Output ""; Write-Output "___EXIT_CODE___:$__exit_code"; Write-Output (Get-Location).Path; Write-Output "___PWD_COMPLETE___"; Get-Content -Raw '%s' -ErrorAction SilentlyContinue; Write-Output ""; Write-Output "___CMD_END___"
`, fullCmd, a.stderrFile, a.stderrFile)

	if _, err := a.stdin.Write([]byte(script)); err != nil {
		return nil, fmt.Errorf("failed to write command: %w", err)
	}

	// Parse output
	result, err := parseMarkedOutput(a.stdoutReader)
	if err != nil {
		return nil, fmt.Errorf("failed to parse output: %w", err)
	}

	return result, nil
}

// GetPwd returns the current working directory
func (a *PwshAdapter) GetPwd() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	script := `
Write-Output "___PWD_START___"; Write-Output (Get-Location).Path; Write-Output "___PWD_END___"
`

	if _, err := a.stdin.Write([]byte(script)); err != nil {
		return "", fmt.Errorf("failed to write pwd command: %w", err)
	}

	if _, _, err := readUntil(a.stdoutReader, "___PWD_START___"); err != nil {
		return "", err
	}
	pwd, _, err := readUntil(a.stdoutReader, "___PWD_END___")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(pwd), nil
}

// Cleanup terminates the PowerShell shell
func (a *PwshAdapter) Cleanup() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stdin != nil {
		_, _ = a.stdin.Write([]byte("exit\n"))
		a.stdin.Close()
	}

	var err error
	if a.cmd != nil && a.cmd.Process != nil {
		err = a.cmd.Wait()
	}
	if a.stderrFile != "" {
		_ = os.Remove(a.stderrFile)
	}
	return err
}
