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

// BashAdapter implements ShellAdapter for bash shell
type BashAdapter struct {
	cmd          *exec.Cmd
	stdin        io.WriteCloser
	stdout       io.ReadCloser
	stdoutReader *bufio.Reader
	stderrFile   string
	mu           sync.Mutex
}

// NewBashAdapter creates a new bash adapter
func NewBashAdapter() *BashAdapter {
	return &BashAdapter{}
}

// Name returns the shell name
func (a *BashAdapter) Name() string {
	return "bash"
}

// Setup starts bash in workDir with the build binary on PATH
func (a *BashAdapter) Setup(buildBinary, workDir string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Commands are read from stdin; no prompt is printed without -i
	a.cmd = exec.Command("bash", "--norc", "--noprofile")
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
		return fmt.Errorf("failed to start bash: %w", err)
	}

	setupScript := fmt.Sprintf(`
export PATH='%s':$PATH
export NO_COLOR=1
unset BUILD_PLAN BUILD_SHELL
cd '%s'
echo "___SETUP_COMPLETE___"
`, filepath.Dir(buildBinary), workDir)

	if _, err := a.stdin.Write([]byte(setupScript)); err != nil {
		return fmt.Errorf("failed to write setup script: %w", err)
	}

	// Wait for setup to complete
	if err := a.waitForMarker("___SETUP_COMPLETE___"); err != nil {
		return fmt.Errorf("failed to complete setup: %w", err)
	}

	return nil
}

// Execute runs a command in the bash shell
func (a *BashAdapter) Execute(cmd string, args []string) (*Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Build command with markers
	fullCmd := cmd
	if len(args) > 0 {
		quotedArgs := make([]string, len(args))
		for i, arg := range args {
			quotedArgs[i] = "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
		}
		fullCmd = fmt.Sprintf("%s %s", cmd, strings.Join(quotedArgs, " "))
	}

	script := fmt.Sprintf(`
echo "___CMD_START___"
%s </dev/null 2>'%s'
__exit_code=$?
echo
echo "___EXIT_CODE___:$__exit_code"
pwd
echo "___PWD_COMPLETE___"
cat '%s'
echo
echo "___CMD_END___"
`, fullCmd, a.stderrFile, a.stderrFile)

	if _, err := a.stdin.Write([]byte(script)); err != nil {
		return nil, fmt.Errorf("failed to write command: %w", err)
	}

	// Parse output
	result, err := a.parseCommandOutput()
	if err != nil {
		return nil, fmt.Errorf("failed to parse output: %w", err)
	}

	return result, nil
}

// GetPwd returns the current working directory
func (a *BashAdapter) GetPwd() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	script := `
echo "___PWD_START___"
pwd
echo "___PWD_END___"
`

	if _, err := a.stdin.Write([]byte(script)); err != nil {
		return "", fmt.Errorf("failed to write pwd command: %w", err)
	}

	// Read until we find PWD_START
	if err := a.waitForMarker("___PWD_START___"); err != nil {
		return "", err
	}

	// Read the pwd
	pwd, err := a.stdoutReader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read pwd: %w", err)
	}
	pwd = strings.TrimSpace(pwd)

	// Wait for PWD_END
	if err := a.waitForMarker("___PWD_END___"); err != nil {
		return "", err
	}

	return pwd, nil
}

// Cleanup terminates the bash shell
func (a *BashAdapter) Cleanup() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stderrFile != "" {
		_ = os.Remove(a.stderrFile)
	}

	if a.stdin != nil {
		_, _ = a.stdin.Write([]byte("exit\n"))
		a.stdin.Close()
	}

	if a.cmd != nil && a.cmd.Process != nil {
		return a.cmd.Wait()
	}

	return nil
}

// Helper functions

func (a *BashAdapter) waitForMarker(marker string) error {
	_, _, err := readUntil(a.stdoutReader, marker)
	return err
}

func (a *BashAdapter) parseCommandOutput() (*Result, error) {
	return parseMarkedOutput(a.stdoutReader)
}

// readUntil reads lines up to the one holding marker. It returns the text
// before the marker and the rest of the marker's line.
func readUntil(r *bufio.Reader, marker string) (string, string, error) {
	var text strings.Builder
	for {
		line, err := r.ReadString('\n')
		if i := strings.Index(line, marker); i >= 0 {
			text.WriteString(line[:i])
			return text.String(), line[i+len(marker):], nil
		}
		if err != nil {
			return text.String(), "", fmt.Errorf("failed to read line: %w", err)
		}
		text.WriteString(line)
	}
}

// parseMarkedOutput reads one command's output framed by the markers the
// adapters print: stdout, exit code, pwd, then the captured stderr.
func parseMarkedOutput(r *bufio.Reader) (*Result, error) {
	result := &Result{}

	// Wait for CMD_START
	if _, _, err := readUntil(r, "___CMD_START___"); err != nil {
		return nil, err
	}

	stdout, code, err := readUntil(r, "___EXIT_CODE___:")
	if err != nil {
		return nil, fmt.Errorf("failed to read stdout: %w", err)
	}
	// The adapters print a newline before the marker so it starts a line
	stdout = strings.TrimSuffix(stdout, "\n")
	result.Stdout = strings.TrimSuffix(stdout, "\r")

	if _, err := fmt.Sscanf(strings.TrimSpace(code), "%d", &result.ExitCode); err != nil {
		return nil, fmt.Errorf("failed to parse exit code %q: %w", code, err)
	}

	pwd, _, err := readUntil(r, "___PWD_COMPLETE___")
	if err != nil {
		return nil, err
	}
	result.Pwd = strings.TrimSpace(pwd)

	stderr, _, err := readUntil(r, "___CMD_END___")
	if err != nil {
		return nil, err
	}
	result.Stderr = strings.TrimSpace(stderr)

	return result, nil
}
