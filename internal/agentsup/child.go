package agentsup

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/tabbroker/tabbroker/internal/logging"
)

// ChildConfig parametrizes the spawned assistant subprocess.
type ChildConfig struct {
	Binary        string
	WorkingDir    string
	ToolWhitelist []string
}

// child wraps a single running assistant subprocess: its stdin for live
// injection, and background goroutines piping its stdout/stderr.
type child struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	stderrMu  sync.Mutex
	stderrBuf bytes.Buffer

	done     chan struct{}
	killOnce sync.Once
	log      *logging.Logger
}

// spawnChild starts the assistant binary with the subprocess contract in
// §6: a working-directory scoping flag, a tool-whitelist flag, a
// streaming-JSON input/output declaration, and a non-interactive
// permission mode. onLine is called for every stdout line; onExit once
// the process exits (successfully or not).
func spawnChild(cfg ChildConfig, log *logging.Logger, onLine func(string), onExit func(exitCode int, stderrTail string)) (*child, error) {
	args := []string{
		"--cwd", cfg.WorkingDir,
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--permission-mode", "bypassPermissions",
	}
	if len(cfg.ToolWhitelist) > 0 {
		args = append(args, "--allowed-tools", strings.Join(cfg.ToolWhitelist, ","))
	}

	cmd := exec.Command(cfg.Binary, args...)
	cmd.Dir = cfg.WorkingDir
	cmd.Env = childEnv(cfg.Binary)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Pdeathsig: syscall.SIGTERM,
		Setpgid:   true,
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting agent subprocess: %w", err)
	}

	c := &child{
		cmd:   cmd,
		stdin: stdin,
		done:  make(chan struct{}),
		log:   log,
	}

	go c.readLoop(stdout, onLine)
	go c.drainStderr(stderr)
	go c.monitorExit(onExit)

	return c, nil
}

// childEnv builds the subprocess environment (§4.G/§6): the server
// process's own environment, plus the sidecar CLI binary's own directory
// prepended to PATH so the child can exec it by bare name regardless of
// whether the caller configured an absolute path.
func childEnv(binary string) []string {
	env := os.Environ()
	dir := filepath.Dir(binary)
	if dir == "." {
		return env
	}
	for i, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			env[i] = "PATH=" + dir + string(os.PathListSeparator) + strings.TrimPrefix(kv, "PATH=")
			return env
		}
	}
	return append(env, "PATH="+dir)
}

// readLoop scans stdout line by line, handing each to onLine. Buffer is
// enlarged to tolerate large tool-result payloads.
func (c *child) readLoop(r io.ReadCloser, onLine func(string)) {
	defer r.Close()

	scanner := bufio.NewScanner(r)
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		onLine(line)
	}
	if err := scanner.Err(); err != nil {
		c.log.Debug("agent stdout scanner error", zap.Error(err))
	}
}

func (c *child) drainStderr(r io.ReadCloser) {
	defer r.Close()
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		c.stderrMu.Lock()
		c.stderrBuf.WriteString(scanner.Text())
		c.stderrBuf.WriteByte('\n')
		c.stderrMu.Unlock()
	}
}

func (c *child) monitorExit(onExit func(exitCode int, stderrTail string)) {
	err := c.cmd.Wait()
	close(c.done)

	exitCode := 0
	if c.cmd.ProcessState != nil {
		exitCode = c.cmd.ProcessState.ExitCode()
	} else if err != nil {
		exitCode = 1
	}

	c.stderrMu.Lock()
	tail := c.stderrBuf.String()
	c.stderrMu.Unlock()

	onExit(exitCode, tail)
}

// sendLine writes one JSON-encoded line to the child's stdin.
func (c *child) sendLine(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = c.stdin.Write(data)
	return err
}

// userInputFrame is what the subprocess contract expects on stdin (§6).
type userInputFrame struct {
	Type    string         `json:"type"`
	Message userInputBody  `json:"message"`
}

type userInputBody struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (c *child) sendUserMessage(text string) error {
	return c.sendLine(userInputFrame{
		Type:    "user",
		Message: userInputBody{Role: "user", Content: text},
	})
}

// interrupt sends a graceful stop signal to the child's process group. It
// does not wait for the child to die; the caller clears its handle and
// marks the session idle immediately (§4.G interrupt semantics).
func (c *child) interrupt() {
	c.killOnce.Do(func() {
		if c.cmd.Process == nil {
			return
		}
		_ = syscall.Kill(-c.cmd.Process.Pid, syscall.SIGTERM)
	})
}

// Done reports when the child has exited.
func (c *child) Done() <-chan struct{} {
	return c.done
}
