package ipc

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// SocketCommand prints the IPC socket path of the running window manager.
var SocketCommand = []string{"i3", "--get-socketpath"}

// SocketPath resolves the window manager socket. An explicit override wins,
// then $I3SOCK, then $SWAYSOCK, then the output of SocketCommand.
func SocketPath(ctx context.Context, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	for _, env := range []string{"I3SOCK", "SWAYSOCK"} {
		if path := os.Getenv(env); path != "" {
			return path, nil
		}
	}
	if len(SocketCommand) == 0 {
		return "", fmt.Errorf("%w: no socket path configured", ErrConnect)
	}
	cmd := exec.CommandContext(ctx, SocketCommand[0], SocketCommand[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: %s: %v: %s", ErrConnect, strings.Join(SocketCommand, " "), err, strings.TrimSpace(stderr.String()))
	}
	path := strings.TrimSpace(stdout.String())
	if path == "" {
		return "", fmt.Errorf("%w: %s printed no socket path", ErrConnect, strings.Join(SocketCommand, " "))
	}
	return path, nil
}
