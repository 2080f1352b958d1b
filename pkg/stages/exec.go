// Package stages provides subprocess-backed implementations of the four
// pipeline stage collaborators. Each stage is an external command invoked
// with exec.CommandContext so that cancelling the job context kills the
// subprocess — including the video renderer mid-frame. Stage progress is
// read from stdout using a line protocol:
//
//	PROGRESS <done> <total> <message...>
//
// Any other stdout line is ignored; stderr is captured for the error
// summary on a non-zero exit.
package stages

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/blogcast/blogcast/pkg/pipeline"
)

// progressPrefix marks a stage progress line on stdout.
const progressPrefix = "PROGRESS "

// runCommand executes one stage binary, streaming PROGRESS lines to cb.
func runCommand(ctx context.Context, command string, args []string, cb pipeline.ProgressFunc) error {
	if command == "" {
		return fmt.Errorf("stage command not configured")
	}

	cmd := exec.CommandContext(ctx, command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("attach stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", command, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if done, total, msg, ok := parseProgressLine(scanner.Text()); ok && cb != nil {
			cb(done, total, msg)
		}
	}
	if scanErr := scanner.Err(); scanErr != nil {
		// A line past the buffer cap (or a read error) stops the scanner
		// with the pipe still open. Keep draining so the subprocess never
		// blocks writing stdout; progress reporting just goes quiet.
		io.Copy(io.Discard, stdout) //nolint:errcheck
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w: %s", command, err, firstLine(stderr.String()))
	}
	return nil
}

// parseProgressLine decodes "PROGRESS <done> <total> <message...>".
func parseProgressLine(line string) (done, total int, message string, ok bool) {
	if !strings.HasPrefix(line, progressPrefix) {
		return 0, 0, "", false
	}
	fields := strings.SplitN(strings.TrimPrefix(line, progressPrefix), " ", 3)
	if len(fields) < 2 {
		return 0, 0, "", false
	}
	done, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, "", false
	}
	total, err = strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, "", false
	}
	if len(fields) == 3 {
		message = strings.TrimSpace(fields[2])
	}
	return done, total, message, true
}

// firstLine reduces subprocess stderr to a one-line error summary.
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return "no error output"
	}
	return s
}
