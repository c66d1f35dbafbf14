package engine

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// cliProcess is the shared subprocess plumbing for CLI-backed runtimes.
// It streams stdout lines to a parser callback and mirrors stderr lines
// as log_line events.
type cliProcess struct {
	bin   string
	args  []string
	dir   string
	stdin string
}

// cliLineFunc consumes one stdout line. Returning stop=true terminates
// the invocation early (the process is killed).
type cliLineFunc func(line string, emit func(Event)) (stop bool)

// run executes the process and feeds events into out. It closes out
// after emitting a terminal event. Timeout handling is the caller's via
// ctx; an expired deadline is reported as "timeout reached".
func (p *cliProcess) run(ctx context.Context, runtimeID string, out chan<- Event, onLine cliLineFunc, onExit func(emit func(Event), runErr error)) {
	defer close(out)
	// Streams are single-consumer and fully drained by callers, so plain
	// sends are safe; terminal events must not be dropped on timeout.
	emit := func(ev Event) { out <- ev }

	cmd := exec.CommandContext(ctx, p.bin, p.args...)
	if p.dir != "" {
		cmd.Dir = p.dir
	}
	if p.stdin != "" {
		cmd.Stdin = strings.NewReader(p.stdin)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		emit(errorEvent("start " + p.bin + ": " + err.Error()))
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		emit(errorEvent("start " + p.bin + ": " + err.Error()))
		return
	}
	if err := cmd.Start(); err != nil {
		emit(errorEvent("start " + p.bin + ": " + err.Error()))
		return
	}

	var wg sync.WaitGroup
	var stopped bool
	var mu sync.Mutex

	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			emit(Event{Type: EventLogLine, Stream: "stderr", Line: scanner.Text()})
		}
	}()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		if onLine(scanner.Text(), emit) {
			mu.Lock()
			stopped = true
			mu.Unlock()
			_ = cmd.Process.Kill()
			break
		}
	}
	// Drain remaining stdout so Wait does not block on the pipe.
	_, _ = io.Copy(io.Discard, stdout)
	wg.Wait()
	runErr := cmd.Wait()

	mu.Lock()
	wasStopped := stopped
	mu.Unlock()

	if wasStopped {
		// The line callback already emitted the terminal event.
		return
	}
	if ctx.Err() != nil {
		if ctx.Err() == context.DeadlineExceeded {
			emit(errorEvent("timeout reached"))
		} else {
			emit(errorEvent("invocation cancelled"))
		}
		return
	}
	onExit(emit, runErr)
}

// invokeTimeout applies the per-invocation timeout from params, falling
// back to a generous default.
func invokeTimeout(ctx context.Context, params InvokeParams) (context.Context, context.CancelFunc) {
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return context.WithTimeout(ctx, timeout)
}
