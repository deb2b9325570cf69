package ipc

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/rpki-client/pkg/log"
)

// Kind names one of four child process roles; the orchestrator spawns
// only KindParser children.
type Kind string

const (
	KindParser Kind = "parser"
	KindRsync  Kind = "rsync"
	KindHTTP   Kind = "http"
	KindRRDP   Kind = "rrdp"
)

// WorkerSubcommand is the hidden cobra subcommand cmd/rpki-client re-execs
// itself under; its sole argument is one of the Kind constants above.
const WorkerSubcommand = "__worker"

// Worker is the orchestrator's handle on one re-exec'd child: a request
// pipe the orchestrator writes to and a response pipe it reads from. Both
// streams are strictly serial request-response, per spec.md's single-
// threaded-per-process concurrency model.
type Worker struct {
	Kind Kind

	cmd       *exec.Cmd
	toChild   *os.File
	fromChild *os.File
	logger    zerolog.Logger
}

// Spawn re-execs the current binary as a Kind worker, wiring its stdin/
// stdout-equivalent request/response pipes as fds 3 and 4 (see
// ChildStreams, called from the re-exec'd side). The orchestrator keeps the
// write end of the request pipe and the read end of the response pipe;
// the child gets the opposite ends via ExtraFiles.
func Spawn(ctx context.Context, kind Kind) (*Worker, error) {
	reqR, reqW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("ipc: spawn %s: request pipe: %w", kind, err)
	}
	respR, respW, err := os.Pipe()
	if err != nil {
		reqR.Close()
		reqW.Close()
		return nil, fmt.Errorf("ipc: spawn %s: response pipe: %w", kind, err)
	}

	exe, err := os.Executable()
	if err != nil {
		reqR.Close()
		reqW.Close()
		respR.Close()
		respW.Close()
		return nil, fmt.Errorf("ipc: spawn %s: resolve executable: %w", kind, err)
	}

	logger := log.WithComponent(fmt.Sprintf("worker-%s", kind))

	cmd := exec.CommandContext(ctx, exe, WorkerSubcommand, string(kind))
	cmd.ExtraFiles = []*os.File{reqR, respW}
	cmd.Stderr = &logWriter{logger: logger}

	if err := cmd.Start(); err != nil {
		reqR.Close()
		reqW.Close()
		respR.Close()
		respW.Close()
		return nil, fmt.Errorf("ipc: spawn %s: start: %w", kind, err)
	}

	// The orchestrator doesn't use the child's ends; only the child's copy
	// (inherited across fork/exec) keeps them open.
	reqR.Close()
	respW.Close()

	return &Worker{
		Kind:      kind,
		cmd:       cmd,
		toChild:   reqW,
		fromChild: respR,
		logger:    logger,
	}, nil
}

// Requests returns the writer the orchestrator sends framed requests on.
func (w *Worker) Requests() *os.File { return w.toChild }

// Responses returns the reader the orchestrator reads framed replies from;
// this is the descriptor an event loop selects readiness on.
func (w *Worker) Responses() *os.File { return w.fromChild }

// Stop closes the request pipe so the child observes EOF and exits on its
// own (spec.md 5: "Workers terminate on EOF of their ingress stream"),
// force-killing it if it doesn't within the grace period.
func (w *Worker) Stop() error {
	if err := w.toChild.Close(); err != nil {
		w.logger.Warn().Err(err).Msg("closing request pipe")
	}

	done := make(chan error, 1)
	go func() { done <- w.cmd.Wait() }()

	select {
	case <-time.After(5 * time.Second):
		w.logger.Warn().Msg("worker did not exit after EOF, killing")
		if err := w.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("ipc: kill %s worker: %w", w.Kind, err)
		}
		<-done
	case err := <-done:
		if err != nil {
			w.logger.Warn().Err(err).Msg("worker exited with error")
		}
	}

	return w.fromChild.Close()
}

// ChildStreams is called from inside a re-exec'd worker process: it
// recovers the request/response pipe ends Spawn passed via ExtraFiles as
// fds 3 and 4.
func ChildStreams() (requests *os.File, responses *os.File) {
	return os.NewFile(3, "ipc-requests"), os.NewFile(4, "ipc-responses")
}

// logWriter adapts a worker's stderr to the orchestrator's structured
// logger, one log line per Write call.
type logWriter struct {
	logger zerolog.Logger
}

func (lw *logWriter) Write(p []byte) (int, error) {
	lw.logger.Warn().Msg(string(p))
	return len(p), nil
}
