// Package compute provides a ready made computation that fans shell commands
// out to workers. Payloads and outputs are plain structs, so command tasks
// survive serialising transports unchanged.
package compute

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/mrafieir/mpi-fanout/extension"
	"github.com/mrafieir/mpi-fanout/tracing"
	"github.com/viant/gosh"
	"github.com/viant/gosh/runner"
	"github.com/viant/gosh/runner/local"
	"github.com/viant/x"
)

// name is the wire name the computation registers under.
const name = "exec"

// defaultTimeout bounds a single command when the payload does not set one.
const defaultTimeout = time.Minute

// Service executes command payloads through a local shell session. The
// session is created lazily on first use and reused across tasks.
type Service struct {
	mux     sync.Mutex
	session *gosh.Service
}

// New creates a new Service instance
func New() *Service {
	return &Service{}
}

// Name returns the computation wire name.
func (s *Service) Name() string {
	return name
}

// InitTypes registers the command payload types for serialising transports.
func (s *Service) InitTypes(types *extension.Types) {
	types.Register(x.NewType(reflect.TypeOf(Command{}), x.WithName("compute.Command")))
	types.Register(x.NewType(reflect.TypeOf(Output{}), x.WithName("compute.Output")))
}

// Compute runs the commands carried by the payload and returns an *Output.
// A non zero exit status is reported through the output, not as an error, so
// the dispatch policy decides what a failed command means for the run.
func (s *Service) Compute(ctx context.Context, payload interface{}) (interface{}, error) {
	command, err := asCommand(payload)
	if err != nil {
		return nil, err
	}
	session, err := s.getSession(ctx, command.Env)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if command.Workdir != "" {
		if _, _, err := session.Run(ctx, fmt.Sprintf("cd %s", command.Workdir)); err != nil {
			return nil, fmt.Errorf("failed to change directory: %w", err)
		}
	}

	abortOnError := true
	if command.AbortOnError != nil {
		abortOnError = *command.AbortOnError
	}
	timeout := time.Duration(command.TimeoutMs) * time.Millisecond
	if timeout == 0 {
		timeout = defaultTimeout
	}

	output := &Output{}
	var combinedStdout, combinedStderr strings.Builder
	for _, cmd := range command.Commands {
		result := s.executeCommand(ctx, session, cmd, timeout)
		output.Commands = append(output.Commands, result)

		if result.Output != "" {
			combinedStdout.WriteString(result.Output)
			combinedStdout.WriteString("\n")
		}
		if result.Stderr != "" {
			combinedStderr.WriteString(result.Stderr)
			combinedStderr.WriteString("\n")
		}
		output.Status = result.Status

		if abortOnError && result.Status != 0 {
			break
		}
	}
	output.Stdout = strings.TrimSpace(combinedStdout.String())
	output.Stderr = strings.TrimSpace(combinedStderr.String())
	return output, nil
}

// executeCommand runs a single command and returns its output
func (s *Service) executeCommand(ctx context.Context, session *gosh.Service, command string, duration time.Duration) *CommandResult {
	ctx, span := tracing.StartSpan(ctx, fmt.Sprintf("compute.exec %s", command), "INTERNAL")

	started := time.Now()
	stdout, status, err := session.Run(ctx, command, runner.WithTimeout(int(duration.Milliseconds())))
	if elapsed := time.Since(started); elapsed > duration && err == nil {
		err = fmt.Errorf("command %v timed out after: %s", command, elapsed)
	}
	span.SetStatusFromExitCode(status)
	span.OnDone()

	result := &CommandResult{Input: command, Status: status}
	if status == 0 && err == nil {
		result.Output = stdout
		return result
	}
	if stdout == "" && err != nil {
		stdout = err.Error()
	}
	result.Stderr = stdout
	if result.Status == 0 {
		result.Status = 1
	}
	return result
}

// getSession retrieves the shared local session, creating it on first use.
func (s *Service) getSession(ctx context.Context, env map[string]string) (*gosh.Service, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.session != nil {
		return s.session, nil
	}
	envOptions := []runner.Option{}
	if len(env) > 0 {
		envOptions = append(envOptions, runner.WithEnvironment(env))
	}
	session, err := gosh.New(ctx, local.New(envOptions...))
	if err != nil {
		return nil, err
	}
	s.session = session
	return session, nil
}

// Close releases the shell session held by this service.
func (s *Service) Close(ctx context.Context) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.session == nil {
		return nil
	}
	err := s.session.Close()
	s.session = nil
	return err
}

func asCommand(payload interface{}) (*Command, error) {
	switch actual := payload.(type) {
	case *Command:
		return actual, nil
	case Command:
		return &actual, nil
	}
	return nil, fmt.Errorf("unsupported payload %T, expected %T", payload, &Command{})
}
