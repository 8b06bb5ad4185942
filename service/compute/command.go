package compute

// Command is the payload understood by the exec computation: a list of shell
// commands run in order on the worker's machine.
type Command struct {
	Commands     []string          `json:"commands,omitempty"`     // commands to execute
	Workdir      string            `json:"workdir,omitempty"`      // directory where commands start
	Env          map[string]string `json:"env,omitempty"`          // environment variables set before commands run
	TimeoutMs    int               `json:"timeoutMs,omitempty"`    // max wait before timing out a command
	AbortOnError *bool             `json:"abortOnError,omitempty"` // stop on the first non zero status (default true)
}

// CommandResult represents the result of executing a single command
type CommandResult struct {
	Input  string `json:"input,omitempty"`  // the command that was executed
	Output string `json:"output,omitempty"` // standard output from the command
	Stderr string `json:"stderr,omitempty"` // standard error from the command
	Status int    `json:"status,omitempty"` // exit code of the command
}

// Output represents the results of executing commands
type Output struct {
	Commands []*CommandResult `json:"commands,omitempty"` // results of individual commands
	Stdout   string           `json:"stdout,omitempty"`   // combined standard output from all commands
	Stderr   string           `json:"stderr,omitempty"`   // combined standard error from all commands
	Status   int              `json:"status,omitempty"`   // exit code of the last command executed
}
