// Code execution tool for the reasoning/coding role.
//
// Information Hiding:
// - Interpreter selection hidden
// - Temporary script handling hidden
// - Timeout and output capture hidden

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// maxCodeOutput bounds the combined output returned to the model.
const maxCodeOutput = 16000

// interpreters maps a language to the command that runs a script file.
var interpreters = map[string][]string{
	"python": {"python3"},
	"bash":   {"bash"},
	"sh":     {"sh"},
}

// RunCodeTool executes a short program in a scratch directory.
type RunCodeTool struct {
	BaseTool
	timeoutSecs uint64
	workDir     string
	inheritEnv  bool
}

// NewRunCodeTool creates a new code tool with the given timeout.
func NewRunCodeTool(timeoutSecs uint64) *RunCodeTool {
	return &RunCodeTool{
		timeoutSecs: timeoutSecs,
	}
}

// WithWorkDir sets the directory scripts run in. Defaults to a fresh
// temporary directory per call.
func (t *RunCodeTool) WithWorkDir(dir string) *RunCodeTool {
	t.workDir = dir
	return t
}

// WithInheritEnv passes the parent environment to programs. Otherwise they
// see only PATH, HOME and LANG.
func (t *RunCodeTool) WithInheritEnv(inherit bool) *RunCodeTool {
	t.inheritEnv = inherit
	return t
}

// Metadata returns the tool metadata.
func (t *RunCodeTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "run_code",
		Description: "Execute a python or bash program and return its combined stdout and stderr",
		Parameters: []ToolParameter{
			{Name: "language", ParamType: "string", Description: "python, bash or sh", Required: true},
			{Name: "code", ParamType: "string", Description: "The program source", Required: true},
		},
	}
}

type runCodeArgs struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

// Validate validates the tool arguments.
func (t *RunCodeTool) Validate(args json.RawMessage) error {
	var a runCodeArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(a.Code) == "" {
		return fmt.Errorf("code cannot be empty")
	}
	if _, ok := interpreters[strings.ToLower(a.Language)]; !ok {
		return fmt.Errorf("unsupported language '%s'", a.Language)
	}
	return nil
}

// Execute runs the program.
func (t *RunCodeTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var a runCodeArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return FailureResult(fmt.Errorf("invalid arguments: %w", err)), nil
	}
	interp, ok := interpreters[strings.ToLower(a.Language)]
	if !ok {
		return FailureResultf("validation failed: unsupported language '%s'", a.Language), nil
	}

	dir := t.workDir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "anemoi-code-")
		if err != nil {
			return FailureResult(fmt.Errorf("failed to create scratch dir: %w", err)), nil
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}

	script, err := os.CreateTemp(dir, "script-*")
	if err != nil {
		return FailureResult(fmt.Errorf("failed to create script: %w", err)), nil
	}
	defer os.Remove(script.Name())
	if _, err := script.WriteString(a.Code); err != nil {
		script.Close()
		return FailureResult(fmt.Errorf("failed to write script: %w", err)), nil
	}
	script.Close()

	timeout := time.Duration(t.timeoutSecs) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmdArgs := append(append([]string{}, interp[1:]...), script.Name())
	cmd := exec.CommandContext(ctx, interp[0], cmdArgs...)
	cmd.Dir = dir
	if !t.inheritEnv {
		cmd.Env = scrubbedEnv(dir)
	}
	output, err := cmd.CombinedOutput()

	if ctx.Err() == context.DeadlineExceeded {
		return FailureResultf("program timed out after %d seconds", t.timeoutSecs), nil
	}

	text := string(output)
	if len(text) > maxCodeOutput {
		text = text[:maxCodeOutput] + "\n[output truncated]"
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return FailureResultf("program exited with code %d\noutput: %s", exitErr.ExitCode(), text), nil
		}
		return FailureResult(fmt.Errorf("failed to execute program: %w", err)), nil
	}

	return SuccessResult(text), nil
}

// scrubbedEnv keeps credentials in the parent environment away from
// model-written programs.
func scrubbedEnv(home string) []string {
	env := []string{"HOME=" + home}
	for _, key := range []string{"PATH", "LANG"} {
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}
	return env
}

// Verify RunCodeTool implements Tool
var _ Tool = (*RunCodeTool)(nil)
