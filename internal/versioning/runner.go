package versioning

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"strings"
)

// Runner 在指定目录执行一个外部命令，返回合并后的输出
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// CommandError 外部命令启动失败或以非零状态退出
type CommandError struct {
	Name     string
	Args     []string
	ExitCode int // 未能启动时为 -1
	Output   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Name, strings.Join(e.Args, " "), e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + out
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExitCode 取出命令的退出码；不是 CommandError 时返回 -1
func ExitCode(err error) int {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.ExitCode
	}
	return -1
}

// ExecRunner 通过 os/exec 真正执行命令；ctx 取消时子进程会被 kill
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	log.Printf("exec: %s %s", name, strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	out, err := cmd.CombinedOutput()
	if err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return out, &CommandError{
			Name:     name,
			Args:     append([]string(nil), args...),
			ExitCode: code,
			Output:   string(out),
			Err:      err,
		}
	}
	return out, nil
}
