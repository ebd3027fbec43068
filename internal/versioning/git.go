package versioning

import (
	"context"
	"fmt"
)

// Git 封装 git 命令行
type Git struct {
	Bin    string
	Dir    string
	Runner Runner
}

func NewGit(bin, dir string, r Runner) *Git {
	if bin == "" {
		bin = "git"
	}
	if r == nil {
		r = ExecRunner{}
	}
	return &Git{Bin: bin, Dir: dir, Runner: r}
}

func (g *Git) Add(ctx context.Context, path string) error {
	return g.run(ctx, "add", path)
}

// HasStagedChanges 用 `git diff --cached --quiet` 判断暂存区是否有改动：
// 退出码 0 表示没有，1 表示有，其余视为错误
func (g *Git) HasStagedChanges(ctx context.Context) (bool, error) {
	_, err := g.Runner.Run(ctx, g.Dir, g.Bin, "diff", "--cached", "--quiet")
	if err == nil {
		return false, nil
	}
	if ExitCode(err) == 1 {
		return true, nil
	}
	return false, fmt.Errorf("git diff: %w", err)
}

func (g *Git) Commit(ctx context.Context, message string) error {
	return g.run(ctx, "commit", "-m", message)
}

func (g *Git) Push(ctx context.Context, remote, branch string) error {
	return g.run(ctx, "push", remote, branch)
}

func (g *Git) run(ctx context.Context, args ...string) error {
	if _, err := g.Runner.Run(ctx, g.Dir, g.Bin, args...); err != nil {
		return fmt.Errorf("git %s: %w", args[0], err)
	}
	return nil
}
