package versioning

import (
	"context"
	"fmt"
)

// DVC 封装 dvc 命令行
type DVC struct {
	Bin    string
	Dir    string
	Runner Runner
}

func NewDVC(bin, dir string, r Runner) *DVC {
	if bin == "" {
		bin = "dvc"
	}
	if r == nil {
		r = ExecRunner{}
	}
	return &DVC{Bin: bin, Dir: dir, Runner: r}
}

// Add 对应 `dvc add <path>`，生成或更新 <path>.dvc 指针文件
func (d *DVC) Add(ctx context.Context, path string) error {
	return d.run(ctx, "add", path)
}

// Commit 对应无参数的 `dvc commit`
func (d *DVC) Commit(ctx context.Context) error {
	return d.run(ctx, "commit")
}

// CommitTarget 强制把工作区的改动记入指定指针文件
func (d *DVC) CommitTarget(ctx context.Context, target string) error {
	return d.run(ctx, "commit", "-f", target)
}

// Push 对应无参数的 `dvc push`
func (d *DVC) Push(ctx context.Context) error {
	return d.run(ctx, "push")
}

func (d *DVC) PushTarget(ctx context.Context, target string) error {
	return d.run(ctx, "push", target)
}

func (d *DVC) run(ctx context.Context, args ...string) error {
	if _, err := d.Runner.Run(ctx, d.Dir, d.Bin, args...); err != nil {
		return fmt.Errorf("dvc %s: %w", args[0], err)
	}
	return nil
}
