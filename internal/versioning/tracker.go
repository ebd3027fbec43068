package versioning

import (
	"context"
	"log"
)

// Tracker 负责 CSV 的版本记录：dvc add → git add/commit/push → dvc commit/push
type Tracker struct {
	DVC *DVC
	Git *Git

	Remote  string
	Branch  string
	Message string

	// SkipEmptyCommit 为 true 时暂存区无改动就不提交，重试时不会因 "nothing to commit" 失败
	SkipEmptyCommit bool
}

// Snapshot 把数据文件交给 dvc 管理
func (t *Tracker) Snapshot(ctx context.Context, dataPath string) error {
	if err := t.DVC.Add(ctx, dataPath); err != nil {
		return err
	}
	log.Printf("data added with dvc: %s", dataPath)
	return nil
}

// CommitPointer 提交并推送 dvc 生成的指针文件，任一步失败立即返回，不回滚
func (t *Tracker) CommitPointer(ctx context.Context, pointerPath string) error {
	if err := t.Git.Add(ctx, pointerPath); err != nil {
		return err
	}

	commit := true
	if t.SkipEmptyCommit {
		staged, err := t.Git.HasStagedChanges(ctx)
		if err != nil {
			return err
		}
		if !staged {
			log.Printf("no staged changes for %s, skip commit", pointerPath)
			commit = false
		}
	}
	if commit {
		if err := t.Git.Commit(ctx, t.Message); err != nil {
			return err
		}
	}

	if err := t.Git.Push(ctx, t.Remote, t.Branch); err != nil {
		return err
	}
	log.Printf("dvc pointer pushed to %s/%s", t.Remote, t.Branch)
	return nil
}

// Sync 把 dvc 跟踪的数据推到远端存储
func (t *Tracker) Sync(ctx context.Context) error {
	if err := t.DVC.Commit(ctx); err != nil {
		return err
	}
	if err := t.DVC.Push(ctx); err != nil {
		return err
	}
	log.Println("data pushed to dvc remote")
	return nil
}
