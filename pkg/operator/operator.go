// Package operator applies a single backup item: a file or directory copy, or
// a registry export/import.
package operator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/paulschiretz/pgl-appsave/pkg/plog"
	"github.com/paulschiretz/pgl-appsave/pkg/plugin"
	"github.com/paulschiretz/pgl-appsave/pkg/registry"
	"github.com/paulschiretz/pgl-appsave/pkg/task"
)

// Copier is the OS copy primitive.
type Copier interface {
	Copy(ctx context.Context, src, dst string, excludes []*regexp.Regexp) (int64, error)
}

// Outcome is the result of a successful Apply.
type Outcome struct {
	SizeBytes int64
}

// ItemOperator performs the I/O of one item.
type ItemOperator struct {
	copier   Copier
	registry registry.Registry
	dryRun   bool
}

// New creates an ItemOperator. In dry-run mode every operation is logged and skipped.
func New(copier Copier, reg registry.Registry, dryRun bool) *ItemOperator {
	return &ItemOperator{copier: copier, registry: reg, dryRun: dryRun}
}

// Apply performs item in the direction given by execType. src and dst are
// already resolved: for a registry backup src is the key and dst the .reg
// file; for a registry restore src is the .reg file and dst is unused because
// the file encodes the key location.
//
// The context is checked once before any I/O; directory copies also poll it
// between entries. Failures are returned as *task.OperationError, a
// cancellation as task.ErrCancelled.
func (o *ItemOperator) Apply(ctx context.Context, execType task.ExecType, src, dst string, item plugin.BackupItemConfig) (Outcome, error) {
	select {
	case <-ctx.Done():
		return Outcome{}, task.ErrCancelled
	default:
	}

	op := opName(execType, item.Kind)
	if o.dryRun {
		plog.Notice("[DRY RUN] "+op, "source", src, "target", dst)
		return Outcome{}, nil
	}

	var n int64
	var err error
	switch item.Kind {
	case plugin.Registry:
		if execType == task.Backup {
			n, err = o.registry.ExportKey(ctx, src, dst)
		} else {
			n, err = o.registry.ImportKey(ctx, src)
		}
	case plugin.File:
		if err = expectFile(src); err == nil {
			n, err = o.copier.Copy(ctx, src, dst, nil)
		}
	case plugin.Directory:
		if err = expectDir(src); err == nil {
			n, err = o.copier.Copy(ctx, src, dst, item.ExcludePatterns)
		}
	default:
		err = fmt.Errorf("unsupported item kind %q", item.Kind)
	}

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, task.ErrCancelled) {
			return Outcome{}, task.ErrCancelled
		}
		return Outcome{}, &task.OperationError{Op: op, Path: src, Err: err}
	}
	plog.Notice(op, "source", src, "target", dst, "bytes", n)
	return Outcome{SizeBytes: n}, nil
}

func opName(execType task.ExecType, kind plugin.ItemKind) string {
	if kind != plugin.Registry {
		return "COPY"
	}
	if execType == task.Backup {
		return "EXPORT"
	}
	return "IMPORT"
}

func expectFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory, expected a file", path)
	}
	return nil
}

func expectDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is a file, expected a directory", path)
	}
	return nil
}
