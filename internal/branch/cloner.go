package branch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// Cloner copies a database's storage to a new path. Treated as atomic by the
// orchestrator even though it may take substantial wall-clock time.
type Cloner interface {
	Clone(ctx context.Context, sourcePath, targetPath string) error
}

// CloneError reports a failed storage clone or ownership fix.
type CloneError struct {
	Source string
	Target string
	Err    error
}

func (e *CloneError) Error() string {
	return fmt.Sprintf("clone %s -> %s: %v", e.Source, e.Target, e.Err)
}

func (e *CloneError) Unwrap() error { return e.Err }

// IsCloneError reports whether err is a CloneError.
func IsCloneError(err error) bool {
	var c *CloneError
	return errors.As(err, &c)
}

// Owner is the file ownership applied to cloned storage.
type Owner struct {
	UID int
	GID int
}

// FileCloner clones a database by copying its file. The copy is cancellable;
// a cancelled or failed copy removes the partial target before returning.
type FileCloner struct {
	// Owner, when set, is applied to the clone after a successful copy.
	Owner *Owner
}

const copyChunk = 1 << 20

// Clone copies sourcePath to targetPath. The target must not already exist.
func (c *FileCloner) Clone(ctx context.Context, sourcePath, targetPath string) error {
	if err := c.clone(ctx, sourcePath, targetPath); err != nil {
		return &CloneError{Source: sourcePath, Target: targetPath, Err: err}
	}
	return nil
}

func (c *FileCloner) clone(ctx context.Context, sourcePath, targetPath string) error {
	src, err := os.Open(sourcePath)
	if err != nil {
		return err
	}
	defer src.Close()

	if _, err := os.Stat(targetPath); err == nil {
		return fmt.Errorf("target %s already exists", targetPath)
	} else if !os.IsNotExist(err) {
		return err
	}

	dst, err := os.OpenFile(targetPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}

	if err := copyCancellable(ctx, dst, src); err != nil {
		dst.Close()
		os.Remove(targetPath)
		return err
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		os.Remove(targetPath)
		return err
	}
	if err := dst.Close(); err != nil {
		os.Remove(targetPath)
		return err
	}

	if c.Owner != nil {
		if err := os.Chown(targetPath, c.Owner.UID, c.Owner.GID); err != nil {
			os.Remove(targetPath)
			return fmt.Errorf("fix ownership: %w", err)
		}
	}
	return nil
}

func copyCancellable(ctx context.Context, dst io.Writer, src io.Reader) error {
	buf := make([]byte, copyChunk)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
