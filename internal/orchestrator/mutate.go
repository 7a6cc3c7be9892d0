package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/gluk-w/filessh/internal/logutil"
	"github.com/gluk-w/filessh/internal/remotefs"
	"github.com/gluk-w/filessh/internal/sshaudit"
)

// DeleteEntry removes a file, symlink or whole directory tree. entry.Path
// must be absolute (or relative to the remote home).
func (o *Orchestrator) DeleteEntry(ctx context.Context, entry remotefs.Entry) error {
	start := time.Now()
	target := entry.Path
	if target == "" {
		target = entry.Name
	}
	if target == "" {
		return errors.New("delete: entry has no path")
	}

	removed, err := o.deleteEntry(ctx, target, entry)
	o.record(sshaudit.AuditEntry{
		OperationID: uuid.NewString(),
		EventType:   sshaudit.EventDelete,
		Path:        target,
		Status:      statusOf(err),
		Details:     errString(err),
		Files:       removed,
	}, start)
	if err != nil {
		return err
	}
	log.Printf("[orchestrator] deleted %s (%d entries)", logutil.SanitizeForLog(target), removed)
	return nil
}

func (o *Orchestrator) deleteEntry(ctx context.Context, target string, entry remotefs.Entry) (int, error) {
	ch, err := o.src.AcquireChannel(ctx)
	if err != nil {
		return 0, err
	}
	defer ch.Close()

	switch {
	case entry.IsFile(), entry.IsSymlink():
		if err := ch.Remove(target); err != nil {
			return 0, fmt.Errorf("remove %s: %w", target, err)
		}
		return 1, nil
	case entry.IsDir():
		return deleteTree(ctx, ch, target)
	default:
		return 0, fmt.Errorf("delete %s: unsupported entry type %s", target, entry.Kind)
	}
}

// deleteTree removes root and everything below it. Directories are listed
// from an explicit stack; files go as soon as they are seen and directories
// are removed deepest first once nothing is left to list. It returns the
// number of entries removed.
func deleteTree(ctx context.Context, ch remotefs.Channel, root string) (int, error) {
	pending := []string{root}
	var dirs []string
	removed := 0

	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return removed, remotefs.NewError(remotefs.KindCanceled, "delete", root, err)
		}
		dir := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		dirs = append(dirs, dir)

		entries, err := ch.ReadDir(dir)
		if err != nil {
			return removed, remotefs.NewError(remotefs.KindListing, "readdir", dir, err)
		}
		for _, e := range entries {
			p := remotefs.Join(dir, e.Name)
			if e.IsDir() {
				pending = append(pending, p)
				continue
			}
			if err := ch.Remove(p); err != nil {
				return removed, fmt.Errorf("remove %s: %w", p, err)
			}
			removed++
		}
	}

	// Every directory is recorded after its parent, so walking the list
	// backwards removes children first.
	for i := len(dirs) - 1; i >= 0; i-- {
		if err := ch.RemoveDirectory(dirs[i]); err != nil {
			return removed, fmt.Errorf("remove directory %s: %w", dirs[i], err)
		}
		removed++
	}
	return removed, nil
}

// MoveEntry renames oldPath to newPath with a single rename call. The
// destination is canonicalized when the server can resolve it.
func (o *Orchestrator) MoveEntry(ctx context.Context, oldPath, newPath string) error {
	start := time.Now()
	dst := o.canonicalize(ctx, newPath)

	err := o.move(ctx, oldPath, dst)
	o.record(sshaudit.AuditEntry{
		OperationID: uuid.NewString(),
		EventType:   sshaudit.EventMove,
		Path:        oldPath,
		Target:      dst,
		Status:      statusOf(err),
		Details:     errString(err),
	}, start)
	if err != nil {
		return err
	}
	log.Printf("[orchestrator] moved %s to %s", logutil.SanitizeForLog(oldPath), logutil.SanitizeForLog(dst))
	return nil
}

func (o *Orchestrator) move(ctx context.Context, oldPath, newPath string) error {
	ch, err := o.src.AcquireChannel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()
	if err := ch.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("rename %s to %s: %w", oldPath, newPath, err)
	}
	return nil
}

// Rename moves entry, listed in cwd, to newName. A relative newName is
// taken relative to cwd.
func (o *Orchestrator) Rename(ctx context.Context, cwd string, entry remotefs.Entry, newName string) error {
	if newName == "" {
		return errors.New("rename: new name is empty")
	}
	oldPath := entry.Path
	if oldPath == "" {
		oldPath = remotefs.Join(cwd, entry.Name)
	}
	newPath := newName
	if !path.IsAbs(newName) {
		newPath = remotefs.Join(cwd, newName)
	}
	return o.MoveEntry(ctx, oldPath, newPath)
}
