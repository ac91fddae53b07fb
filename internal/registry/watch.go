package registry

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/arung-agamani/djlink/internal/proto"
)

// Watcher auto-attaches archives dropped into a watched directory, named
// "<device>-<slot>.bltm" (e.g. "2-USB.bltm"), so an operator can stage
// archives on disk instead of calling attach_archive by hand.
type Watcher struct {
	fsw      *fsnotify.Watcher
	dir      string
	registry *ArchiveRegistry
}

// NewWatcher starts watching dir for archive files. The directory must
// already exist.
func NewWatcher(dir string, registry *ArchiveRegistry) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create archive directory watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch archive directory %q: %w", dir, err)
	}
	return &Watcher{fsw: fsw, dir: dir, registry: registry}, nil
}

// Run processes filesystem events until ctx is cancelled. It is meant to be
// run in its own goroutine.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.handleEvent(event.Name)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("archive directory watch error", "dir", w.dir, "error", err)
		}
	}
}

func (w *Watcher) handleEvent(path string) {
	slot, ok := parseSlotFromFilename(filepath.Base(path))
	if !ok {
		return
	}
	if err := w.registry.Attach(slot, path); err != nil {
		slog.Warn("failed to auto-attach archive", "path", path, "slot", slot, "error", err)
		return
	}
	slog.Info("auto-attached archive", "path", path, "slot", slot)
}

// parseSlotFromFilename parses "<device>-<slot>.bltm" into a SlotRef.
func parseSlotFromFilename(name string) (proto.SlotRef, bool) {
	name = strings.TrimSuffix(name, filepath.Ext(name))
	parts := strings.SplitN(name, "-", 2)
	if len(parts) != 2 {
		return proto.SlotRef{}, false
	}

	deviceNum, err := strconv.Atoi(parts[0])
	if err != nil || deviceNum < 0 || deviceNum > 255 {
		return proto.SlotRef{}, false
	}

	var slotKind proto.SlotKind
	switch strings.ToUpper(parts[1]) {
	case "USB":
		slotKind = proto.SlotUSB
	case "SD":
		slotKind = proto.SlotSD
	default:
		return proto.SlotRef{}, false
	}

	return proto.SlotRef{Device: proto.DeviceID(deviceNum), Slot: slotKind}, true
}
