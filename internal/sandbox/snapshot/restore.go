package snapshot

import (
	"time"

	"github.com/GriffinCanCode/envsandbox/internal/sandbox"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox/proxylog"
)

// Sandbox is the part of a sandbox manager snapshots read and rebuild.
type Sandbox interface {
	LoadedEnvFiles() []string
	Undefined(f proxylog.Filter) []proxylog.UndefinedEntry
	Reset() error
	LoadEnvFiles(ids ...string) ([]sandbox.LoadResult, error)
	RestoreUndefined(entries []proxylog.UndefinedEntry) int
}

// Capture describes sb under name.
func Capture(name string, sb Sandbox) Snapshot {
	return Snapshot{
		Name:           name,
		CreatedAt:      time.Now().UTC(),
		LoadedEnvFiles: sb.LoadedEnvFiles(),
		UndefinedLogs:  sb.Undefined(proxylog.Filter{}),
	}
}

// Restored reports what Restore did.
type Restored struct {
	Snapshot  Snapshot             `json:"snapshot"`
	Results   []sandbox.LoadResult `json:"results"`
	Undefined int                  `json:"restoredUndefined"`
}

// Restore resets sb, loads the snapshot's modules in their recorded order
// and re-adds its undefined entries with their fix state. A module that
// fails to load is reported in the results.
func Restore(sb Sandbox, snap Snapshot) (Restored, error) {
	out := Restored{Snapshot: snap}
	if err := sb.Reset(); err != nil {
		return out, err
	}
	res, err := sb.LoadEnvFiles(snap.LoadedEnvFiles...)
	out.Results = res
	if err != nil {
		return out, err
	}
	out.Undefined = sb.RestoreUndefined(snap.UndefinedLogs)
	return out, nil
}
