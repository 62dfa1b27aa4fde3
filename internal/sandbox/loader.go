package sandbox

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/envsandbox/internal/envstubs"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox/proxylog"
)

// LoadAllEnvFiles loads every catalogue module in category order. A module
// that fails is reported and the rest still load; the error is non-nil only
// when the catalogue itself cannot be read or the sandbox is unusable.
func (m *Manager) LoadAllEnvFiles() ([]LoadResult, error) {
	if err := m.ensureReady(); err != nil {
		return nil, err
	}
	if m.catalogue == nil {
		return []LoadResult{}, nil
	}
	mods, err := m.catalogue.Modules()
	if err != nil {
		return nil, err
	}
	return m.loadModules(mods), nil
}

// LoadEnvFiles loads the named modules in the given order.
func (m *Manager) LoadEnvFiles(ids ...string) ([]LoadResult, error) {
	if err := m.ensureReady(); err != nil {
		return nil, err
	}
	out := make([]LoadResult, 0, len(ids))
	for _, id := range ids {
		res, err := m.LoadEnvFile(id)
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

// LoadEnvFile loads one module by identifier, such as "bom/navigator.js".
func (m *Manager) LoadEnvFile(id string) (LoadResult, error) {
	if err := m.ensureReady(); err != nil {
		return LoadResult{File: id, Error: err.Error()}, err
	}
	if m.catalogue == nil {
		return LoadResult{File: id, Error: ErrNoModule.Error()}, nil
	}
	mod, err := m.catalogue.Module(id)
	if err != nil {
		return LoadResult{File: id, Error: err.Error()}, nil
	}
	return m.loadModule(mod), nil
}

// ReloadPatches re-runs the operator patches so edits on disk take effect
// without a reset.
func (m *Manager) ReloadPatches() ([]LoadResult, error) {
	if err := m.ensureReady(); err != nil {
		return nil, err
	}
	if m.catalogue == nil {
		return []LoadResult{}, nil
	}
	mods, err := m.catalogue.Modules()
	if err != nil {
		return nil, err
	}
	patches := mods[:0:0]
	for _, mod := range mods {
		if mod.Category == envstubs.CategoryPatches {
			patches = append(patches, mod)
		}
	}
	res := m.loadModules(patches)
	m.logger.Info("Patches reloaded", zap.Int("count", len(res)))
	return res, nil
}

// LoadedEnvFiles returns the modules loaded since the last reset, in load
// order.
func (m *Manager) LoadedEnvFiles() []string {
	return append([]string{}, m.loaded...)
}

func (m *Manager) loadModules(mods []envstubs.Module) []LoadResult {
	out := make([]LoadResult, 0, len(mods))
	for _, mod := range mods {
		if m.needsReset {
			out = append(out, LoadResult{File: mod.ID, Error: ErrNeedsReset.Error()})
			continue
		}
		out = append(out, m.loadModule(mod))
	}
	return out
}

// loadModule runs one module as a top-level script with observation
// suspended, then instruments the globals it introduced.
func (m *Manager) loadModule(mod envstubs.Module) LoadResult {
	res := LoadResult{File: mod.ID}
	if mod.Patch != nil && !mod.Patch.Enabled {
		res.Success = true
		res.Skipped = true
		res.Message = "disabled in manifest"
		m.observer.ModuleLoaded(res, 0)
		return res
	}

	start := time.Now()
	resume := m.factory.Suspend()
	out := m.attempt(context.Background(), m.cfg.Timeout, func(rt *goja.Runtime) error {
		_, err := rt.RunScript(mod.ID, mod.Source)
		return err
	})
	resume()
	elapsed := time.Since(start)

	if out.failed {
		res.Error = out.message
		m.logger.Warn("Environment module failed",
			zap.String("file", mod.ID),
			zap.String("error", res.Error),
		)
		m.observer.ModuleLoaded(res, elapsed)
		return res
	}

	res.Success = true
	wrapped := m.wrapGlobals()
	if _, ok := m.loadedSet[mod.ID]; !ok {
		m.loadedSet[mod.ID] = struct{}{}
		m.loaded = append(m.loaded, mod.ID)
	}
	if mod.Patch != nil && mod.Patch.Property != "" {
		m.markPatched(mod.Patch.Property)
	}

	m.logger.Debug("Environment module loaded",
		zap.String("file", mod.ID),
		zap.Int("wrapped", wrapped),
		zap.Duration("duration", elapsed),
	)
	m.observer.ModuleLoaded(res, elapsed)
	return res
}

// markPatched flags the undefined entry a patch declares it supplies, under
// either naming of the window root.
func (m *Manager) markPatched(property string) {
	const root = "window."
	m.log.MarkFixed(property, proxylog.FixedExternal)
	if rest, ok := strings.CutPrefix(property, root); ok {
		m.log.MarkFixed(rest, proxylog.FixedExternal)
		return
	}
	m.log.MarkFixed(root+property, proxylog.FixedExternal)
}

func (m *Manager) interrupted(err error) bool {
	var ie *goja.InterruptedError
	return errors.As(err, &ie)
}
