package toolkit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Factory is the live, compiled form of a tool's source, registered by
// the hosting binary for every tool it knows how to execute under its
// logical name. Go cannot evaluate arbitrary source at runtime the way
// a dynamically-typed host can (no interpreter exists anywhere in this
// module's lineage); a logical-name-keyed factory registry is the
// idiomatic Go substitute for "evaluate the snapshot in a fresh
// namespace" when rehydrating within the same binary. See DESIGN.md for
// the full justification and the os/exec fallback used when no factory
// is registered.
var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]ToolFunc)
)

// RegisterFactory binds name to fn for every Registry.Rehydrate call in
// this process. Tool authors call this from an init() in the package
// that also contains the .go source handed to AddTool, so the snapshot
// (source text) and the binding (compiled function) stay in lockstep.
func RegisterFactory(name string, fn ToolFunc) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = fn
}

func lookupFactory(name string) (ToolFunc, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	fn, ok := factories[name]
	return fn, ok
}

// ModuleSnapshot is the on-disk shape of a ModuleContext plus the tool
// names it owns, as persisted by botfile (§6: "modules{}",
// "function_paths{}").
type ModuleSnapshot struct {
	ID                    string
	LogicalName           string
	SourceCode            string
	OriginPathOrVirtualID string
	CodeHash              string
	ToolNames             []string
}

// Rehydrate reconstitutes a registry's executable bindings from
// persisted module snapshots and their descriptors, per §4.5:
//
//  1. Resolve OriginPathOrVirtualID against the current environment. If
//     it names a real, readable file whose on-disk hash matches
//     CodeHash, that's a confirming signal only — the snapshot's
//     SourceCode always wins, never the disk contents (§4.5: "the
//     snapshot's source_code wins; the on-disk file is ignored").
//  2. Record a path remap when the resolved location differs from the
//     stored one.
//  3. For each tool name owned by the module, bind function_map by
//     trying the factory under both the stored and the remapped module
//     identity — checking only one is the known bug pattern called out
//     in §9/§4.5.
//  4. A tool with no compiled factory under any key falls back to
//     SourceExecFunc against the snapshot's own source. Only a tool
//     absent there too gets a placeholder that reports ToolNotFound on
//     execution.
func (r *Registry) Rehydrate(snapshots []ModuleSnapshot, descriptors []Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, snap := range snapshots {
		mc := &ModuleContext{
			ID:                    snap.ID,
			LogicalName:           snap.LogicalName,
			SourceCode:            snap.SourceCode,
			OriginPathOrVirtualID: snap.OriginPathOrVirtualID,
			CodeHash:              snap.CodeHash,
			namespace:             make(map[string]ToolFunc),
		}

		resolved := resolveOrigin(snap.OriginPathOrVirtualID, snap.SourceCode, snap.CodeHash)
		if resolved != "" && resolved != snap.OriginPathOrVirtualID {
			r.pathRemap[snap.OriginPathOrVirtualID] = resolved
		}

		r.modules[snap.ID] = mc
	}

	for _, d := range descriptors {
		mc, ok := r.modules[d.ModuleContextID]
		if !ok {
			r.bindPlaceholder(d.Name)
			continue
		}

		fn, ok := lookupFactory(d.Name)
		if !ok {
			if remapped, hasRemap := r.pathRemap[mc.OriginPathOrVirtualID]; hasRemap {
				fn, ok = lookupFactory(remapped + "." + d.Name)
			}
		}
		if !ok {
			fn, ok = lookupFactory(mc.OriginPathOrVirtualID + "." + d.Name)
		}
		if !ok {
			// No compiled factory under any key this process knows
			// about: fall back to the last-resort path documented on
			// SourceExecFunc (§4.5). Without this, a tool added via
			// `loom tool add` — which never registers a factory —
			// would permanently degrade to a ToolNotFound placeholder
			// on the very next Load, since Load always rehydrates from
			// a fresh registry.
			if execFn, execErr := SourceExecFunc(mc.SourceCode); execErr == nil {
				fn, ok = execFn, true
			}
		}
		if !ok {
			slog.Warn("toolkit: tool absent after rehydrate, installing placeholder", "tool", d.Name, "module", mc.ID)
			r.bindPlaceholder(d.Name)
			continue
		}

		mc.namespace[d.Name] = fn
		r.functionMap[d.Name] = fn
		r.functionPaths[d.Name] = mc.ID
		r.tools = append(r.tools, d)
	}
	return nil
}

// bindPlaceholder installs a tool whose execution always reports
// ToolNotFound, per §4.5 "store a placeholder whose execution returns a
// ToolNotFound error string" and §7's ModuleLoadFailure degrade path.
func (r *Registry) bindPlaceholder(name string) {
	r.functionMap[name] = func(_ context.Context, _ json.RawMessage) (string, error) {
		return "", fmt.Errorf("ToolNotFound: %s is unavailable after rehydrate", name)
	}
}

// resolveOrigin implements the two-case resolution of §4.5 step 1. It
// returns the path that should be considered authoritative for remap
// bookkeeping; it never changes which source text executes.
//
// When the stored path itself is no longer readable (the tool's file
// was moved since the snapshot was taken), it searches the current
// working directory for a file sharing the stored path's basename and,
// if one resolves, returns that path instead — this is what makes
// r.pathRemap (and the lookupFactory(remapped+"."+name) branch in
// Rehydrate) reachable at all; checking only the stored path and never
// searching for a moved one is the known bug pattern called out in
// §9/§4.5.
func resolveOrigin(originOrVirtual, sourceCode, codeHash string) string {
	if originOrVirtual == "" {
		return ""
	}
	if tryResolve(originOrVirtual, codeHash) {
		return originOrVirtual
	}

	base := filepath.Base(originOrVirtual)
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	candidate := filepath.Join(cwd, base)
	if candidate == originOrVirtual {
		return "" // already tried, and searching further is out of scope
	}
	if tryResolve(candidate, codeHash) {
		return candidate
	}
	return "" // moved or synthetic and no same-named file found in cwd
}

// tryResolve reports whether path names a real, readable file. A hash
// mismatch against codeHash is a warning-only signal — the snapshot's
// source_code always wins over whatever is on disk (§4.5) — not a
// reason to treat the path as unresolved.
func tryResolve(path, codeHash string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	sum := sha256.Sum256(data)
	onDiskHash := hex.EncodeToString(sum[:])
	if onDiskHash != codeHash {
		slog.Warn("toolkit: on-disk tool source hash differs from snapshot, snapshot wins", "path", path)
	}
	return true
}
