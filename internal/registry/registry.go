// Package registry holds the per-build asset bookkeeping shared by the
// resolve, load and emit phases of a rebase build.
package registry

import (
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// RedirectSuffix marks a redirect module id. It never appears in a real path.
const RedirectSuffix = "?rebase-redirect"

// VirtualID is the normalized, forward-slash path of an asset's projected
// output location. It is the cross-reference key between registries.
type VirtualID string

// NewVirtualID joins root, the asset folder and the destination file name.
// Backslashes are converted whatever the host OS, so ids built from Windows
// paths compare equal to their forward-slash forms.
func NewVirtualID(root, assetFolder, fileName string) VirtualID {
	return VirtualID(path.Join(Slash(root), Slash(assetFolder), fileName))
}

// Slash converts both separator styles to forward slashes.
func Slash(p string) string {
	return strings.ReplaceAll(filepath.ToSlash(p), `\`, "/")
}

// Redirect returns the redirect module id that re-exports v.
func (v VirtualID) Redirect() RedirectID {
	return RedirectID{target: v}
}

func (v VirtualID) String() string { return string(v) }

// RedirectID identifies a synthesized module re-exporting one virtual asset.
// The zero value is not a valid id.
type RedirectID struct {
	target VirtualID
}

// ParseRedirectID recovers a RedirectID from its string form.
func ParseRedirectID(s string) (RedirectID, bool) {
	target, ok := strings.CutSuffix(s, RedirectSuffix)
	if !ok || target == "" {
		return RedirectID{}, false
	}
	return RedirectID{target: VirtualID(target)}, true
}

// Target is the virtual asset id the redirect module re-exports.
func (r RedirectID) Target() VirtualID { return r.target }

func (r RedirectID) String() string { return string(r.target) + RedirectSuffix }

// Record describes one discovered asset.
type Record struct {
	// Source is the absolute source path.
	Source string
	// Output is the output-relative destination path, forward slashes,
	// including the asset folder.
	Output string
}

// Ext is the source file extension, which drives dialect selection.
func (r Record) Ext() string {
	return filepath.Ext(r.Source)
}

// State is the mutable registry owned by one plugin instance. All methods are
// safe for concurrent use.
type State struct {
	mu        sync.RWMutex
	root      string
	records   map[string]Record
	redirects map[RedirectID]VirtualID
	claimed   map[VirtualID]string
}

// New returns an empty State.
func New() *State {
	s := &State{}
	s.Reset()
	return s
}

// Reset drops everything recorded so far. Called at the start of every build.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.root = ""
	s.records = make(map[string]Record)
	s.redirects = make(map[RedirectID]VirtualID)
	s.claimed = make(map[VirtualID]string)
}

// SetRoot records the entry directory. Only the first call has an effect.
func (s *State) SetRoot(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.root == "" {
		s.root = dir
	}
}

// Root returns the entry directory, or "" before the entry point was seen.
func (s *State) Root() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root
}

// Record looks up the asset registered for an absolute source path.
func (s *State) Record(source string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[source]
	return r, ok
}

// PutRecord registers r unless its source is already known, and returns the
// record that is stored afterwards. The first write wins.
func (s *State) PutRecord(r Record) Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[r.Source]; ok {
		return existing
	}
	s.records[r.Source] = r
	return r
}

// Claim marks v as a registered asset published at output (output-relative)
// and records the redirect module that re-exports it.
func (s *State) Claim(v VirtualID, output string) RedirectID {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := v.Redirect()
	s.claimed[v] = output
	s.redirects[id] = v
	return id
}

// Claimed reports whether v is a registered asset id and where it is published.
func (s *State) Claimed(v VirtualID) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out, ok := s.claimed[v]
	return out, ok
}

// Redirect returns the virtual id a redirect module re-exports.
func (s *State) Redirect(id RedirectID) (VirtualID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.redirects[id]
	return v, ok
}

// Records returns a snapshot of all records, sorted by source path.
func (s *State) Records() []Record {
	s.mu.RLock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// Rel returns p relative to the root for log output. Falls back to p.
func (s *State) Rel(p string) string {
	root := s.Root()
	if root == "" {
		return filepath.ToSlash(p)
	}
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(rel)
}
