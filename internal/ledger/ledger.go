// Package ledger tracks version numbers and history for named assets.
// The artifact store owns blob content; the ledger owns only name/version
// bookkeeping.
package ledger

import (
	"errors"
	"fmt"
	"sync"
)

var ErrOutOfOrderVersion = errors.New("ledger: version out of order")

// Entry is one recorded version of an asset.
type Entry struct {
	Version  int
	Filename string
}

// AssetInfo is a display-oriented summary of one asset.
type AssetInfo struct {
	Name           string
	CurrentVersion int
	TotalVersions  int
	LatestFilename string
}

// Ledger tracks per-asset version counters and full history. Access is
// serial within a session; the mutex guards against accidental aliasing.
type Ledger struct {
	mu      sync.Mutex
	order   []string
	history map[string][]Entry
}

func New() *Ledger {
	return &Ledger{history: make(map[string][]Entry)}
}

// NextVersion returns the version a successful save of asset would get.
// It has no side effects; unknown assets are at version 0.
func (l *Ledger) NextVersion(asset string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.history[asset]) + 1
}

// Record appends a new version to the asset's history. Versions must be
// contiguous from 1; anything else is a caller bug and fails with
// ErrOutOfOrderVersion. Record must only be called after the blob has been
// confirmed persisted.
func (l *Ledger) Record(asset string, version int, filename string) error {
	if asset == "" {
		return fmt.Errorf("ledger: asset name is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	current := len(l.history[asset])
	if version != current+1 {
		return fmt.Errorf("%w: asset %q at v%d, got v%d", ErrOutOfOrderVersion, asset, current, version)
	}
	if _, known := l.history[asset]; !known {
		l.order = append(l.order, asset)
	}
	l.history[asset] = append(l.history[asset], Entry{Version: version, Filename: filename})
	return nil
}

// CurrentVersion returns the last recorded version, 0 for unknown assets.
func (l *Ledger) CurrentVersion(asset string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.history[asset])
}

// History returns the asset's entries in creation order.
func (l *Ledger) History(asset string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.history[asset]...)
}

// DescribeAll summarizes every asset in ledger insertion order.
func (l *Ledger) DescribeAll() []AssetInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AssetInfo, 0, len(l.order))
	for _, name := range l.order {
		entries := l.history[name]
		if len(entries) == 0 {
			continue
		}
		last := entries[len(entries)-1]
		out = append(out, AssetInfo{
			Name:           name,
			CurrentVersion: last.Version,
			TotalVersions:  len(entries),
			LatestFilename: last.Filename,
		})
	}
	return out
}

// Filename builds the canonical versioned filename for an asset.
func Filename(asset string, version int) string {
	return fmt.Sprintf("%s_v%d.png", asset, version)
}
