// Package lists loads the vendor-prefix allow list and the noise denylist, and
// replaces the denylist atomically so pipelines never read a partial write.
package lists

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// PrefixLen is the number of hex digits in a vendor prefix.
const PrefixLen = 6

// ErrMissingList is returned when a list file does not exist.
var ErrMissingList = errors.New("list file not found")

// AllowList is the set of accepted vendor address prefixes.
type AllowList struct {
	prefixes map[string]struct{}
}

// NewAllowList builds an allow list from prefixes; case and separators are
// ignored and anything past PrefixLen hex digits is discarded.
func NewAllowList(prefixes []string) *AllowList {
	a := &AllowList{prefixes: make(map[string]struct{}, len(prefixes))}
	for _, p := range prefixes {
		p = normalize(p)
		if len(p) < PrefixLen {
			continue
		}
		a.prefixes[p[:PrefixLen]] = struct{}{}
	}
	return a
}

// Allows reports whether the upper-case hex device address carries an
// accepted vendor prefix.
func (a *AllowList) Allows(device string) bool {
	if a == nil || len(device) < PrefixLen {
		return false
	}
	_, ok := a.prefixes[device[:PrefixLen]]
	return ok
}

// Len returns the number of prefixes.
func (a *AllowList) Len() int {
	if a == nil {
		return 0
	}
	return len(a.prefixes)
}

// DenyList is the set of device addresses judged to be noise.
type DenyList struct {
	devices map[string]struct{}
}

// NewDenyList builds a denylist from upper- or lower-case hex addresses.
func NewDenyList(devices []string) *DenyList {
	d := &DenyList{devices: make(map[string]struct{}, len(devices))}
	for _, dev := range devices {
		if dev = normalize(dev); dev != "" {
			d.devices[dev] = struct{}{}
		}
	}
	return d
}

// Contains reports whether the upper-case hex device address is denied. A nil
// DenyList denies nothing.
func (d *DenyList) Contains(device string) bool {
	if d == nil {
		return false
	}
	_, ok := d.devices[device]
	return ok
}

func (d *DenyList) Len() int {
	if d == nil {
		return 0
	}
	return len(d.devices)
}

// Devices returns the denied addresses in sorted order.
func (d *DenyList) Devices() []string {
	if d == nil {
		return nil
	}
	out := make([]string, 0, len(d.devices))
	for dev := range d.devices {
		out = append(out, dev)
	}
	sort.Strings(out)
	return out
}

func normalize(s string) string {
	s = strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(s))
	return strings.ToUpper(s)
}

func readStrings(path string) ([]string, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingList, path)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return out, nil
}

// LoadAllowList reads a JSON array of vendor prefixes.
func LoadAllowList(path string) (*AllowList, error) {
	prefixes, err := readStrings(path)
	if err != nil {
		return nil, err
	}
	return NewAllowList(prefixes), nil
}

// LoadDenyList reads a JSON array of device addresses.
func LoadDenyList(path string) (*DenyList, error) {
	devices, err := readStrings(path)
	if err != nil {
		return nil, err
	}
	return NewDenyList(devices), nil
}

// SaveDenyList replaces the denylist at path with devices. The list is written
// to a temporary file in the same directory, synced and renamed over the old
// file, so readers see either the previous list or the new one.
func SaveDenyList(path string, devices []string) error {
	list := NewDenyList(devices).Devices()
	if list == nil {
		list = []string{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode denylist: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".denylist-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp denylist: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp denylist: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp denylist: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp denylist: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("chmod temp denylist: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace denylist: %w", err)
	}
	return nil
}
