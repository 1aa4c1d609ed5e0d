// Package directory resolves division names to where and whom meetings are announced.
package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"meetbot/internal/meeting"
)

var ErrUnknownDivision = errors.New("unknown division")

// Source lists the divisions kept in the store.
type Source interface {
	Divisions(ctx context.Context) ([]meeting.Division, error)
}

// Directory merges store divisions with a static list from config.
// Static entries win on name clash.
type Directory struct {
	src Source

	mu     sync.RWMutex
	static map[string]meeting.Division
}

func New(src Source, static []meeting.Division) *Directory {
	d := &Directory{src: src}
	d.SetStatic(static)
	return d
}

// SetStatic swaps the config-provided divisions (config hot reload).
func (d *Directory) SetStatic(ds []meeting.Division) {
	m := make(map[string]meeting.Division, len(ds))
	for _, v := range ds {
		if v.Name != "" {
			m[v.Name] = v
		}
	}
	d.mu.Lock()
	d.static = m
	d.mu.Unlock()
}

// Resolve returns the division called name, or ErrUnknownDivision.
func (d *Directory) Resolve(ctx context.Context, name string) (meeting.Division, error) {
	d.mu.RLock()
	v, ok := d.static[name]
	d.mu.RUnlock()
	if ok {
		return v, nil
	}
	if d.src != nil {
		ds, err := d.src.Divisions(ctx)
		if err != nil {
			return meeting.Division{}, fmt.Errorf("resolve division %q: %w", name, err)
		}
		for _, v := range ds {
			if v.Name == name {
				return v, nil
			}
		}
	}
	return meeting.Division{}, fmt.Errorf("%w: %q", ErrUnknownDivision, name)
}

// List returns every known division sorted by name.
func (d *Directory) List(ctx context.Context) ([]meeting.Division, error) {
	merged := map[string]meeting.Division{}
	if d.src != nil {
		ds, err := d.src.Divisions(ctx)
		if err != nil {
			return nil, err
		}
		for _, v := range ds {
			merged[v.Name] = v
		}
	}
	d.mu.RLock()
	for k, v := range d.static {
		merged[k] = v
	}
	d.mu.RUnlock()

	out := make([]meeting.Division, 0, len(merged))
	for _, v := range merged {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
