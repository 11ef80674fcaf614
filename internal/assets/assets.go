// Package assets resolves hosts and ip addresses to asset context.
package assets

import (
	"context"
	"strings"

	"github.com/roach88/triage/internal/model"
)

// Note values attached to an AssetContext.
const (
	NoteAssetNotFound    = "asset_not_found"
	NoteNoDetectionEvent = "no_detection_event"
)

// Directory looks up an asset by host name or ip address.
//
// A miss is not an error: it returns Found == false with NoteAssetNotFound.
// Errors mean the directory itself failed.
type Directory interface {
	Lookup(ctx context.Context, hostOrIP string) (model.AssetContext, error)
}

// DirectoryFunc adapts a function to Directory.
type DirectoryFunc func(ctx context.Context, hostOrIP string) (model.AssetContext, error)

// Lookup implements Directory.
func (f DirectoryFunc) Lookup(ctx context.Context, hostOrIP string) (model.AssetContext, error) {
	return f(ctx, hostOrIP)
}

// Static is an in-memory inventory.
//
// Thread-safety: Static is immutable after construction and safe for
// concurrent use.
type Static struct {
	assets     []model.Asset
	allowlists model.Allowlists
}

// NewStatic creates an inventory. Assets without their own allowlists get
// allow.
func NewStatic(inventory []model.Asset, allow model.Allowlists) *Static {
	return &Static{assets: append([]model.Asset(nil), inventory...), allowlists: allow}
}

// Default returns the inventory of the simulated environment.
func Default() *Static {
	return NewStatic(DefaultInventory(), DefaultAllowlists())
}

// DefaultInventory lists the simulated environment's hosts.
func DefaultInventory() []model.Asset {
	return []model.Asset{
		{Host: "ws-01", IP: "10.0.10.21", Role: "workstation", Criticality: "low"},
		{Host: "ws-02", IP: "10.0.10.22", Role: "workstation", Criticality: "low"},
		{Host: "web-01", IP: "10.0.20.10", Role: "web", Criticality: "medium"},
		{Host: "db-01", IP: "10.0.20.20", Role: "db", Criticality: "high"},
		{Host: "jump-01", IP: "10.0.10.5", Role: "jumpbox", Criticality: "medium"},
	}
}

// DefaultAllowlists are the benign identities shared by every asset.
func DefaultAllowlists() model.Allowlists {
	return model.Allowlists{
		Users:  []string{"svc_backup"},
		SrcIPs: []string{"10.0.10.99"},
		Tags:   []string{"maintenance_window"},
	}
}

// Lookup implements Directory. Matching is exact on host or ip after
// trimming surrounding space; the first inventory entry wins.
func (s *Static) Lookup(ctx context.Context, hostOrIP string) (model.AssetContext, error) {
	if err := ctx.Err(); err != nil {
		return model.AssetContext{}, err
	}
	key := strings.TrimSpace(hostOrIP)
	for _, a := range s.assets {
		if key != a.Host && key != a.IP {
			continue
		}
		found := a
		if found.Allowlists == nil {
			allow := s.allowlists
			found.Allowlists = &allow
		}
		return model.AssetContext{Found: true, Query: key, Asset: &found, Notes: []string{}}, nil
	}
	return model.AssetContext{Found: false, Query: key, Notes: []string{NoteAssetNotFound}}, nil
}
