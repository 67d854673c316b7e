package main

import (
	"context"

	"github.com/flowlane/pulsefeed/internal/activity"
)

// noopPermissionOracle grants every request; a real deployment wires its own
// PermissionOracle backed by the host application's authorization model, per
// SPEC_FULL.md's "authentication/authorization logic is out of scope" note.
type noopPermissionOracle struct{}

func (noopPermissionOracle) Require(ctx context.Context, scope activity.Scope, id, actorID string, action activity.Action) error {
	return nil
}

func (noopPermissionOracle) AccessibleFolders(ctx context.Context, projectID, actorID string) ([]string, error) {
	return nil, nil
}

func (noopPermissionOracle) AccessibleElements(ctx context.Context, projectID, actorID string) ([]string, error) {
	return nil, nil
}

func (noopPermissionOracle) FolderExists(ctx context.Context, folderID string) (bool, error) {
	return true, nil
}

func (noopPermissionOracle) ElementExists(ctx context.Context, elementID string) (bool, error) {
	return true, nil
}

// noopUserDirectory echoes the actor ID back as its own display name; a real
// deployment wires its own user service lookup.
type noopUserDirectory struct{}

func (noopUserDirectory) DisplayName(ctx context.Context, actorID string) (string, error) {
	return actorID, nil
}

// noopImageStore resolves no live URLs; a real deployment wires its own
// image/asset store.
type noopImageStore struct{}

func (noopImageStore) Lookup(ctx context.Context, ids []string) (map[string]activity.ImageURLs, error) {
	return map[string]activity.ImageURLs{}, nil
}
