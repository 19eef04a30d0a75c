// Package catalog reads missions and action templates, which are owned by
// the surrounding platform and only consulted here.
package catalog

import "context"

type Repository interface {
	MissionExists(ctx context.Context, missionID string) (bool, error)
	// Compatible returns nil when templateID may run against missionID, and
	// an error wrapping common.ErrIncompatible otherwise.
	Compatible(ctx context.Context, missionID, templateID string) error
}
