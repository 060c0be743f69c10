// Package ownership scopes plan-tree access to the owning user by walking
// the parent chain up to the project.
package ownership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"planner/api/internal/store"
)

type Kind string

const (
	KindProject   Kind = "project"
	KindFeature   Kind = "feature"
	KindUserStory Kind = "userStory"
	KindTask      Kind = "task"
)

func ParseKind(value string) (Kind, bool) {
	switch Kind(value) {
	case KindProject, KindFeature, KindUserStory, KindTask:
		return Kind(value), true
	default:
		return "", false
	}
}

var (
	// ErrOwnership is the common root of every ownership failure.
	ErrOwnership = errors.New("ownership check failed")
	// ErrNotOwned covers rows that are missing or belong to another user.
	ErrNotOwned = fmt.Errorf("%w: not found or not owned", ErrOwnership)
	// ErrParentNotOwned rejects creates under a parent the caller cannot use.
	ErrParentNotOwned = fmt.Errorf("%w: parent not found or not owned", ErrOwnership)
)

// Store is the subset of the entity store the guard reads through.
type Store interface {
	FindOwnedProject(ctx context.Context, projectID, userID int64) (store.Project, error)
	FindOwnedFeature(ctx context.Context, featureID, userID int64) (store.OwnedFeature, error)
	FindOwnedUserStory(ctx context.Context, userStoryID, userID int64) (store.OwnedUserStory, error)
	FindOwnedTask(ctx context.Context, taskID, userID int64) (store.OwnedTask, error)
}

// Owned identifies a verified entity and the ancestors above it. Ancestor
// ids at or below the entity's own level are zero.
type Owned struct {
	Kind        Kind
	ID          int64
	ProjectID   int64
	FeatureID   int64
	UserStoryID int64

	Project   store.Project
	Feature   store.Feature
	UserStory store.UserStory
	Task      store.Task
}

// Chain names the parents a create claims to sit under.
type Chain struct {
	ProjectID   int64
	FeatureID   int64
	UserStoryID int64
}

// complete reports whether every parent level a child of kind needs is set.
func (c Chain) complete(child Kind) bool {
	switch child {
	case KindFeature:
		return c.ProjectID != 0
	case KindUserStory:
		return c.ProjectID != 0 && c.FeatureID != 0
	case KindTask:
		return c.ProjectID != 0 && c.FeatureID != 0 && c.UserStoryID != 0
	default:
		return false
	}
}

type Guard struct {
	Store Store
}

func NewGuard(s Store) *Guard {
	return &Guard{Store: s}
}

// Verify fetches the entity through its ownership join. Missing and foreign
// rows both fail with ErrNotOwned.
func (g *Guard) Verify(ctx context.Context, kind Kind, id, userID int64) (Owned, error) {
	switch kind {
	case KindProject:
		item, err := g.Store.FindOwnedProject(ctx, id, userID)
		if err != nil {
			return Owned{}, notOwned(err, "project")
		}
		return Owned{Kind: kind, ID: item.ID, ProjectID: item.ID, Project: item}, nil
	case KindFeature:
		item, err := g.Store.FindOwnedFeature(ctx, id, userID)
		if err != nil {
			return Owned{}, notOwned(err, "feature")
		}
		return Owned{Kind: kind, ID: item.ID, ProjectID: item.ProjectID, Feature: item.Feature}, nil
	case KindUserStory:
		item, err := g.Store.FindOwnedUserStory(ctx, id, userID)
		if err != nil {
			return Owned{}, notOwned(err, "user story")
		}
		return Owned{
			Kind:      kind,
			ID:        item.ID,
			ProjectID: item.ProjectID,
			FeatureID: item.FeatureID,
			UserStory: item.UserStory,
		}, nil
	case KindTask:
		item, err := g.Store.FindOwnedTask(ctx, id, userID)
		if err != nil {
			return Owned{}, notOwned(err, "task")
		}
		return Owned{
			Kind:        kind,
			ID:          item.ID,
			ProjectID:   item.ProjectID,
			FeatureID:   item.FeatureID,
			UserStoryID: item.UserStoryID,
			Task:        item.Task,
		}, nil
	default:
		return Owned{}, fmt.Errorf("unknown entity kind %q", kind)
	}
}

// VerifyParent authorizes creating a child of kind under chain. Every parent
// level the child needs must be set. The deepest parent is fetched through its
// ownership join and its ancestors must match the rest of the chain.
func (g *Guard) VerifyParent(ctx context.Context, userID int64, child Kind, chain Chain) error {
	if !chain.complete(child) {
		return ErrParentNotOwned
	}

	var (
		owned Owned
		err   error
	)
	switch child {
	case KindTask:
		owned, err = g.Verify(ctx, KindUserStory, chain.UserStoryID, userID)
	case KindUserStory:
		owned, err = g.Verify(ctx, KindFeature, chain.FeatureID, userID)
	default:
		owned, err = g.Verify(ctx, KindProject, chain.ProjectID, userID)
	}
	if errors.Is(err, ErrNotOwned) {
		return ErrParentNotOwned
	}
	if err != nil {
		return err
	}

	if owned.ProjectID != chain.ProjectID {
		return ErrParentNotOwned
	}
	if child == KindTask && owned.FeatureID != chain.FeatureID {
		return ErrParentNotOwned
	}
	return nil
}

func notOwned(err error, noun string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotOwned
	}
	return fmt.Errorf("find owned %s: %w", noun, err)
}
