package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"planner/api/internal/ownership"
	"planner/api/internal/rollup"
	"planner/api/internal/store"
)

type UserProjects struct {
	User     Profile          `json:"user"`
	Projects []rollup.Project `json:"projects"`
}

type DeleteResult struct {
	Affected int64 `json:"affected"`
}

// TaskList is the payload of task updates and deletes: the affected story's
// completion and its remaining tasks.
type TaskList struct {
	StoryStatus string       `json:"storyStatus"`
	TaskList    []store.Task `json:"taskList"`
}

func (s *Service) GetUserProjects(ctx context.Context, userID int64) (UserProjects, error) {
	profile, err := s.GetProfile(ctx, userID)
	if err != nil {
		return UserProjects{}, err
	}
	projects, err := s.userProjects(ctx, userID)
	if err != nil {
		return UserProjects{}, err
	}
	return UserProjects{User: profile, Projects: projects}, nil
}

// GetProject returns nil without an error when the project is missing or
// belongs to someone else.
func (s *Service) GetProject(ctx context.Context, projectID, userID int64) (*rollup.Project, error) {
	if _, err := s.guard.Verify(ctx, ownership.KindProject, projectID, userID); err != nil {
		if errors.Is(err, ownership.ErrNotOwned) {
			return nil, nil
		}
		return nil, err
	}
	tree, err := s.store.ProjectTree(ctx, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	project := rollup.Aggregate(tree)
	return &project, nil
}

func (s *Service) CreateProject(ctx context.Context, name, description string, userID int64) ([]rollup.Project, error) {
	name, err := requireName(name)
	if err != nil {
		return nil, err
	}
	project, err := s.store.InsertProject(ctx, store.Project{UserID: userID, Name: name, Description: description})
	if err != nil {
		return nil, err
	}
	s.reindex(store.ProjectTree{Project: project, Features: []store.FeatureTree{}})
	return s.userProjects(ctx, userID)
}

func (s *Service) UpdateProject(ctx context.Context, field, value string, userID, projectID int64) (rollup.Project, error) {
	owned, err := s.verify(ctx, ownership.KindProject, projectID, userID, "update")
	if err != nil {
		return rollup.Project{}, err
	}
	name, description, err := describedPatch(field, value)
	if err != nil {
		return rollup.Project{}, err
	}
	if err := s.store.UpdateProject(ctx, owned.ID, store.ProjectPatch{Name: name, Description: description}); err != nil {
		return rollup.Project{}, err
	}
	return s.projectView(ctx, owned.ProjectID)
}

func (s *Service) DeleteProject(ctx context.Context, projectID, userID int64) (DeleteResult, error) {
	owned, err := s.verify(ctx, ownership.KindProject, projectID, userID, "delete")
	if err != nil {
		return DeleteResult{}, err
	}
	affected, err := s.store.DeleteProject(ctx, owned.ID)
	if err != nil {
		return DeleteResult{}, err
	}
	s.unindex(owned.ID)
	return DeleteResult{Affected: affected}, nil
}

func (s *Service) CreateFeature(ctx context.Context, name, description string, userID, projectID int64) (rollup.Project, error) {
	name, err := requireName(name)
	if err != nil {
		return rollup.Project{}, err
	}
	if err := s.verifyParent(ctx, userID, ownership.KindFeature, ownership.Chain{ProjectID: projectID}); err != nil {
		return rollup.Project{}, err
	}
	if _, err := s.store.InsertFeature(ctx, store.Feature{ProjectID: projectID, Name: name, Description: description}); err != nil {
		return rollup.Project{}, err
	}
	return s.projectView(ctx, projectID)
}

func (s *Service) UpdateFeature(ctx context.Context, field, value string, userID, featureID int64) (rollup.Project, error) {
	owned, err := s.verify(ctx, ownership.KindFeature, featureID, userID, "update")
	if err != nil {
		return rollup.Project{}, err
	}
	name, description, err := describedPatch(field, value)
	if err != nil {
		return rollup.Project{}, err
	}
	if err := s.store.UpdateFeature(ctx, owned.ID, store.FeaturePatch{Name: name, Description: description}); err != nil {
		return rollup.Project{}, err
	}
	return s.projectView(ctx, owned.ProjectID)
}

func (s *Service) DeleteFeature(ctx context.Context, featureID, userID int64) (rollup.Project, error) {
	owned, err := s.verify(ctx, ownership.KindFeature, featureID, userID, "delete")
	if err != nil {
		return rollup.Project{}, err
	}
	if _, err := s.store.DeleteFeature(ctx, owned.ID); err != nil {
		return rollup.Project{}, err
	}
	return s.projectView(ctx, owned.ProjectID)
}

func (s *Service) CreateUserStory(ctx context.Context, name, description string, userID, projectID, featureID int64) (rollup.Project, error) {
	name, err := requireName(name)
	if err != nil {
		return rollup.Project{}, err
	}
	if err := s.verifyParent(ctx, userID, ownership.KindUserStory, ownership.Chain{ProjectID: projectID, FeatureID: featureID}); err != nil {
		return rollup.Project{}, err
	}
	if _, err := s.store.InsertUserStory(ctx, store.UserStory{FeatureID: featureID, Name: name, Description: description}); err != nil {
		return rollup.Project{}, err
	}
	return s.projectView(ctx, projectID)
}

func (s *Service) UpdateUserStory(ctx context.Context, field, value string, userID, userStoryID int64) (rollup.Project, error) {
	owned, err := s.verify(ctx, ownership.KindUserStory, userStoryID, userID, "update")
	if err != nil {
		return rollup.Project{}, err
	}
	name, description, err := describedPatch(field, value)
	if err != nil {
		return rollup.Project{}, err
	}
	if err := s.store.UpdateUserStory(ctx, owned.ID, store.UserStoryPatch{Name: name, Description: description}); err != nil {
		return rollup.Project{}, err
	}
	return s.projectView(ctx, owned.ProjectID)
}

func (s *Service) DeleteUserStory(ctx context.Context, userStoryID, userID int64) (rollup.Project, error) {
	owned, err := s.verify(ctx, ownership.KindUserStory, userStoryID, userID, "delete")
	if err != nil {
		return rollup.Project{}, err
	}
	if _, err := s.store.DeleteUserStory(ctx, owned.ID); err != nil {
		return rollup.Project{}, err
	}
	return s.projectView(ctx, owned.ProjectID)
}

// CreateTask adds a To Do task. The task starts in To Do regardless of the
// story's other tasks.
func (s *Service) CreateTask(ctx context.Context, name string, userID, projectID, featureID, userStoryID int64) (rollup.Project, error) {
	name, err := requireName(name)
	if err != nil {
		return rollup.Project{}, err
	}
	chain := ownership.Chain{ProjectID: projectID, FeatureID: featureID, UserStoryID: userStoryID}
	if err := s.verifyParent(ctx, userID, ownership.KindTask, chain); err != nil {
		return rollup.Project{}, err
	}
	if _, err := s.store.InsertTask(ctx, store.Task{UserStoryID: userStoryID, Name: name, Status: store.StatusToDo}); err != nil {
		return rollup.Project{}, err
	}
	return s.projectView(ctx, projectID)
}

func (s *Service) UpdateTask(ctx context.Context, field, value string, userID, taskID int64) (TaskList, error) {
	owned, err := s.verify(ctx, ownership.KindTask, taskID, userID, "update")
	if err != nil {
		return TaskList{}, err
	}
	patch, err := taskPatch(field, value)
	if err != nil {
		return TaskList{}, err
	}
	if err := s.store.UpdateTask(ctx, owned.ID, patch); err != nil {
		return TaskList{}, err
	}
	return s.taskView(ctx, owned)
}

func (s *Service) DeleteTask(ctx context.Context, taskID, userID int64) (TaskList, error) {
	owned, err := s.verify(ctx, ownership.KindTask, taskID, userID, "delete")
	if err != nil {
		return TaskList{}, err
	}
	if _, err := s.store.DeleteTask(ctx, owned.ID); err != nil {
		return TaskList{}, err
	}
	return s.taskView(ctx, owned)
}

func (s *Service) userProjects(ctx context.Context, userID int64) ([]rollup.Project, error) {
	trees, err := s.store.ProjectTreesByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load projects: %w", err)
	}
	return rollup.AggregateAll(trees), nil
}

// projectView re-reads the owning project after a mutation and hands the
// fresh tree to the search index.
func (s *Service) projectView(ctx context.Context, projectID int64) (rollup.Project, error) {
	tree, err := s.store.ProjectTree(ctx, projectID)
	if err != nil {
		return rollup.Project{}, fmt.Errorf("reload project: %w", err)
	}
	s.reindex(tree)
	return rollup.Aggregate(tree), nil
}

func (s *Service) taskView(ctx context.Context, owned ownership.Owned) (TaskList, error) {
	tasks, err := s.store.ListTasksByStory(ctx, owned.UserStoryID)
	if err != nil {
		return TaskList{}, fmt.Errorf("reload tasks: %w", err)
	}
	if s.search != nil {
		tree, err := s.store.ProjectTree(ctx, owned.ProjectID)
		if err != nil {
			slog.WarnContext(ctx, "search: reload project for index", "project_id", owned.ProjectID, "error", err)
		} else {
			s.reindex(tree)
		}
	}
	return TaskList{StoryStatus: rollup.StoryCompletion(tasks), TaskList: tasks}, nil
}

func (s *Service) verify(ctx context.Context, kind ownership.Kind, id, userID int64, action string) (ownership.Owned, error) {
	owned, err := s.guard.Verify(ctx, kind, id, userID)
	if errors.Is(err, ownership.ErrNotOwned) {
		return ownership.Owned{}, badRequest(fmt.Sprintf("cannot %s this %s", action, kindNoun(kind)), err)
	}
	return owned, err
}

func (s *Service) verifyParent(ctx context.Context, userID int64, child ownership.Kind, chain ownership.Chain) error {
	err := s.guard.VerifyParent(ctx, userID, child, chain)
	if errors.Is(err, ownership.ErrParentNotOwned) {
		return unauthorized("Unauthorized", err)
	}
	return err
}

func kindNoun(kind ownership.Kind) string {
	if kind == ownership.KindUserStory {
		return "user story"
	}
	return string(kind)
}

func requireName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", validationError("name is required")
	}
	return name, nil
}

// describedPatch maps a project, feature or user story field to the
// corresponding patch column.
func describedPatch(field, value string) (name, description *string, err error) {
	switch field {
	case "name":
		trimmed, err := requireName(value)
		if err != nil {
			return nil, nil, err
		}
		return &trimmed, nil, nil
	case "description":
		return nil, &value, nil
	default:
		return nil, nil, validationError(fmt.Sprintf("field %q cannot be updated", field))
	}
}

func taskPatch(field, value string) (store.TaskPatch, error) {
	switch field {
	case "name":
		name, err := requireName(value)
		if err != nil {
			return store.TaskPatch{}, err
		}
		return store.TaskPatch{Name: &name}, nil
	case "status":
		status, ok := store.ParseStatus(value)
		if !ok {
			return store.TaskPatch{}, validationError(fmt.Sprintf("status must be one of %q, %q, %q", store.StatusToDo, store.StatusInProgress, store.StatusDone))
		}
		return store.TaskPatch{Status: &status}, nil
	default:
		return store.TaskPatch{}, validationError(fmt.Sprintf("field %q cannot be updated", field))
	}
}
