package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// ProjectTreesByUser loads every project owned by userID with all
// descendants, ordered by id at each level.
func (s *SQLStore) ProjectTreesByUser(ctx context.Context, userID int64) ([]ProjectTree, error) {
	return s.loadTrees(ctx, "p.user_id", userID)
}

// ProjectTree loads one project with all descendants. A missing project
// yields sql.ErrNoRows.
func (s *SQLStore) ProjectTree(ctx context.Context, projectID int64) (ProjectTree, error) {
	trees, err := s.loadTrees(ctx, "p.id", projectID)
	if err != nil {
		return ProjectTree{}, err
	}
	if len(trees) == 0 {
		return ProjectTree{}, sql.ErrNoRows
	}
	return trees[0], nil
}

// AllProjectTrees loads every project in the store. It backs full search
// reindexing and is not exposed to requests.
func (s *SQLStore) AllProjectTrees(ctx context.Context) ([]ProjectTree, error) {
	return s.loadTrees(ctx, "1", 1)
}

// loadTrees reads the four levels with one query each, scoped by the given
// projects column, and assembles them bottom-up.
func (s *SQLStore) loadTrees(ctx context.Context, scope string, value int64) ([]ProjectTree, error) {
	projects, err := s.scopedProjects(ctx, scope, value)
	if err != nil {
		return nil, err
	}
	if len(projects) == 0 {
		return []ProjectTree{}, nil
	}
	features, err := s.scopedFeatures(ctx, scope, value)
	if err != nil {
		return nil, err
	}
	stories, err := s.scopedStories(ctx, scope, value)
	if err != nil {
		return nil, err
	}
	tasks, err := s.scopedTasks(ctx, scope, value)
	if err != nil {
		return nil, err
	}

	tasksByStory := make(map[int64][]Task)
	for _, task := range tasks {
		tasksByStory[task.UserStoryID] = append(tasksByStory[task.UserStoryID], task)
	}
	storiesByFeature := make(map[int64][]UserStoryTree)
	for _, story := range stories {
		items := tasksByStory[story.ID]
		if items == nil {
			items = []Task{}
		}
		storiesByFeature[story.FeatureID] = append(storiesByFeature[story.FeatureID], UserStoryTree{UserStory: story, Tasks: items})
	}
	featuresByProject := make(map[int64][]FeatureTree)
	for _, feature := range features {
		items := storiesByFeature[feature.ID]
		if items == nil {
			items = []UserStoryTree{}
		}
		featuresByProject[feature.ProjectID] = append(featuresByProject[feature.ProjectID], FeatureTree{Feature: feature, UserStories: items})
	}

	trees := make([]ProjectTree, 0, len(projects))
	for _, project := range projects {
		items := featuresByProject[project.ID]
		if items == nil {
			items = []FeatureTree{}
		}
		trees = append(trees, ProjectTree{Project: project, Features: items})
	}
	return trees, nil
}

func (s *SQLStore) scopedProjects(ctx context.Context, scope string, value int64) ([]Project, error) {
	rows, err := s.query(ctx, `
		SELECT p.id, p.user_id, p.name, COALESCE(p.description, '')
		FROM projects p
		WHERE `+scope+` = ?
		ORDER BY p.id`, value)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		var item Project
		if err := rows.Scan(&item.ID, &item.UserID, &item.Name, &item.Description); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

func (s *SQLStore) scopedFeatures(ctx context.Context, scope string, value int64) ([]Feature, error) {
	rows, err := s.query(ctx, `
		SELECT f.id, f.project_id, f.name, COALESCE(f.description, '')
		FROM features f
		JOIN projects p ON p.id = f.project_id
		WHERE `+scope+` = ?
		ORDER BY f.id`, value)
	if err != nil {
		return nil, fmt.Errorf("list features: %w", err)
	}
	defer rows.Close()

	items := make([]Feature, 0)
	for rows.Next() {
		var item Feature
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.Name, &item.Description); err != nil {
			return nil, fmt.Errorf("scan feature: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate features: %w", err)
	}
	return items, nil
}

func (s *SQLStore) scopedStories(ctx context.Context, scope string, value int64) ([]UserStory, error) {
	rows, err := s.query(ctx, `
		SELECT us.id, us.feature_id, us.name, COALESCE(us.description, '')
		FROM user_stories us
		JOIN features f ON f.id = us.feature_id
		JOIN projects p ON p.id = f.project_id
		WHERE `+scope+` = ?
		ORDER BY us.id`, value)
	if err != nil {
		return nil, fmt.Errorf("list user stories: %w", err)
	}
	defer rows.Close()

	items := make([]UserStory, 0)
	for rows.Next() {
		var item UserStory
		if err := rows.Scan(&item.ID, &item.FeatureID, &item.Name, &item.Description); err != nil {
			return nil, fmt.Errorf("scan user story: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user stories: %w", err)
	}
	return items, nil
}

func (s *SQLStore) scopedTasks(ctx context.Context, scope string, value int64) ([]Task, error) {
	rows, err := s.query(ctx, `
		SELECT t.id, t.user_story_id, t.name, t.status
		FROM tasks t
		JOIN user_stories us ON us.id = t.user_story_id
		JOIN features f ON f.id = us.feature_id
		JOIN projects p ON p.id = f.project_id
		WHERE `+scope+` = ?
		ORDER BY t.id`, value)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanTasks(rows rowScanner) ([]Task, error) {
	items := make([]Task, 0)
	for rows.Next() {
		var item Task
		if err := rows.Scan(&item.ID, &item.UserStoryID, &item.Name, &item.Status); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return items, nil
}

// ListTasksByStory returns the tasks of one user story ordered by id.
func (s *SQLStore) ListTasksByStory(ctx context.Context, userStoryID int64) ([]Task, error) {
	rows, err := s.query(ctx, `
		SELECT id, user_story_id, name, status
		FROM tasks
		WHERE user_story_id = ?
		ORDER BY id`, userStoryID)
	if err != nil {
		return nil, fmt.Errorf("list story tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// Ownership lookups. Each is a single joined query filtered by the owning
// user, so rows that exist but belong to someone else are indistinguishable
// from missing rows (both yield sql.ErrNoRows).

func (s *SQLStore) FindOwnedProject(ctx context.Context, projectID, userID int64) (Project, error) {
	var item Project
	err := s.queryRow(ctx, `
		SELECT id, user_id, name, COALESCE(description, '')
		FROM projects
		WHERE id = ? AND user_id = ?`, projectID, userID,
	).Scan(&item.ID, &item.UserID, &item.Name, &item.Description)
	return item, err
}

func (s *SQLStore) FindOwnedFeature(ctx context.Context, featureID, userID int64) (OwnedFeature, error) {
	var item OwnedFeature
	err := s.queryRow(ctx, `
		SELECT f.id, f.project_id, f.name, COALESCE(f.description, ''), p.user_id
		FROM features f
		JOIN projects p ON p.id = f.project_id
		WHERE f.id = ? AND p.user_id = ?`, featureID, userID,
	).Scan(&item.ID, &item.ProjectID, &item.Name, &item.Description, &item.UserID)
	return item, err
}

func (s *SQLStore) FindOwnedUserStory(ctx context.Context, userStoryID, userID int64) (OwnedUserStory, error) {
	var item OwnedUserStory
	err := s.queryRow(ctx, `
		SELECT us.id, us.feature_id, us.name, COALESCE(us.description, ''), f.project_id, p.user_id
		FROM user_stories us
		JOIN features f ON f.id = us.feature_id
		JOIN projects p ON p.id = f.project_id
		WHERE us.id = ? AND p.user_id = ?`, userStoryID, userID,
	).Scan(&item.ID, &item.FeatureID, &item.Name, &item.Description, &item.ProjectID, &item.UserID)
	return item, err
}

func (s *SQLStore) FindOwnedTask(ctx context.Context, taskID, userID int64) (OwnedTask, error) {
	var item OwnedTask
	err := s.queryRow(ctx, `
		SELECT t.id, t.user_story_id, t.name, t.status, us.feature_id, f.project_id, p.user_id
		FROM tasks t
		JOIN user_stories us ON us.id = t.user_story_id
		JOIN features f ON f.id = us.feature_id
		JOIN projects p ON p.id = f.project_id
		WHERE t.id = ? AND p.user_id = ?`, taskID, userID,
	).Scan(&item.ID, &item.UserStoryID, &item.Name, &item.Status, &item.FeatureID, &item.ProjectID, &item.UserID)
	return item, err
}

func (s *SQLStore) InsertProject(ctx context.Context, item Project) (Project, error) {
	id, err := s.insertID(ctx, `INSERT INTO projects (user_id, name, description) VALUES (?, ?, ?)`,
		item.UserID, item.Name, item.Description)
	if err != nil {
		return Project{}, fmt.Errorf("insert project: %w", err)
	}
	item.ID = id
	return item, nil
}

func (s *SQLStore) InsertFeature(ctx context.Context, item Feature) (Feature, error) {
	id, err := s.insertID(ctx, `INSERT INTO features (project_id, name, description) VALUES (?, ?, ?)`,
		item.ProjectID, item.Name, item.Description)
	if err != nil {
		return Feature{}, fmt.Errorf("insert feature: %w", err)
	}
	item.ID = id
	return item, nil
}

func (s *SQLStore) InsertUserStory(ctx context.Context, item UserStory) (UserStory, error) {
	id, err := s.insertID(ctx, `INSERT INTO user_stories (feature_id, name, description) VALUES (?, ?, ?)`,
		item.FeatureID, item.Name, item.Description)
	if err != nil {
		return UserStory{}, fmt.Errorf("insert user story: %w", err)
	}
	item.ID = id
	return item, nil
}

func (s *SQLStore) InsertTask(ctx context.Context, item Task) (Task, error) {
	if item.Status == "" {
		item.Status = StatusToDo
	}
	id, err := s.insertID(ctx, `INSERT INTO tasks (user_story_id, name, status) VALUES (?, ?, ?)`,
		item.UserStoryID, item.Name, string(item.Status))
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	item.ID = id
	return item, nil
}

func (s *SQLStore) UpdateProject(ctx context.Context, projectID int64, patch ProjectPatch) error {
	var set setClause
	if patch.Name != nil {
		set.add("name", *patch.Name)
	}
	if patch.Description != nil {
		set.add("description", *patch.Description)
	}
	if _, err := s.updateRow(ctx, "projects", projectID, set); err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return nil
}

func (s *SQLStore) UpdateFeature(ctx context.Context, featureID int64, patch FeaturePatch) error {
	var set setClause
	if patch.Name != nil {
		set.add("name", *patch.Name)
	}
	if patch.Description != nil {
		set.add("description", *patch.Description)
	}
	if _, err := s.updateRow(ctx, "features", featureID, set); err != nil {
		return fmt.Errorf("update feature: %w", err)
	}
	return nil
}

func (s *SQLStore) UpdateUserStory(ctx context.Context, userStoryID int64, patch UserStoryPatch) error {
	var set setClause
	if patch.Name != nil {
		set.add("name", *patch.Name)
	}
	if patch.Description != nil {
		set.add("description", *patch.Description)
	}
	if _, err := s.updateRow(ctx, "user_stories", userStoryID, set); err != nil {
		return fmt.Errorf("update user story: %w", err)
	}
	return nil
}

func (s *SQLStore) UpdateTask(ctx context.Context, taskID int64, patch TaskPatch) error {
	var set setClause
	if patch.Name != nil {
		set.add("name", *patch.Name)
	}
	if patch.Status != nil {
		set.add("status", string(*patch.Status))
	}
	if _, err := s.updateRow(ctx, "tasks", taskID, set); err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

// Deletes rely on ON DELETE CASCADE, so one statement removes the whole
// subtree. The returned count covers the named row only.

func (s *SQLStore) DeleteProject(ctx context.Context, projectID int64) (int64, error) {
	n, err := s.deleteRow(ctx, "projects", projectID)
	if err != nil {
		return 0, fmt.Errorf("delete project: %w", err)
	}
	return n, nil
}

func (s *SQLStore) DeleteFeature(ctx context.Context, featureID int64) (int64, error) {
	n, err := s.deleteRow(ctx, "features", featureID)
	if err != nil {
		return 0, fmt.Errorf("delete feature: %w", err)
	}
	return n, nil
}

func (s *SQLStore) DeleteUserStory(ctx context.Context, userStoryID int64) (int64, error) {
	n, err := s.deleteRow(ctx, "user_stories", userStoryID)
	if err != nil {
		return 0, fmt.Errorf("delete user story: %w", err)
	}
	return n, nil
}

func (s *SQLStore) DeleteTask(ctx context.Context, taskID int64) (int64, error) {
	n, err := s.deleteRow(ctx, "tasks", taskID)
	if err != nil {
		return 0, fmt.Errorf("delete task: %w", err)
	}
	return n, nil
}

// SearchItems is the database fallback for plan search: a case-insensitive
// substring match over names and descriptions of the user's items.
func (s *SQLStore) SearchItems(ctx context.Context, userID int64, query, kind string, limit, offset int) ([]SearchHit, error) {
	pattern := likePattern(query)
	parts := make([]string, 0, 4)
	args := make([]any, 0, 12)
	if kind == "" || kind == "project" {
		parts = append(parts, `
			SELECT 'project' AS kind, p.id, p.name, COALESCE(p.description, '') AS description, p.id AS project_id
			FROM projects p
			WHERE p.user_id = ? AND (LOWER(p.name) LIKE ? ESCAPE '\' OR LOWER(COALESCE(p.description, '')) LIKE ? ESCAPE '\')`)
		args = append(args, userID, pattern, pattern)
	}
	if kind == "" || kind == "feature" {
		parts = append(parts, `
			SELECT 'feature' AS kind, f.id, f.name, COALESCE(f.description, '') AS description, f.project_id AS project_id
			FROM features f
			JOIN projects p ON p.id = f.project_id
			WHERE p.user_id = ? AND (LOWER(f.name) LIKE ? ESCAPE '\' OR LOWER(COALESCE(f.description, '')) LIKE ? ESCAPE '\')`)
		args = append(args, userID, pattern, pattern)
	}
	if kind == "" || kind == "userStory" {
		parts = append(parts, `
			SELECT 'userStory' AS kind, us.id, us.name, COALESCE(us.description, '') AS description, f.project_id AS project_id
			FROM user_stories us
			JOIN features f ON f.id = us.feature_id
			JOIN projects p ON p.id = f.project_id
			WHERE p.user_id = ? AND (LOWER(us.name) LIKE ? ESCAPE '\' OR LOWER(COALESCE(us.description, '')) LIKE ? ESCAPE '\')`)
		args = append(args, userID, pattern, pattern)
	}
	if kind == "" || kind == "task" {
		parts = append(parts, `
			SELECT 'task' AS kind, t.id, t.name, '' AS description, f.project_id AS project_id
			FROM tasks t
			JOIN user_stories us ON us.id = t.user_story_id
			JOIN features f ON f.id = us.feature_id
			JOIN projects p ON p.id = f.project_id
			WHERE p.user_id = ? AND LOWER(t.name) LIKE ? ESCAPE '\'`)
		args = append(args, userID, pattern)
	}
	if len(parts) == 0 {
		return []SearchHit{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	query = `SELECT kind, id, name, description, project_id FROM (` + strings.Join(parts, " UNION ALL ") + `) hits ORDER BY kind, id LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search items: %w", err)
	}
	defer rows.Close()

	hits := make([]SearchHit, 0)
	for rows.Next() {
		var hit SearchHit
		if err := rows.Scan(&hit.Kind, &hit.ID, &hit.Name, &hit.Description, &hit.ProjectID); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search hits: %w", err)
	}
	return hits, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// likePattern builds a substring LIKE pattern matching query literally.
func likePattern(query string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(strings.TrimSpace(query))) + "%"
}
