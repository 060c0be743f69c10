package store

import "strings"

type Status string

const (
	StatusToDo       Status = "To Do"
	StatusInProgress Status = "In Progress"
	StatusDone       Status = "Done!"
)

// ParseStatus accepts the persisted task vocabulary plus "Done" as an alias
// of "Done!".
func ParseStatus(value string) (Status, bool) {
	switch strings.TrimSpace(value) {
	case string(StatusToDo):
		return StatusToDo, true
	case string(StatusInProgress):
		return StatusInProgress, true
	case string(StatusDone), "Done":
		return StatusDone, true
	default:
		return "", false
	}
}

type User struct {
	ID           int64
	Name         string
	Email        string
	Username     string
	PasswordHash string
}

type Project struct {
	ID          int64  `json:"id"`
	UserID      int64  `json:"userId"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Feature struct {
	ID          int64  `json:"id"`
	ProjectID   int64  `json:"projectId"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type UserStory struct {
	ID          int64  `json:"id"`
	FeatureID   int64  `json:"featureId"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Task struct {
	ID          int64  `json:"id"`
	UserStoryID int64  `json:"userStoryId"`
	Name        string `json:"name"`
	Status      Status `json:"status"`
}

// ProjectTree is a project with every level below it loaded, each level
// ordered by id ascending.
type ProjectTree struct {
	Project
	Features []FeatureTree
}

type FeatureTree struct {
	Feature
	UserStories []UserStoryTree
}

type UserStoryTree struct {
	UserStory
	Tasks []Task
}

// OwnedFeature is a feature fetched through its ownership join.
type OwnedFeature struct {
	Feature
	UserID int64
}

// OwnedUserStory carries the ancestor ids resolved by the ownership join.
type OwnedUserStory struct {
	UserStory
	ProjectID int64
	UserID    int64
}

type OwnedTask struct {
	Task
	FeatureID int64
	ProjectID int64
	UserID    int64
}

// Patches describe single-field updates. Nil fields are left untouched.
type ProjectPatch struct {
	Name        *string
	Description *string
}

type FeaturePatch struct {
	Name        *string
	Description *string
}

type UserStoryPatch struct {
	Name        *string
	Description *string
}

type TaskPatch struct {
	Name   *string
	Status *Status
}

type UserPatch struct {
	Name         *string
	Email        *string
	Username     *string
	PasswordHash *string
}

// SearchHit is a plan item matched by the SQL fallback search.
type SearchHit struct {
	Kind        string
	ID          int64
	Name        string
	Description string
	ProjectID   int64
}
