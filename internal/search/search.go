package search

import (
	"strconv"

	"planner/api/internal/store"
)

// ResultType identifies the plan level of a search hit.
type ResultType string

const (
	ResultProject   ResultType = "project"
	ResultFeature   ResultType = "feature"
	ResultUserStory ResultType = "userStory"
	ResultTask      ResultType = "task"
)

func ParseResultType(value string) (ResultType, bool) {
	switch ResultType(value) {
	case "":
		return "", true
	case ResultProject, ResultFeature, ResultUserStory, ResultTask:
		return ResultType(value), true
	default:
		return "", false
	}
}

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        int64      `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	ProjectID int64      `json:"projectId"`
}

// Query describes a search request. Results are always scoped to UserID.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	UserID     int64
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Record is one plan item as stored in the search index. The primary key
// combines type and id because ids are only unique per table.
type Record struct {
	Key         string     `json:"key"`
	Type        ResultType `json:"type"`
	ItemID      int64      `json:"itemId"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Status      string     `json:"status,omitempty"`
	ProjectID   int64      `json:"projectId"`
	UserID      int64      `json:"userId"`
}

func recordKey(t ResultType, id int64) string {
	return string(t) + "-" + strconv.FormatInt(id, 10)
}

// RecordsFromTree flattens a project tree into index records.
func RecordsFromTree(tree store.ProjectTree) []Record {
	projectID, userID := tree.ID, tree.UserID
	records := []Record{{
		Key:         recordKey(ResultProject, projectID),
		Type:        ResultProject,
		ItemID:      projectID,
		Name:        tree.Name,
		Description: tree.Description,
		ProjectID:   projectID,
		UserID:      userID,
	}}
	for _, feature := range tree.Features {
		records = append(records, Record{
			Key:         recordKey(ResultFeature, feature.ID),
			Type:        ResultFeature,
			ItemID:      feature.ID,
			Name:        feature.Name,
			Description: feature.Description,
			ProjectID:   projectID,
			UserID:      userID,
		})
		for _, story := range feature.UserStories {
			records = append(records, Record{
				Key:         recordKey(ResultUserStory, story.ID),
				Type:        ResultUserStory,
				ItemID:      story.ID,
				Name:        story.Name,
				Description: story.Description,
				ProjectID:   projectID,
				UserID:      userID,
			})
			for _, task := range story.Tasks {
				records = append(records, Record{
					Key:       recordKey(ResultTask, task.ID),
					Type:      ResultTask,
					ItemID:    task.ID,
					Name:      task.Name,
					Status:    string(task.Status),
					ProjectID: projectID,
					UserID:    userID,
				})
			}
		}
	}
	return records
}
