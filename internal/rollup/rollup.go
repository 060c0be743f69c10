// Package rollup derives project, feature and user story status from leaf
// task status. Nothing here performs I/O; every function is deterministic
// over its input.
package rollup

import (
	"strconv"

	"planner/api/internal/store"
)

type Project struct {
	store.Project
	Status            store.Status `json:"status"`
	FeatureCount      int          `json:"featureCount"`
	CompletedFeatures int          `json:"completedFeatures"`
	Features          []Feature    `json:"features"`
}

type Feature struct {
	store.Feature
	Status               store.Status `json:"status"`
	UserStoriesCount     int          `json:"userStoriesCount"`
	CompletedUserStories int          `json:"completedUserStories"`
	UserStories          []UserStory  `json:"userStories"`
}

type UserStory struct {
	store.UserStory
	TaskCount     int          `json:"taskCount"`
	CompletedTask int          `json:"completedTask"`
	Tasks         []store.Task `json:"tasks"`
}

// Complete reports whether the story has tasks and all of them are done.
func (s UserStory) Complete() bool {
	return s.TaskCount > 0 && s.CompletedTask == s.TaskCount
}

func AggregateAll(trees []store.ProjectTree) []Project {
	out := make([]Project, 0, len(trees))
	for _, tree := range trees {
		out = append(out, Aggregate(tree))
	}
	return out
}

func Aggregate(tree store.ProjectTree) Project {
	project := Project{
		Project:      tree.Project,
		FeatureCount: len(tree.Features),
		Features:     make([]Feature, 0, len(tree.Features)),
	}
	projectStarted := false
	for _, featureTree := range tree.Features {
		feature, started := aggregateFeature(featureTree)
		if started {
			projectStarted = true
		}
		if feature.Status == store.StatusDone {
			project.CompletedFeatures++
		}
		project.Features = append(project.Features, feature)
	}
	project.Status = status(projectStarted, project.FeatureCount, project.CompletedFeatures)
	return project
}

func aggregateFeature(tree store.FeatureTree) (Feature, bool) {
	feature := Feature{
		Feature:          tree.Feature,
		UserStoriesCount: len(tree.UserStories),
		UserStories:      make([]UserStory, 0, len(tree.UserStories)),
	}
	started := false
	for _, storyTree := range tree.UserStories {
		story, storyStarted := aggregateStory(storyTree)
		if storyStarted {
			started = true
		}
		if story.Complete() {
			feature.CompletedUserStories++
		}
		feature.UserStories = append(feature.UserStories, story)
	}
	feature.Status = status(started, feature.UserStoriesCount, feature.CompletedUserStories)
	return feature, started
}

func aggregateStory(tree store.UserStoryTree) (UserStory, bool) {
	tasks := tree.Tasks
	if tasks == nil {
		tasks = []store.Task{}
	}
	done, inProgress := countTasks(tasks)
	story := UserStory{
		UserStory:     tree.UserStory,
		TaskCount:     len(tasks),
		CompletedTask: done,
		Tasks:         tasks,
	}
	return story, done > 0 || inProgress > 0
}

func countTasks(tasks []store.Task) (done, inProgress int) {
	for _, task := range tasks {
		switch task.Status {
		case store.StatusDone:
			done++
		case store.StatusInProgress:
			inProgress++
		}
	}
	return done, inProgress
}

func status(started bool, total, completed int) store.Status {
	switch {
	case !started:
		return store.StatusToDo
	case total > 0 && total == completed:
		return store.StatusDone
	default:
		return store.StatusInProgress
	}
}

// StoryCompletion renders the "<done>/<total>" summary of a story's tasks.
func StoryCompletion(tasks []store.Task) string {
	done, _ := countTasks(tasks)
	return strconv.Itoa(done) + "/" + strconv.Itoa(len(tasks))
}
