package app

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planner/api/internal/authpw"
	"planner/api/internal/config"
	"planner/api/internal/export"
	"planner/api/internal/ownership"
	"planner/api/internal/search"
	"planner/api/internal/store"
)

func testConfig() config.Config {
	return config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
		AppURL:     "http://planner.test",
		CORSOrigin: "*",
	}
}

func newTestStore(t *testing.T) *store.SQLStore {
	t.Helper()
	db, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return store.NewSQLiteStore(db)
}

func newTestService(t *testing.T) (*Service, *store.SQLStore) {
	t.Helper()
	s := newTestStore(t)
	return newService(testConfig(), s, nil), s
}

func createUser(t *testing.T, s *store.SQLStore, username string) store.User {
	t.Helper()
	user, err := s.CreateUser(context.Background(), store.User{
		Name:         username,
		Email:        username + "@example.com",
		Username:     username,
		PasswordHash: "hash",
	})
	require.NoError(t, err)
	return user
}

type plan struct {
	user    store.User
	project int64
	feature int64
	story   int64
	tasks   []int64
}

// seedStory builds one project, feature and story with tasks in the given
// statuses, through the coordinator.
func seedStory(t *testing.T, svc *Service, s *store.SQLStore, username string, statuses ...store.Status) plan {
	t.Helper()
	ctx := context.Background()
	user := createUser(t, s, username)

	projects, err := svc.CreateProject(ctx, "Launch", "v1", user.ID)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	projectID := projects[0].ID

	project, err := svc.CreateFeature(ctx, "Billing", "", user.ID, projectID)
	require.NoError(t, err)
	featureID := project.Features[0].ID

	project, err = svc.CreateUserStory(ctx, "Pay by card", "", user.ID, projectID, featureID)
	require.NoError(t, err)
	storyID := project.Features[0].UserStories[0].ID

	taskIDs := make([]int64, 0, len(statuses))
	for i, status := range statuses {
		project, err = svc.CreateTask(ctx, "task", user.ID, projectID, featureID, storyID)
		require.NoError(t, err)
		taskID := project.Features[0].UserStories[0].Tasks[i].ID
		if status != store.StatusToDo {
			_, err = svc.UpdateTask(ctx, "status", string(status), user.ID, taskID)
			require.NoError(t, err)
		}
		taskIDs = append(taskIDs, taskID)
	}
	return plan{user: user, project: projectID, feature: featureID, story: storyID, tasks: taskIDs}
}

func assertStatus(t *testing.T, err error, status int, code string) {
	t.Helper()
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, status, domainErr.Status)
	assert.Equal(t, code, domainErr.Code)
}

func TestAllDoneStoryCompletesEveryLevel(t *testing.T) {
	svc, s := newTestService(t)
	p := seedStory(t, svc, s, "ada", store.StatusDone, store.StatusDone)

	project, err := svc.GetProject(context.Background(), p.project, p.user.ID)
	require.NoError(t, err)
	require.NotNil(t, project)
	assert.Equal(t, store.StatusDone, project.Status)
	assert.Equal(t, store.StatusDone, project.Features[0].Status)
	assert.Equal(t, 2, project.Features[0].UserStories[0].CompletedTask)
	assert.Equal(t, 1, project.CompletedFeatures)
}

func TestStartedStoryIsInProgress(t *testing.T) {
	svc, s := newTestService(t)
	p := seedStory(t, svc, s, "ada", store.StatusToDo, store.StatusInProgress)

	project, err := svc.GetProject(context.Background(), p.project, p.user.ID)
	require.NoError(t, err)
	require.NotNil(t, project)
	assert.Equal(t, store.StatusInProgress, project.Features[0].Status)
	assert.Equal(t, store.StatusInProgress, project.Status)

	tasks, err := svc.UpdateTask(context.Background(), "name", "Form", p.user.ID, p.tasks[0])
	require.NoError(t, err)
	assert.Equal(t, "0/2", tasks.StoryStatus)
}

func TestDeleteTaskReturnsRemainingStoryTasks(t *testing.T) {
	svc, s := newTestService(t)
	p := seedStory(t, svc, s, "ada", store.StatusToDo, store.StatusDone, store.StatusDone)

	result, err := svc.DeleteTask(context.Background(), p.tasks[0], p.user.ID)
	require.NoError(t, err)
	assert.Equal(t, "2/2", result.StoryStatus)
	require.Len(t, result.TaskList, 2)
	assert.Equal(t, p.tasks[1], result.TaskList[0].ID)
	assert.Equal(t, p.tasks[2], result.TaskList[1].ID)

	last, err := svc.DeleteTask(context.Background(), p.tasks[1], p.user.ID)
	require.NoError(t, err)
	assert.Equal(t, "1/1", last.StoryStatus)

	emptied, err := svc.DeleteTask(context.Background(), p.tasks[2], p.user.ID)
	require.NoError(t, err)
	assert.Equal(t, "0/0", emptied.StoryStatus)
	assert.NotNil(t, emptied.TaskList)
	assert.Empty(t, emptied.TaskList)
}

func TestCreateUnderForeignProjectIsUnauthorized(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	owner := seedStory(t, svc, s, "ada")
	intruder := createUser(t, s, "mallory")

	_, err := svc.CreateFeature(ctx, "Sneaky", "", intruder.ID, owner.project)
	assertStatus(t, err, http.StatusUnauthorized, "UNAUTHORIZED")
	assert.ErrorIs(t, err, ownership.ErrParentNotOwned)
	assert.ErrorIs(t, err, ownership.ErrOwnership)

	_, err = svc.CreateFeature(ctx, "Ghost", "", owner.user.ID, 999)
	assertStatus(t, err, http.StatusUnauthorized, "UNAUTHORIZED")

	_, err = svc.CreateUserStory(ctx, "Sneaky", "", intruder.ID, owner.project, owner.feature)
	assertStatus(t, err, http.StatusUnauthorized, "UNAUTHORIZED")

	_, err = svc.CreateTask(ctx, "Sneaky", intruder.ID, owner.project, owner.feature, owner.story)
	assertStatus(t, err, http.StatusUnauthorized, "UNAUTHORIZED")

	project, err := svc.GetProject(ctx, owner.project, owner.user.ID)
	require.NoError(t, err)
	require.Len(t, project.Features, 1)
	assert.Empty(t, project.Features[0].UserStories[0].Tasks)
}

func TestCreateRejectsMismatchedChain(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	p := seedStory(t, svc, s, "ada")

	projects, err := svc.CreateProject(ctx, "Second", "", p.user.ID)
	require.NoError(t, err)
	second := projects[1].ID

	_, err = svc.CreateUserStory(ctx, "Misplaced", "", p.user.ID, second, p.feature)
	assertStatus(t, err, http.StatusUnauthorized, "UNAUTHORIZED")

	_, err = svc.CreateTask(ctx, "Misplaced", p.user.ID, second, p.feature, p.story)
	assertStatus(t, err, http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestCreateWithMissingParentPersistsNothing(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	p := seedStory(t, svc, s, "ada", store.StatusToDo)

	cases := []struct {
		name   string
		create func() error
	}{
		{"feature without project", func() error {
			_, err := svc.CreateFeature(ctx, "Orphan", "", p.user.ID, 0)
			return err
		}},
		{"user story without project", func() error {
			_, err := svc.CreateUserStory(ctx, "Orphan", "", p.user.ID, 0, p.feature)
			return err
		}},
		{"user story without feature", func() error {
			_, err := svc.CreateUserStory(ctx, "Orphan", "", p.user.ID, p.project, 0)
			return err
		}},
		{"task without project or feature", func() error {
			_, err := svc.CreateTask(ctx, "Orphan", p.user.ID, 0, 0, p.story)
			return err
		}},
		{"task without feature", func() error {
			_, err := svc.CreateTask(ctx, "Orphan", p.user.ID, p.project, 0, p.story)
			return err
		}},
		{"task without story", func() error {
			_, err := svc.CreateTask(ctx, "Orphan", p.user.ID, p.project, p.feature, 0)
			return err
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.create()
			assertStatus(t, err, http.StatusUnauthorized, "UNAUTHORIZED")
			assert.ErrorIs(t, err, ownership.ErrParentNotOwned)
		})
	}

	project, err := svc.GetProject(ctx, p.project, p.user.ID)
	require.NoError(t, err)
	require.NotNil(t, project)
	require.Len(t, project.Features, 1)
	require.Len(t, project.Features[0].UserStories, 1)
	assert.Len(t, project.Features[0].UserStories[0].Tasks, 1)
}

func TestUpdateForeignUserStoryIsBadRequest(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	owner := seedStory(t, svc, s, "ada")
	intruder := createUser(t, s, "mallory")

	_, err := svc.UpdateUserStory(ctx, "name", "New", intruder.ID, owner.story)
	assertStatus(t, err, http.StatusBadRequest, "BAD_REQUEST")
	assert.ErrorIs(t, err, ownership.ErrNotOwned)
	assert.ErrorIs(t, err, ownership.ErrOwnership)

	project, err := svc.GetProject(ctx, owner.project, owner.user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Pay by card", project.Features[0].UserStories[0].Name)
}

func TestOwnershipIsolationAcrossOperations(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	owner := seedStory(t, svc, s, "ada", store.StatusToDo)
	intruder := createUser(t, s, "mallory")

	cases := []struct {
		name string
		call func() error
	}{
		{"update project", func() error {
			_, err := svc.UpdateProject(ctx, "name", "x", intruder.ID, owner.project)
			return err
		}},
		{"delete project", func() error {
			_, err := svc.DeleteProject(ctx, owner.project, intruder.ID)
			return err
		}},
		{"update feature", func() error {
			_, err := svc.UpdateFeature(ctx, "name", "x", intruder.ID, owner.feature)
			return err
		}},
		{"delete feature", func() error {
			_, err := svc.DeleteFeature(ctx, owner.feature, intruder.ID)
			return err
		}},
		{"delete user story", func() error {
			_, err := svc.DeleteUserStory(ctx, owner.story, intruder.ID)
			return err
		}},
		{"update task", func() error {
			_, err := svc.UpdateTask(ctx, "status", "Done!", intruder.ID, owner.tasks[0])
			return err
		}},
		{"delete task", func() error {
			_, err := svc.DeleteTask(ctx, owner.tasks[0], intruder.ID)
			return err
		}},
		{"update missing task", func() error {
			_, err := svc.UpdateTask(ctx, "status", "Done!", owner.user.ID, 9999)
			return err
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assertStatus(t, tc.call(), http.StatusBadRequest, "BAD_REQUEST")
		})
	}

	project, err := svc.GetProject(ctx, owner.project, intruder.ID)
	require.NoError(t, err)
	assert.Nil(t, project)

	mine, err := svc.GetUserProjects(ctx, intruder.ID)
	require.NoError(t, err)
	assert.Empty(t, mine.Projects)
	assert.Equal(t, "mallory", mine.User.Username)

	untouched, err := svc.GetProject(ctx, owner.project, owner.user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Launch", untouched.Name)
	assert.Equal(t, store.StatusToDo, untouched.Features[0].UserStories[0].Tasks[0].Status)
}

func TestUpdatesRejectFieldsOutsideAllowList(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	p := seedStory(t, svc, s, "ada", store.StatusToDo)

	_, err := svc.UpdateProject(ctx, "userId", "2", p.user.ID, p.project)
	assertStatus(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.UpdateFeature(ctx, "name", "   ", p.user.ID, p.feature)
	assertStatus(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	_, err = svc.UpdateTask(ctx, "status", "Blocked", p.user.ID, p.tasks[0])
	assertStatus(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	_, err = svc.UpdateTask(ctx, "description", "x", p.user.ID, p.tasks[0])
	assertStatus(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	_, err = svc.CreateTask(ctx, "", p.user.ID, p.project, p.feature, p.story)
	assertStatus(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestUpdatesReturnReaggregatedProject(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	p := seedStory(t, svc, s, "ada", store.StatusToDo)

	project, err := svc.UpdateProject(ctx, "description", "v2", p.user.ID, p.project)
	require.NoError(t, err)
	assert.Equal(t, "v2", project.Description)
	assert.Equal(t, "Launch", project.Name)

	project, err = svc.UpdateFeature(ctx, "name", "Payments", p.user.ID, p.feature)
	require.NoError(t, err)
	assert.Equal(t, "Payments", project.Features[0].Name)

	project, err = svc.UpdateUserStory(ctx, "description", "Stripe", p.user.ID, p.story)
	require.NoError(t, err)
	assert.Equal(t, "Stripe", project.Features[0].UserStories[0].Description)

	tasks, err := svc.UpdateTask(ctx, "status", "Done", p.user.ID, p.tasks[0])
	require.NoError(t, err)
	assert.Equal(t, "1/1", tasks.StoryStatus)
	assert.Equal(t, store.StatusDone, tasks.TaskList[0].Status)

	got, err := svc.GetProject(ctx, p.project, p.user.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, store.StatusDone, got.Status)
}

func TestDeletesCascadeAndReturnScope(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	p := seedStory(t, svc, s, "ada", store.StatusDone)

	project, err := svc.DeleteUserStory(ctx, p.story, p.user.ID)
	require.NoError(t, err)
	assert.Empty(t, project.Features[0].UserStories)
	assert.Equal(t, store.StatusToDo, project.Features[0].Status)

	project, err = svc.DeleteFeature(ctx, p.feature, p.user.ID)
	require.NoError(t, err)
	assert.Empty(t, project.Features)
	assert.Equal(t, 0, project.FeatureCount)

	result, err := svc.DeleteProject(ctx, p.project, p.user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Affected)

	_, err = svc.DeleteProject(ctx, p.project, p.user.ID)
	assertStatus(t, err, http.StatusBadRequest, "BAD_REQUEST")

	_, err = s.FindOwnedTask(ctx, p.tasks[0], p.user.ID)
	assert.Error(t, err)
}

func TestCreateProjectReturnsWholeList(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	user := createUser(t, s, "ada")

	_, err := svc.CreateProject(ctx, "One", "", user.ID)
	require.NoError(t, err)
	projects, err := svc.CreateProject(ctx, "Two", "second", user.ID)
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "One", projects[0].Name)
	assert.Equal(t, "Two", projects[1].Name)
	assert.Equal(t, store.StatusToDo, projects[1].Status)
	assert.NotNil(t, projects[1].Features)
}

type failingStore struct {
	*store.SQLStore
	err error
}

func (f *failingStore) ProjectTree(context.Context, int64) (store.ProjectTree, error) {
	return store.ProjectTree{}, f.err
}

func TestStoreFailuresPropagate(t *testing.T) {
	s := newTestStore(t)
	boom := errors.New("connection reset")
	svc := newService(testConfig(), &failingStore{SQLStore: s, err: boom}, nil)
	ctx := context.Background()
	user := createUser(t, s, "ada")
	created, err := s.InsertProject(ctx, store.Project{UserID: user.ID, Name: "Launch"})
	require.NoError(t, err)

	_, err = svc.CreateFeature(ctx, "Billing", "", user.ID, created.ID)
	require.ErrorIs(t, err, boom)
	status, code, _, _ := mapError(err)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "SERVER_ERROR", code)

	_, err = svc.GetProject(ctx, created.ID, user.ID)
	require.ErrorIs(t, err, boom)
}

type recordingIndex struct {
	mu        sync.Mutex
	reindexed []int64
	removed   []int64
	all       int
	response  search.Response
	queries   []search.Query
}

func (r *recordingIndex) Search(_ context.Context, q search.Query) search.Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, q)
	return r.response
}

func (r *recordingIndex) ReindexProject(tree store.ProjectTree) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reindexed = append(r.reindexed, tree.ID)
}

func (r *recordingIndex) RemoveProject(projectID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, projectID)
}

func (r *recordingIndex) ReindexAll(trees []store.ProjectTree) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all += len(trees)
}

func TestMutationsFeedSearchIndex(t *testing.T) {
	svc, s := newTestService(t)
	index := &recordingIndex{}
	svc.search = index
	ctx := context.Background()

	p := seedStory(t, svc, s, "ada", store.StatusToDo)
	_, err := svc.DeleteProject(ctx, p.project, p.user.ID)
	require.NoError(t, err)

	assert.NotEmpty(t, index.reindexed)
	for _, id := range index.reindexed {
		assert.Equal(t, p.project, id)
	}
	assert.Equal(t, []int64{p.project}, index.removed)

	_, err = svc.CreateProject(ctx, "Other", "", p.user.ID)
	require.NoError(t, err)
	require.NoError(t, svc.ReindexSearch(ctx))
	assert.Equal(t, 1, index.all)
}

func TestSearchScopesAndValidates(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	p := seedStory(t, svc, s, "ada", store.StatusToDo)
	createUser(t, s, "bob")

	svc.search = search.NewService(nil, search.NewStoreFallback(s))

	resp, err := svc.Search(ctx, p.user.ID, "bill", "", 0, 0)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, search.ResultFeature, resp.Results[0].Type)
	assert.Equal(t, p.feature, resp.Results[0].ID)

	resp, err = svc.Search(ctx, p.user.ID+1, "bill", "", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, resp.Results)

	resp, err = svc.Search(ctx, p.user.ID, "bill", "feature", 0, 0)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, p.feature, resp.Results[0].ID)

	resp, err = svc.Search(ctx, p.user.ID, "task", "task", 0, 0)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, search.ResultTask, resp.Results[0].Type)
	assert.Equal(t, p.tasks[0], resp.Results[0].ID)

	resp, err = svc.Search(ctx, p.user.ID, "card", "userStory", 0, 0)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, p.story, resp.Results[0].ID)

	resp, err = svc.Search(ctx, p.user.ID, "bill", "task", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, resp.Results)

	_, err = svc.Search(ctx, p.user.ID, "bill", "epic", 0, 0)
	assertStatus(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

type stubExporter struct {
	req export.Request
	err error
}

func (s *stubExporter) Export(_ context.Context, req export.Request) (*export.Result, error) {
	s.req = req
	if s.err != nil {
		return nil, s.err
	}
	return &export.Result{Data: []byte("plan"), Filename: "launch.html", MimeType: "text/html"}, nil
}

func TestExportProject(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	p := seedStory(t, svc, s, "ada", store.StatusDone)
	stranger := createUser(t, s, "bob")

	exporter := &stubExporter{}
	svc.exporter = exporter

	result, err := svc.ExportProject(ctx, p.project, p.user.ID, "html")
	require.NoError(t, err)
	assert.Equal(t, "launch.html", result.Filename)
	assert.Equal(t, export.FormatHTML, exporter.req.Format)
	assert.Equal(t, "ada", exporter.req.Owner)
	assert.Equal(t, store.StatusDone, exporter.req.Project.Status)

	_, err = svc.ExportProject(ctx, p.project, stranger.ID, "pdf")
	assertStatus(t, err, http.StatusNotFound, "NOT_FOUND")

	_, err = svc.ExportProject(ctx, p.project, p.user.ID, "odt")
	assertStatus(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	exporter.err = export.ErrPDFDependencyMissing
	_, err = svc.ExportProject(ctx, p.project, p.user.ID, "pdf")
	assertStatus(t, err, http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE")
}

type capturedMail struct {
	to, name, url string
}

type stubMailer struct {
	configured bool
	sent       []capturedMail
}

func (m *stubMailer) IsConfigured() bool { return m.configured }

func (m *stubMailer) SendPasswordResetEmail(to, userName, resetURL string) error {
	m.sent = append(m.sent, capturedMail{to: to, name: userName, url: resetURL})
	return nil
}

func TestAccountLifecycle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	signedUp, err := svc.SignUp(ctx, authpw.SignUpRequest{Name: "Ada", Email: "ada@example.com", Username: "ada", Password: "password123"})
	require.NoError(t, err)
	assert.NotEmpty(t, signedUp.Token)
	assert.NotEmpty(t, signedUp.RefreshToken)

	_, err = svc.SignUp(ctx, authpw.SignUpRequest{Name: "A", Email: "other@example.com", Username: "ada", Password: "password123"})
	assertStatus(t, err, http.StatusConflict, "USERNAME_EXISTS")
	_, err = svc.SignUp(ctx, authpw.SignUpRequest{Name: "A", Email: "ada@example.com", Username: "ada2", Password: "password123"})
	assertStatus(t, err, http.StatusConflict, "EMAIL_EXISTS")
	_, err = svc.SignUp(ctx, authpw.SignUpRequest{Name: "A", Email: "a@example.com", Username: "a", Password: "short"})
	assertStatus(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Login(ctx, "ada", "wrong-password")
	assertStatus(t, err, http.StatusUnauthorized, "INVALID_CREDENTIALS")

	loggedIn, err := svc.Login(ctx, "ada", "password123")
	require.NoError(t, err)

	session, err := svc.SessionFromToken(ctx, loggedIn.Token)
	require.NoError(t, err)
	assert.Equal(t, signedUp.UserID, session.UserID)

	profile, err := svc.ChangeAccountDetail(ctx, session.UserID, "name", "Countess")
	require.NoError(t, err)
	assert.Equal(t, Profile{Name: "Countess", Email: "ada@example.com", Username: "ada"}, profile)

	refreshed, err := svc.Refresh(ctx, loggedIn.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, loggedIn.RefreshToken, refreshed.RefreshToken)
	_, err = svc.Refresh(ctx, loggedIn.RefreshToken)
	assert.Error(t, err, "refresh tokens rotate")

	require.NoError(t, svc.Logout(ctx, session, refreshed.RefreshToken))
	_, err = svc.SessionFromToken(ctx, loggedIn.Token)
	assert.Error(t, err)
	_, err = svc.Refresh(ctx, refreshed.RefreshToken)
	assert.Error(t, err)
}

func TestPasswordResetFlow(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.SignUp(ctx, authpw.SignUpRequest{Name: "Ada", Email: "ada@example.com", Username: "ada", Password: "password123"})
	require.NoError(t, err)

	t.Run("without mail or dev tokens nothing is returned", func(t *testing.T) {
		token, err := svc.RequestPasswordReset(ctx, "ada@example.com")
		require.NoError(t, err)
		assert.Empty(t, token)
	})

	t.Run("dev tokens return the token without mail", func(t *testing.T) {
		svc.cfg.DevResetTokens = true
		defer func() { svc.cfg.DevResetTokens = false }()

		token, err := svc.RequestPasswordReset(ctx, "ada@example.com")
		require.NoError(t, err)
		require.NotEmpty(t, token)

		require.NoError(t, svc.ResetPassword(ctx, token, "new-password"))
		_, err = svc.Login(ctx, "ada", "new-password")
		require.NoError(t, err)

		err = svc.ResetPassword(ctx, token, "third-password")
		assertStatus(t, err, http.StatusBadRequest, "BAD_REQUEST")
	})

	t.Run("with mail the link is sent", func(t *testing.T) {
		mail := &stubMailer{configured: true}
		svc.mail = mail
		defer func() { svc.mail = nil }()

		token, err := svc.RequestPasswordReset(ctx, "ada@example.com")
		require.NoError(t, err)
		assert.Empty(t, token)
		require.Len(t, mail.sent, 1)
		assert.Equal(t, "ada@example.com", mail.sent[0].to)
		assert.Contains(t, mail.sent[0].url, "http://planner.test/reset-password?token=")
	})

	t.Run("unknown email is silent", func(t *testing.T) {
		token, err := svc.RequestPasswordReset(ctx, "nobody@example.com")
		require.NoError(t, err)
		assert.Empty(t, token)
	})
}
