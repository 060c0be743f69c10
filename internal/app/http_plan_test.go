package app

import (
	"fmt"
	"net/http"
	"testing"
)

func asID(t *testing.T, value any) int64 {
	t.Helper()
	n, ok := value.(float64)
	if !ok {
		t.Fatalf("expected numeric id, got %T %v", value, value)
	}
	return int64(n)
}

func firstFeature(t *testing.T, project map[string]any) map[string]any {
	t.Helper()
	features, _ := project["features"].([]any)
	if len(features) == 0 {
		t.Fatalf("expected at least one feature in %v", project)
	}
	return features[0].(map[string]any)
}

func TestPlanRoutesEndToEnd(t *testing.T) {
	svc, _ := newTestService(t)
	handler := NewHTTPServer(svc, "*").Handler()
	token, _ := signUp(t, handler, "ada")["accessToken"].(string)

	rr, _ := doJSON(t, handler, http.MethodPost, "/api/projects", token, `{"name":"Launch","description":"v1"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create project: %d %s", rr.Code, rr.Body.String())
	}

	rr, listing := doJSON(t, handler, http.MethodGet, "/api/projects", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list projects: %d", rr.Code)
	}
	user, _ := listing["user"].(map[string]any)
	if user["username"] != "ada" {
		t.Fatalf("expected user summary, got %v", listing["user"])
	}
	projects, _ := listing["projects"].([]any)
	if len(projects) != 1 {
		t.Fatalf("expected one project, got %v", listing["projects"])
	}
	project := projects[0].(map[string]any)
	projectID := asID(t, project["id"])
	if project["status"] != "To Do" || project["featureCount"] != float64(0) {
		t.Fatalf("unexpected empty project aggregate: %v", project)
	}

	rr, project = doJSON(t, handler, http.MethodPost, "/api/features", token,
		fmt.Sprintf(`{"name":"Billing","description":"","projectId":%d}`, projectID))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create feature: %d %s", rr.Code, rr.Body.String())
	}
	featureID := asID(t, firstFeature(t, project)["id"])

	rr, project = doJSON(t, handler, http.MethodPost, "/api/user-stories", token,
		fmt.Sprintf(`{"name":"Pay by card","projectId":"%d","featureId":%d}`, projectID, featureID))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create user story: %d %s", rr.Code, rr.Body.String())
	}
	stories, _ := firstFeature(t, project)["userStories"].([]any)
	storyID := asID(t, stories[0].(map[string]any)["id"])

	rr, project = doJSON(t, handler, http.MethodPost, "/api/tasks", token,
		fmt.Sprintf(`{"name":"Form","projectId":%d,"featureId":%d,"userStoryId":%d}`, projectID, featureID, storyID))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create task: %d %s", rr.Code, rr.Body.String())
	}
	stories, _ = firstFeature(t, project)["userStories"].([]any)
	tasks, _ := stories[0].(map[string]any)["tasks"].([]any)
	taskID := asID(t, tasks[0].(map[string]any)["id"])

	rr, taskList := doJSON(t, handler, http.MethodPut, "/api/tasks", token,
		fmt.Sprintf(`{"field":"status","value":"Done!","taskId":%d}`, taskID))
	if rr.Code != http.StatusOK {
		t.Fatalf("update task: %d %s", rr.Code, rr.Body.String())
	}
	if taskList["storyStatus"] != "1/1" {
		t.Fatalf("expected storyStatus 1/1, got %v", taskList["storyStatus"])
	}
	if items, _ := taskList["taskList"].([]any); len(items) != 1 {
		t.Fatalf("expected one task in taskList, got %v", taskList["taskList"])
	}

	rr, project = doJSON(t, handler, http.MethodGet, fmt.Sprintf("/api/projects/%d", projectID), token, "")
	if rr.Code != http.StatusOK || project["status"] != "Done!" || project["completedFeatures"] != float64(1) {
		t.Fatalf("expected completed project, got %d %v", rr.Code, project)
	}

	rr, project = doJSON(t, handler, http.MethodPut, "/api/projects", token,
		fmt.Sprintf(`{"field":"name","value":"Launch v2","projectId":%d}`, projectID))
	if rr.Code != http.StatusOK || project["name"] != "Launch v2" {
		t.Fatalf("update project: %d %v", rr.Code, project)
	}

	rr, taskList = doJSON(t, handler, http.MethodDelete, fmt.Sprintf("/api/tasks/%d", taskID), token, "")
	if rr.Code != http.StatusOK || taskList["storyStatus"] != "0/0" {
		t.Fatalf("delete task: %d %v", rr.Code, taskList)
	}

	rr, project = doJSON(t, handler, http.MethodDelete, fmt.Sprintf("/api/features/%d", featureID), token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("delete feature: %d", rr.Code)
	}
	if features, _ := project["features"].([]any); len(features) != 0 {
		t.Fatalf("expected no features after delete, got %v", project["features"])
	}

	rr, result := doJSON(t, handler, http.MethodDelete, fmt.Sprintf("/api/projects/%d", projectID), token, "")
	if rr.Code != http.StatusOK || result["affected"] != float64(1) {
		t.Fatalf("delete project: %d %v", rr.Code, result)
	}

	rr, _ = doJSON(t, handler, http.MethodGet, fmt.Sprintf("/api/projects/%d", projectID), token, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for deleted project, got %d", rr.Code)
	}
}

func TestPlanRoutesMapOwnershipFailures(t *testing.T) {
	svc, s := newTestService(t)
	handler := NewHTTPServer(svc, "*").Handler()
	owner := seedStory(t, svc, s, "ada", "To Do")
	intruderToken, _ := signUp(t, handler, "mallory")["accessToken"].(string)

	rr, payload := doJSON(t, handler, http.MethodPost, "/api/features", intruderToken,
		fmt.Sprintf(`{"name":"Sneaky","projectId":%d}`, owner.project))
	if rr.Code != http.StatusUnauthorized || payload["code"] != "UNAUTHORIZED" {
		t.Fatalf("expected 401 UNAUTHORIZED, got %d %v", rr.Code, payload)
	}

	rr, payload = doJSON(t, handler, http.MethodPut, "/api/user-stories", intruderToken,
		fmt.Sprintf(`{"field":"name","value":"New","userStoryId":%d}`, owner.story))
	if rr.Code != http.StatusBadRequest || payload["code"] != "BAD_REQUEST" {
		t.Fatalf("expected 400 BAD_REQUEST, got %d %v", rr.Code, payload)
	}

	rr, payload = doJSON(t, handler, http.MethodDelete, fmt.Sprintf("/api/tasks/%d", owner.tasks[0]), intruderToken, "")
	if rr.Code != http.StatusBadRequest || payload["code"] != "BAD_REQUEST" {
		t.Fatalf("expected 400 BAD_REQUEST, got %d %v", rr.Code, payload)
	}

	rr, _ = doJSON(t, handler, http.MethodGet, fmt.Sprintf("/api/projects/%d", owner.project), intruderToken, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign project, got %d", rr.Code)
	}

	rr, payload = doJSON(t, handler, http.MethodPut, "/api/tasks", intruderToken, `{"field":"status","value":"Done!","taskId":"abc"}`)
	if rr.Code != http.StatusBadRequest || payload["code"] != "INVALID_BODY" {
		t.Fatalf("expected 400 INVALID_BODY, got %d %v", rr.Code, payload)
	}

	rr, payload = doJSON(t, handler, http.MethodDelete, "/api/tasks/abc", intruderToken, "")
	if rr.Code != http.StatusUnprocessableEntity || payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected 422 VALIDATION_ERROR, got %d %v", rr.Code, payload)
	}
}

func TestSearchAndExportRoutes(t *testing.T) {
	svc, s := newTestService(t)
	handler := NewHTTPServer(svc, "*").Handler()
	p := seedStory(t, svc, s, "ada", "Done!")
	exporter := &stubExporter{}
	svc.exporter = exporter

	rr, payload := doJSON(t, handler, http.MethodPost, "/api/auth/login", "", `{"username":"ada","password":"irrelevant"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("seeded users have no usable password, got %d %v", rr.Code, payload)
	}

	session, err := svc.issueSession(t.Context(), p.user)
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}

	rr, payload = doJSON(t, handler, http.MethodGet, "/api/search?q=pay&type=userStory", session.Token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("search: %d %s", rr.Code, rr.Body.String())
	}
	if payload["query"] != "pay" {
		t.Fatalf("expected query echo, got %v", payload["query"])
	}
	if results, _ := payload["results"].([]any); results == nil {
		t.Fatalf("expected results array, got %v", payload["results"])
	}

	rr, payload = doJSON(t, handler, http.MethodGet, "/api/search?q=pay&limit=x", session.Token, "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for bad limit, got %d", rr.Code)
	}

	rr, _ = doJSON(t, handler, http.MethodGet, fmt.Sprintf("/api/projects/%d/export?format=html", p.project), session.Token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("export: %d %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); got != "text/html" {
		t.Fatalf("expected export mime type, got %q", got)
	}
	if got := rr.Header().Get("Content-Disposition"); got != `attachment; filename="launch.html"` {
		t.Fatalf("unexpected content disposition %q", got)
	}
	if rr.Body.String() != "plan" {
		t.Fatalf("unexpected export body %q", rr.Body.String())
	}
}
