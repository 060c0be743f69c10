package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"

	"planner/api/internal/rollup"
	"planner/api/internal/store"
)

var planTemplate = template.Must(template.New("plan").Funcs(template.FuncMap{
	"statusClass": func(s store.Status) string {
		return strings.ToLower(strings.Trim(strings.ReplaceAll(string(s), " ", "-"), "!"))
	},
	"completion": rollup.StoryCompletion,
}).Parse(planHTML))

// PlanData holds data for plan template rendering
type PlanData struct {
	Project     rollup.Project
	Owner       string
	GeneratedAt time.Time
}

// RenderPlanHTML renders an aggregated project as a standalone HTML page.
func RenderPlanHTML(data PlanData) (string, error) {
	var buf bytes.Buffer
	if err := planTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const planHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Project.Name}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.5; max-width: 800px; margin: 2rem auto; color: #222; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .status { font-size: 0.8em; padding: 0.1rem 0.4rem; border-radius: 3px; background: #eee; }
    .status.done { background: #d4edda; }
    .status.in-progress { background: #fff3cd; }
    .feature { margin: 1.5rem 0; }
    .story { margin: 0.75rem 0 0.75rem 1rem; padding-left: 0.75rem; border-left: 3px solid #ccc; }
    ul { margin: 0.25rem 0; }
  </style>
</head>
<body>
  <h1>{{.Project.Name}} <span class="status {{statusClass .Project.Status}}">{{.Project.Status}}</span></h1>
  {{if .Project.Description}}<p>{{.Project.Description}}</p>{{end}}
  <div class="meta">{{if .Owner}}{{.Owner}} | {{end}}{{.Project.CompletedFeatures}}/{{.Project.FeatureCount}} features done | {{.GeneratedAt.Format "Jan 2, 2006"}}</div>
  {{range .Project.Features}}
  <div class="feature">
    <h2>{{.Name}} <span class="status {{statusClass .Status}}">{{.Status}}</span></h2>
    {{if .Description}}<p>{{.Description}}</p>{{end}}
    {{range .UserStories}}
    <div class="story">
      <h3>{{.Name}} ({{completion .Tasks}})</h3>
      {{if .Description}}<p>{{.Description}}</p>{{end}}
      {{if .Tasks}}<ul>{{range .Tasks}}<li>{{.Name}} <span class="status {{statusClass .Status}}">{{.Status}}</span></li>{{end}}</ul>{{end}}
    </div>
    {{end}}
  </div>
  {{else}}
  <p>No features yet.</p>
  {{end}}
</body>
</html>`
