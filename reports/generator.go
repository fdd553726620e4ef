package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/pathway_backend/models"
	"github.com/mmdatafocus/pathway_backend/utils"
)

// Generator turns a student profile into a full roadmap document.
type Generator interface {
	Generate(ctx context.Context, studentInput json.RawMessage) (models.Document, error)
}

// Profile is the part of the student input the template generator reads.
// Unknown fields are kept on the report but ignored here.
type Profile struct {
	Name       string   `json:"name" validate:"max=120"`
	Grade      int      `json:"grade" validate:"omitempty,min=6,max=12"`
	Interests  []string `json:"interests" validate:"max=20,dive,max=80"`
	TargetYear int      `json:"targetYear" validate:"omitempty,min=2000,max=2100"`
}

const defaultGrade = 9

var (
	defaultInterests = []string{"core academics"}
	categories       = []string{"academics", "activities", "applications"}
)

// TemplateGenerator builds a deterministic roadmap: a fall and spring period
// for every remaining school year, and a short prioritized list of next steps.
type TemplateGenerator struct {
	validate *validator.Validate
}

func NewTemplateGenerator() *TemplateGenerator {
	return &TemplateGenerator{validate: utils.NewValidator()}
}

func (g *TemplateGenerator) Generate(_ context.Context, studentInput json.RawMessage) (models.Document, error) {
	profile, err := g.parseProfile(studentInput)
	if err != nil {
		return models.Document{}, err
	}

	name := profile.Name
	if name == "" {
		name = "Student"
	}
	grade := profile.Grade
	if grade == 0 {
		grade = defaultGrade
	}
	interests := profile.Interests
	if len(interests) == 0 {
		interests = defaultInterests
	}

	doc := models.Document{
		Overview: models.Overview{
			Title:      fmt.Sprintf("%s's pathway", name),
			Summary:    overviewSummary(name, grade, profile.TargetYear, interests),
			Highlights: highlights(interests),
		},
	}

	idx := 0
	for y := grade; y <= 12; y++ {
		for _, term := range []string{"Fall", "Spring"} {
			interest := interests[idx%len(interests)]
			doc.Timeline = append(doc.Timeline, models.TimelinePeriod{
				Label:   fmt.Sprintf("Grade %d %s", y, term),
				Summary: fmt.Sprintf("Build depth in %s.", interest),
				Events:  periodEvents(y, term, interest),
			})
			idx++
		}
	}

	doc.NextSteps = []models.NextStep{
		{Priority: 1, Title: "Pick a focus course", Detail: fmt.Sprintf("Enroll in the most advanced %s course available next term.", interests[0])},
		{Priority: 2, Title: "Start a project", Detail: "Choose one project you can show by the end of the year."},
		{Priority: 3, Title: "Find a mentor", Detail: "Ask a teacher or counselor to review this plan each semester."},
	}
	return doc, nil
}

func (g *TemplateGenerator) parseProfile(studentInput json.RawMessage) (Profile, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(studentInput, &fields); err != nil || fields == nil {
		return Profile{}, utils.NewValidationError("studentInput must be a JSON object", err)
	}

	var p Profile
	if err := json.Unmarshal(studentInput, &p); err != nil {
		return Profile{}, utils.NewValidationError("studentInput has invalid profile fields", err)
	}
	p.Name = strings.TrimSpace(p.Name)
	p.Interests = utils.SplitAndTrim(strings.Join(p.Interests, ","))
	if err := utils.ValidateStruct(g.validate, p); err != nil {
		return Profile{}, err
	}
	return p, nil
}

func overviewSummary(name string, grade, targetYear int, interests []string) string {
	s := fmt.Sprintf("A semester-by-semester plan for %s from grade %d, focused on %s.",
		name, grade, strings.Join(interests, ", "))
	if targetYear > 0 {
		s += fmt.Sprintf(" Target entry year: %d.", targetYear)
	}
	return s
}

func highlights(interests []string) []string {
	out := make([]string, 0, len(interests))
	for _, in := range interests {
		out = append(out, "Strengthen "+in)
	}
	return out
}

func periodEvents(grade int, term, interest string) []models.TimelineEvent {
	events := []models.TimelineEvent{
		{Title: "Coursework", Detail: fmt.Sprintf("Take one %s course this %s.", interest, strings.ToLower(term)), Category: categories[0]},
		{Title: "Activity", Detail: fmt.Sprintf("Join or lead a %s club or team.", interest), Category: categories[1]},
	}
	if grade >= 11 {
		events = append(events, models.TimelineEvent{
			Title:    "Applications",
			Detail:   "Shortlist programs and track deadlines.",
			Category: categories[2],
		})
	}
	return events
}
