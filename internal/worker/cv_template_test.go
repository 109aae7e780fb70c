package worker

import (
	"strings"
	"testing"

	"cvforge/internal/cv"
	"cvforge/internal/database"
)

func sampleDocument() (cv.Theme, cv.Data) {
	theme := cv.DefaultTheme()
	data := cv.EmptyData("Alice Johnson", "alice@example.com")
	data.Header.Title = "Backend Engineer"
	data.Summary.Content = "<p>Ten years of Go.</p>"
	end := "2024-06"
	data.Experience = []cv.Experience{
		{
			Company:         "Acme",
			Role:            "Engineer",
			StartDate:       "2020-01",
			EndDate:         &end,
			BulletsRichText: []string{"<b>Shipped</b> the billing system"},
			TechStack:       []string{"Go", "Postgres"},
		},
		{Company: "Hidden Corp", Role: "Intern", StartDate: "2019-01", Hidden: true},
	}
	data.Skills.Groups = []cv.SkillGroup{{Name: "Languages", Items: []string{"Go", "SQL"}}}
	return theme, data
}

func TestRenderHTMLAllTemplates(t *testing.T) {
	theme, data := sampleDocument()

	for _, name := range []string{database.TemplateClassic, database.TemplateModern, database.TemplateCompact} {
		html, err := RenderHTML("My CV", name, theme, data)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if !strings.Contains(html, "Alice Johnson") {
			t.Errorf("%s: missing full name", name)
		}
		if !strings.Contains(html, "<b>Shipped</b> the billing system") {
			t.Errorf("%s: rich text must not be escaped", name)
		}
		if !strings.Contains(html, theme.AccentColor) {
			t.Errorf("%s: accent color not applied", name)
		}
	}
}

func TestRenderHTMLSkipsHiddenEntries(t *testing.T) {
	theme, data := sampleDocument()

	html, err := RenderHTML("My CV", database.TemplateClassic, theme, data)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(html, "Hidden Corp") {
		t.Error("hidden experience entry must not render")
	}
}

func TestRenderHTMLHonorsHiddenSections(t *testing.T) {
	theme, data := sampleDocument()
	theme.HiddenSections = []string{"skills"}

	html, err := RenderHTML("My CV", database.TemplateClassic, theme, data)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(html, "Languages</strong>: Go, SQL") {
		t.Error("hidden section must not render")
	}
}

func TestRenderHTMLUnknownTemplateFallsBack(t *testing.T) {
	theme, data := sampleDocument()

	html, err := RenderHTML("My CV", "BOGUS", theme, data)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(html, "Alice Johnson") {
		t.Error("fallback template should still render")
	}
}
