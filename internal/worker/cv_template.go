package worker

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"cvforge/internal/cv"
	"cvforge/internal/database"
)

// renderContext 是模板执行时的根对象。
// Sections 已按主题顺序排列并剔除隐藏区块。
type renderContext struct {
	Title    string
	Theme    cv.Theme
	Data     cv.Data
	Sections []string
}

var templateFuncs = template.FuncMap{
	// 富文本字段由前端编辑器产出，渲染时不再转义。
	"safeHTML": func(s string) template.HTML { return template.HTML(s) },
	"safeCSS":  func(s string) template.CSS { return template.CSS(s) },
	"join":     strings.Join,
	"dateRange": func(start string, end *string) string {
		if end == nil || strings.TrimSpace(*end) == "" {
			return start + " – Present"
		}
		return start + " – " + *end
	},
}

var cvTemplates = map[string]*template.Template{
	database.TemplateClassic: mustParseTemplate(classicStyleString),
	database.TemplateModern:  mustParseTemplate(modernStyleString),
	database.TemplateCompact: mustParseTemplate(compactStyleString),
}

func mustParseTemplate(styles string) *template.Template {
	t := template.New("cv").Funcs(templateFuncs)
	template.Must(t.New("styles").Parse(styles))
	template.Must(t.Parse(baseTemplateString))
	return t
}

// RenderHTML 将简历文档渲染为完整的 HTML 页面，供无头浏览器打印。
func RenderHTML(title, templateName string, theme cv.Theme, data cv.Data) (string, error) {
	t, ok := cvTemplates[templateName]
	if !ok {
		t = cvTemplates[database.TemplateClassic]
	}

	ctx := renderContext{
		Title:    title,
		Theme:    theme,
		Data:     data,
		Sections: visibleSections(theme),
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("render cv template %q: %w", templateName, err)
	}
	return buf.String(), nil
}

func visibleSections(theme cv.Theme) []string {
	order := theme.SectionOrder
	if len(order) == 0 {
		order = cv.DefaultSectionOrder
	}

	hidden := make(map[string]struct{}, len(theme.HiddenSections))
	for _, key := range theme.HiddenSections {
		hidden[key] = struct{}{}
	}

	result := make([]string, 0, len(order))
	for _, key := range order {
		if _, ok := hidden[key]; ok {
			continue
		}
		result = append(result, key)
	}
	return result
}

// baseTemplateString 承载与模板无关的区块结构，样式由各模板的 "styles" 片段注入。
const baseTemplateString = `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Title}}</title>
    <style>
        @page { size: A4; margin: 0; }
        body {
            margin: 0;
            padding: 0;
            font-family: '{{.Theme.FontFamily}}', sans-serif;
            color: #1f2937;
        }
        .page {
            width: 794px; /* A4 @ 96 DPI */
            min-height: 1122px;
            background: white;
            box-sizing: border-box;
        }
        .accent { color: {{.Theme.AccentColor}}; }
        h1, h2, h3 { margin: 0; }
        ul { margin: 4px 0; padding-left: 18px; }
        a { color: inherit; text-decoration: none; }
        .muted { color: #6b7280; }
        .entry { margin-bottom: 8px; }
        .entry-head { display: flex; justify-content: space-between; }
        .tech { font-size: 0.85em; color: #6b7280; }
{{template "styles" .}}
    </style>
</head>
<body>
    <div class="page">
        {{range .Sections}}
            {{if eq . "header"}}{{template "header" $}}{{end}}
            {{if eq . "summary"}}{{template "summary" $}}{{end}}
            {{if eq . "experience"}}{{template "experience" $}}{{end}}
            {{if eq . "education"}}{{template "education" $}}{{end}}
            {{if eq . "projects"}}{{template "projects" $}}{{end}}
            {{if eq . "skills"}}{{template "skills" $}}{{end}}
            {{if eq . "certifications"}}{{template "certifications" $}}{{end}}
            {{if eq . "languages"}}{{template "languages" $}}{{end}}
            {{if eq . "interests"}}{{template "interests" $}}{{end}}
            {{if eq . "customSections"}}{{template "customSections" $}}{{end}}
        {{end}}
    </div>
</body>
</html>

{{define "header"}}
<header class="section section-header">
    {{with .Data.Header}}
    {{if .AvatarURL}}<img class="avatar" src="{{.AvatarURL}}" alt="" />{{end}}
    <h1>{{.FullName}}</h1>
    {{if .Title}}<div class="accent job-title">{{.Title}}</div>{{end}}
    <div class="contact muted">
        {{if .Email}}<span>{{.Email}}</span>{{end}}
        {{if .Phone}}<span>{{.Phone}}</span>{{end}}
        {{if .Location}}<span>{{.Location}}</span>{{end}}
        {{if .Website}}<span>{{.Website}}</span>{{end}}
        {{if .Github}}<span>{{.Github}}</span>{{end}}
        {{if .Linkedin}}<span>{{.Linkedin}}</span>{{end}}
    </div>
    {{if .SummaryRichText}}<div class="rich">{{.SummaryRichText | safeHTML}}</div>{{end}}
    {{end}}
</header>
{{end}}

{{define "summary"}}
{{if .Data.Summary.Content}}
<section class="section">
    <h2 class="accent">Summary</h2>
    <div class="rich">{{.Data.Summary.Content | safeHTML}}</div>
</section>
{{end}}
{{end}}

{{define "experience"}}
{{if .Data.Experience}}
<section class="section">
    <h2 class="accent">Experience</h2>
    {{range .Data.Experience}}{{if not .Hidden}}
    <div class="entry">
        <div class="entry-head">
            <h3>{{.Role}} · {{.Company}}</h3>
            <span class="muted">{{dateRange .StartDate .EndDate}}</span>
        </div>
        {{if .Location}}<div class="muted">{{.Location}}</div>{{end}}
        {{if .BulletsRichText}}
        <ul>
            {{range .BulletsRichText}}<li>{{. | safeHTML}}</li>{{end}}
        </ul>
        {{end}}
        {{if .TechStack}}<div class="tech">{{join .TechStack " · "}}</div>{{end}}
    </div>
    {{end}}{{end}}
</section>
{{end}}
{{end}}

{{define "education"}}
{{if .Data.Education}}
<section class="section">
    <h2 class="accent">Education</h2>
    {{range .Data.Education}}{{if not .Hidden}}
    <div class="entry">
        <div class="entry-head">
            <h3>{{.School}}</h3>
            <span class="muted">{{.StartDate}} – {{.EndDate}}</span>
        </div>
        <div>{{.Degree}}</div>
        {{if .DetailsRichText}}<div class="rich">{{.DetailsRichText | safeHTML}}</div>{{end}}
    </div>
    {{end}}{{end}}
</section>
{{end}}
{{end}}

{{define "projects"}}
{{if .Data.Projects}}
<section class="section">
    <h2 class="accent">Projects</h2>
    {{range .Data.Projects}}{{if not .Hidden}}
    <div class="entry">
        <div class="entry-head">
            <h3>{{.Name}}</h3>
            {{if .Link}}<span class="muted">{{.Link}}</span>{{end}}
        </div>
        {{if .DescriptionRichText}}<div class="rich">{{.DescriptionRichText | safeHTML}}</div>{{end}}
        {{if .BulletsRichText}}
        <ul>
            {{range .BulletsRichText}}<li>{{. | safeHTML}}</li>{{end}}
        </ul>
        {{end}}
        {{if .TechStack}}<div class="tech">{{join .TechStack " · "}}</div>{{end}}
    </div>
    {{end}}{{end}}
</section>
{{end}}
{{end}}

{{define "skills"}}
{{if .Data.Skills.Groups}}
<section class="section">
    <h2 class="accent">Skills</h2>
    {{range .Data.Skills.Groups}}{{if not .Hidden}}
    <div class="entry">
        <strong>{{.Name}}</strong>: {{join .Items ", "}}
    </div>
    {{end}}{{end}}
</section>
{{end}}
{{end}}

{{define "certifications"}}
{{if .Data.Certifications}}
<section class="section">
    <h2 class="accent">Certifications</h2>
    {{range .Data.Certifications}}{{if not .Hidden}}
    <div class="entry">
        <div class="entry-head">
            <span><strong>{{.Name}}</strong>{{if .Org}} — {{.Org}}{{end}}</span>
            <span class="muted">{{.Date}}</span>
        </div>
    </div>
    {{end}}{{end}}
</section>
{{end}}
{{end}}

{{define "languages"}}
{{if .Data.Languages}}
<section class="section">
    <h2 class="accent">Languages</h2>
    <div>
        {{range .Data.Languages}}{{if not .Hidden}}<span class="entry-inline">{{.Name}} ({{.Level}})</span> {{end}}{{end}}
    </div>
</section>
{{end}}
{{end}}

{{define "interests"}}
{{if .Data.Interests}}
<section class="section">
    <h2 class="accent">Interests</h2>
    <div>{{join .Data.Interests ", "}}</div>
</section>
{{end}}
{{end}}

{{define "customSections"}}
{{range .Data.CustomSections}}{{if not .Hidden}}
<section class="section">
    <h2 class="accent">{{.Title}}</h2>
    {{range .Items}}{{if not .Hidden}}
    <div class="entry">
        <strong>{{.Label}}</strong>
        {{if .ValueRichText}}<div class="rich">{{.ValueRichText | safeHTML}}</div>{{end}}
    </div>
    {{end}}{{end}}
</section>
{{end}}{{end}}
{{end}}
`

const classicStyleString = `
        .page { padding: 48px 56px; font-size: 11pt; }
        .section { margin-bottom: 18px; }
        .section h2 {
            font-size: 13pt;
            text-transform: uppercase;
            letter-spacing: 1px;
            border-bottom: 1px solid {{.Theme.AccentColor}};
            padding-bottom: 2px;
            margin-bottom: 8px;
        }
        .section-header { text-align: center; border-bottom: 2px solid {{.Theme.AccentColor}}; padding-bottom: 12px; }
        .section-header h1 { font-size: 22pt; }
        .contact span + span::before { content: " • "; }
        .avatar { width: 84px; height: 84px; border-radius: 50%; object-fit: cover; }
`

const modernStyleString = `
        .page { padding: 0; font-size: 10.5pt; }
        .section { margin: 0 40px 16px; }
        .section h2 {
            font-size: 12pt;
            text-transform: uppercase;
            letter-spacing: 2px;
            margin-bottom: 6px;
        }
        .section-header {
            background: {{.Theme.AccentColor}};
            color: white;
            margin: 0 0 20px;
            padding: 36px 40px;
        }
        .section-header h1 { font-size: 24pt; }
        .section-header .accent, .section-header .muted { color: rgba(255, 255, 255, 0.85); }
        .contact { margin-top: 6px; }
        .contact span + span::before { content: "  |  "; }
        .avatar { width: 72px; height: 72px; border-radius: 50%; object-fit: cover; float: right; }
`

const compactStyleString = `
        .page { padding: 32px 40px; font-size: 9.5pt; line-height: 1.25; }
        .section { margin-bottom: 10px; }
        .section h2 {
            font-size: 10.5pt;
            text-transform: uppercase;
            margin-bottom: 4px;
        }
        .section-header h1 { font-size: 17pt; display: inline; margin-right: 10px; }
        .section-header .job-title { display: inline; }
        .entry { margin-bottom: 4px; }
        ul { margin: 2px 0; }
        .avatar { display: none; }
`
