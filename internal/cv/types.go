package cv

// Data 表示存储在简历 Data(JSONB) 中的结构化内容。
// 字段名与前端编辑器的 JSON 形状保持一致。
type Data struct {
	Header         Header          `json:"header"`
	Summary        Summary         `json:"summary"`
	Experience     []Experience    `json:"experience"`
	Education      []Education     `json:"education"`
	Projects       []Project       `json:"projects"`
	Skills         Skills          `json:"skills"`
	Certifications []Certification `json:"certifications"`
	Languages      []Language      `json:"languages"`
	Interests      []string        `json:"interests"`
	CustomSections []CustomSection `json:"customSections"`
}

// Header 描述简历头部的联系信息。
type Header struct {
	FullName        string `json:"fullName"`
	Title           string `json:"title"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	Location        string `json:"location"`
	Website         string `json:"website"`
	Github          string `json:"github"`
	Linkedin        string `json:"linkedin"`
	AvatarURL       string `json:"avatarUrl"`
	SummaryRichText string `json:"summaryRichText"`
}

// Summary 是独立的概述区块。
type Summary struct {
	Content string `json:"content"`
}

// Experience 表示一段工作经历。
type Experience struct {
	Company         string   `json:"company"`
	Role            string   `json:"role"`
	StartDate       string   `json:"startDate"`
	EndDate         *string  `json:"endDate"`
	Location        string   `json:"location,omitempty"`
	BulletsRichText []string `json:"bulletsRichText"`
	TechStack       []string `json:"techStack"`
	Hidden          bool     `json:"hidden,omitempty"`
}

// Education 表示一段教育经历。
type Education struct {
	School          string `json:"school"`
	Degree          string `json:"degree"`
	StartDate       string `json:"startDate"`
	EndDate         string `json:"endDate"`
	DetailsRichText string `json:"detailsRichText,omitempty"`
	Hidden          bool   `json:"hidden,omitempty"`
}

// Project 表示一个项目条目。
type Project struct {
	Name                string   `json:"name"`
	Link                string   `json:"link,omitempty"`
	DescriptionRichText string   `json:"descriptionRichText,omitempty"`
	BulletsRichText     []string `json:"bulletsRichText"`
	TechStack           []string `json:"techStack"`
	Hidden              bool     `json:"hidden,omitempty"`
}

// Skills 按分组组织技能。
type Skills struct {
	Groups []SkillGroup `json:"groups"`
}

// SkillGroup 表示一组同类技能。
type SkillGroup struct {
	Name   string   `json:"name"`
	Items  []string `json:"items"`
	Hidden bool     `json:"hidden,omitempty"`
}

// Certification 表示一项证书。
type Certification struct {
	Name   string `json:"name"`
	Org    string `json:"org"`
	Date   string `json:"date"`
	Link   string `json:"link,omitempty"`
	Hidden bool   `json:"hidden,omitempty"`
}

// Language 表示语言能力。
type Language struct {
	Name   string `json:"name"`
	Level  string `json:"level"`
	Hidden bool   `json:"hidden,omitempty"`
}

// CustomSection 表示用户自定义区块。
type CustomSection struct {
	Title  string              `json:"title"`
	Items  []CustomSectionItem `json:"items"`
	Hidden bool                `json:"hidden,omitempty"`
}

// CustomSectionItem 是自定义区块中的单条内容。
type CustomSectionItem struct {
	Label         string `json:"label"`
	ValueRichText string `json:"valueRichText,omitempty"`
	Hidden        bool   `json:"hidden,omitempty"`
}

// Theme 描述简历的全局样式，同时承载区块顺序与可见性。
type Theme struct {
	FontFamily     string   `json:"fontFamily"`
	AccentColor    string   `json:"accentColor"`
	Spacing        string   `json:"spacing"`
	ShowIcons      bool     `json:"showIcons"`
	CompactMode    bool     `json:"compactMode"`
	Layout         string   `json:"layout"`
	SectionOrder   []string `json:"sectionOrder,omitempty"`
	HiddenSections []string `json:"hiddenSections,omitempty"`
}

// Snapshot 是版本化时冻结的 {template, theme, data} 三元组。
type Snapshot struct {
	Template string `json:"template"`
	Theme    Theme  `json:"theme"`
	Data     Data   `json:"data"`
}
