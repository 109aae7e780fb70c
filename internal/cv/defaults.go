package cv

// DefaultSectionOrder 是新建简历的区块排列顺序。
var DefaultSectionOrder = []string{
	"header",
	"summary",
	"experience",
	"education",
	"projects",
	"skills",
	"certifications",
	"languages",
	"interests",
	"customSections",
}

// DefaultTheme 返回新建简历的默认样式。
func DefaultTheme() Theme {
	order := make([]string, len(DefaultSectionOrder))
	copy(order, DefaultSectionOrder)
	return Theme{
		FontFamily:     "Inter",
		AccentColor:    "#3b82f6",
		Spacing:        "normal",
		ShowIcons:      true,
		CompactMode:    false,
		Layout:         "single",
		SectionOrder:   order,
		HiddenSections: []string{},
	}
}

// EmptyData 返回完整的空简历文档形状。
// fullName 与 email 非空时会预填到头部（注册默认简历用）。
func EmptyData(fullName, email string) Data {
	return Data{
		Header: Header{
			FullName: fullName,
			Email:    email,
		},
		Summary:        Summary{},
		Experience:     []Experience{},
		Education:      []Education{},
		Projects:       []Project{},
		Skills:         Skills{Groups: []SkillGroup{}},
		Certifications: []Certification{},
		Languages:      []Language{},
		Interests:      []string{},
		CustomSections: []CustomSection{},
	}
}
