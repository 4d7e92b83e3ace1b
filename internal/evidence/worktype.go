package evidence

import "strings"

// WorkType buckets an entity by the kind of work it represents.
type WorkType string

const (
	WorkTypeBug     WorkType = "bug"
	WorkTypeFeature WorkType = "feature"
	WorkTypeDocs    WorkType = "docs"
	WorkTypeChore   WorkType = "chore"
	WorkTypeOther   WorkType = "other"
)

var labelWorkTypes = map[string]WorkType{
	"bug":           WorkTypeBug,
	"bugfix":        WorkTypeBug,
	"fix":           WorkTypeBug,
	"regression":    WorkTypeBug,
	"feature":       WorkTypeFeature,
	"enhancement":   WorkTypeFeature,
	"feat":          WorkTypeFeature,
	"documentation": WorkTypeDocs,
	"docs":          WorkTypeDocs,
	"chore":         WorkTypeChore,
	"dependencies":  WorkTypeChore,
	"maintenance":   WorkTypeChore,
	"ci":            WorkTypeChore,
	"build":         WorkTypeChore,
}

var prefixWorkTypes = []struct {
	prefix   string
	workType WorkType
}{
	{"fix", WorkTypeBug},
	{"feat", WorkTypeFeature},
	{"docs", WorkTypeDocs},
	{"doc", WorkTypeDocs},
	{"chore", WorkTypeChore},
	{"ci", WorkTypeChore},
	{"build", WorkTypeChore},
}

// Classify buckets an entity: labels win, then conventional-commit prefixes
// on the title or message's first line, then the docs-path signal.
func Classify(labels []string, text string, docsTouched bool) WorkType {
	for _, label := range labels {
		if wt, ok := labelWorkTypes[strings.ToLower(strings.TrimSpace(label))]; ok {
			return wt
		}
	}

	if wt, ok := classifyPrefix(text); ok {
		return wt
	}

	if docsTouched {
		return WorkTypeDocs
	}
	return WorkTypeOther
}

// classifyPrefix matches `fix: …` and the scoped form `fix(scope): …`.
func classifyPrefix(text string) (WorkType, bool) {
	line := strings.ToLower(strings.TrimSpace(firstLine(text)))
	for _, p := range prefixWorkTypes {
		rest, ok := strings.CutPrefix(line, p.prefix)
		if !ok {
			continue
		}
		if strings.HasPrefix(rest, ":") {
			return p.workType, true
		}
		if open := strings.HasPrefix(rest, "("); open {
			if idx := strings.Index(rest, ")"); idx > 0 && strings.HasPrefix(rest[idx+1:], ":") {
				return p.workType, true
			}
		}
	}
	return "", false
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
