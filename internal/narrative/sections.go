package narrative

import (
	"regexp"
	"strings"
)

// Section keys in filing order.
var sectionKeys = []string{"I", "II", "III", "IV", "V"}

var sectionHeaders = map[string]*regexp.Regexp{
	"I":   regexp.MustCompile(`(?i)I\.\s*SUMMARY\s*OF\s*SUSPICIOUS\s*ACTIVITY`),
	"II":  regexp.MustCompile(`(?i)II\.\s*ACCOUNT\s*AND\s*CUSTOMER\s*INFORMATION`),
	"III": regexp.MustCompile(`(?i)III\.\s*DESCRIPTION\s*OF\s*SUSPICIOUS\s*ACTIVITY`),
	"IV":  regexp.MustCompile(`(?i)IV\.\s*EXPLANATION\s*OF\s*SUSPICION`),
	"V":   regexp.MustCompile(`(?i)V\.\s*CONCLUSION`),
}

// ParseSections splits a narrative into its numbered sections. Text that
// does not follow the section layout lands whole in section I so nothing
// is lost.
func ParseSections(text string) map[string]string {
	sections := make(map[string]string)

	for i, key := range sectionKeys {
		loc := sectionHeaders[key].FindStringIndex(text)
		if loc == nil {
			continue
		}
		start := loc[1]
		end := len(text)
		for _, next := range sectionKeys[i+1:] {
			if nloc := sectionHeaders[next].FindStringIndex(text[start:]); nloc != nil {
				end = start + nloc[0]
				break
			}
		}
		sections[key] = strings.TrimSpace(text[start:end])
	}

	if len(sections) == 0 {
		sections["I"] = strings.TrimSpace(text)
	}
	return sections
}
