// ABOUTME: Closed set of assistant variants selectable per session
// ABOUTME: Parses configuration strings into Variant values

package agent

import (
	"fmt"
	"strings"
)

// Variant selects an assistant behavior.
type Variant int

const (
	// CourseAssistant is the default teaching assistant.
	CourseAssistant Variant = iota + 1
	// IntakeInterviewer interviews a student to build a profile.
	IntakeInterviewer
)

// Variants lists every known variant.
func Variants() []Variant {
	return []Variant{CourseAssistant, IntakeInterviewer}
}

func (v Variant) String() string {
	switch v {
	case CourseAssistant:
		return "course_assistant"
	case IntakeInterviewer:
		return "intake_interviewer"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

// Valid reports whether v is a known variant.
func (v Variant) Valid() bool {
	return v == CourseAssistant || v == IntakeInterviewer
}

// ParseVariant maps a configuration name onto a Variant. Hyphens and case
// are ignored, so "Course-Assistant" parses.
func ParseVariant(name string) (Variant, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	switch normalized {
	case "course_assistant", "course":
		return CourseAssistant, nil
	case "intake_interviewer", "interviewer", "student_interviewer":
		return IntakeInterviewer, nil
	default:
		return 0, fmt.Errorf("unknown assistant variant %q", name)
	}
}
