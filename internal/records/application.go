// ABOUTME: Application record type and accessors over its profile documents.
// ABOUTME: Accessors tolerate missing sections and return zero values.

package records

import (
	"strings"
	"time"
)

// Profile document file names.
const (
	FileApplication    = "application_profile.json"
	FilePersonal       = "personal_profile.json"
	FileAcademic       = "academic_profile.json"
	FileSocial         = "social_profile.json"
	FileRecommendation = "recommendation_profile.json"
	FileFormData       = "application_form_data.json"
	FileAttachments    = "attachments.json"
)

// RequiredFiles are the documents a fully processed application must have.
var RequiredFiles = []string{
	FileApplication,
	FilePersonal,
	FileAcademic,
	FileSocial,
	FileRecommendation,
}

// OptionalFiles may be present but are not required.
var OptionalFiles = []string{FileFormData, FileAttachments}

var stepFiles = map[string]string{
	"application":    FileApplication,
	"personal":       FilePersonal,
	"academic":       FileAcademic,
	"social":         FileSocial,
	"recommendation": FileRecommendation,
}

// Steps lists the processing steps in pipeline order.
var Steps = []string{"application", "personal", "academic", "social", "recommendation"}

// StepFile maps a processing step to its output document.
func StepFile(step string) (string, bool) {
	f, ok := stepFiles[step]
	return f, ok
}

// Ref locates an application directory.
type Ref struct {
	ID          string `json:"application_id"`
	Scholarship string `json:"scholarship_name"`
	Year        string `json:"year"`
	Path        string `json:"path"`
}

// Application is a loaded application with its profile documents.
type Application struct {
	Ref

	// Profiles is keyed by document name without the .json suffix.
	Profiles    map[string]map[string]any
	FormData    any
	Attachments any

	// SubmittedAt is the modification time of the application profile.
	SubmittedAt time.Time
}

// ApplicationProfile returns the consolidated application profile, or nil.
func (a *Application) ApplicationProfile() map[string]any {
	return a.Profiles[strings.TrimSuffix(FileApplication, ".json")]
}

// StudentName joins the first and last name from the application profile.
func (a *Application) StudentName() string {
	p := Section(a.ApplicationProfile(), "profile")
	first, _ := p["first_name"].(string)
	last, _ := p["last_name"].(string)
	return strings.TrimSpace(first + " " + last)
}

// Email returns the applicant's email address.
func (a *Application) Email() string {
	s, _ := Section(a.ApplicationProfile(), "profile")["email"].(string)
	return s
}

// MembershipNumber returns the applicant's WAI membership number.
func (a *Application) MembershipNumber() string {
	s, _ := Section(a.ApplicationProfile(), "profile")["wai_membership_number"].(string)
	return s
}

// SchoolName returns the school named in the application profile.
func (a *Application) SchoolName() string {
	school := Section(Section(a.ApplicationProfile(), "profile"), "school_information")
	s, _ := school["school_name"].(string)
	return s
}

// GPA returns the academic GPA recorded in the application profile.
func (a *Application) GPA() (float64, bool) {
	perf := Section(Section(Section(a.ApplicationProfile(), "academic_profile"), "profile_features"), "academic_performance")
	return Number(perf["gpa"])
}

// ScoreSummary returns total_score_summary, or nil.
func (a *Application) ScoreSummary() map[string]any {
	return Section(a.ApplicationProfile(), "total_score_summary")
}

// Percentage returns the overall percentage score.
func (a *Application) Percentage() float64 {
	v, _ := Number(a.ScoreSummary()["percentage"])
	return v
}

// TotalScore returns the overall total score.
func (a *Application) TotalScore() float64 {
	v, _ := Number(a.ScoreSummary()["total_score"])
	return v
}

// Summary returns the free-form summary of the application profile.
func (a *Application) Summary() (any, bool) {
	v, ok := a.ApplicationProfile()["summary"]
	return v, ok
}

// ProfileScore reads <section>.scores.<key> from the application profile.
func (a *Application) ProfileScore(section, key string) (float64, bool) {
	return Number(Section(Section(a.ApplicationProfile(), section), "scores")[key])
}

// Section returns m[key] as an object, or nil.
func Section(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	s, _ := m[key].(map[string]any)
	return s
}

// Number converts a decoded JSON number to float64.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
