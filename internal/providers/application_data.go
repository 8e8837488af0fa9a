// ABOUTME: application_data provider: fetch, search and list processed application records.
// ABOUTME: Also exposes the Application accessor the analysis provider builds on.

package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/cappelaere/wai/internal/capability"
	"github.com/cappelaere/wai/internal/records"
)

// StatusPending is the only review status the record tree can express.
const StatusPending = "pending"

// ApplicationData reads application records.
type ApplicationData struct {
	*capability.Base
	repo *records.Repository
}

// NewApplicationData creates the record-access provider over repo.
func NewApplicationData(repo *records.Repository, logger *slog.Logger) *ApplicationData {
	p := &ApplicationData{repo: repo}
	p.Base = capability.NewBase(ApplicationDataID, logger, p.setup)
	return p
}

func (p *ApplicationData) setup(_ context.Context, b *capability.Base) error {
	if p.repo == nil {
		return errors.New("no record repository configured")
	}
	if !p.repo.Exists() {
		b.Logger().Warn("record root does not exist yet", "path", p.repo.Root())
	}
	return registerAll(b, []tool{
		{
			name:        "get_application",
			description: "Retrieve detailed information about a specific scholarship application by ID",
			schema:      `{"type":"object","properties":{"application_id":{"type":"string","description":"Unique identifier for the scholarship application"}},"required":["application_id"]}`,
			output:      `{"type":"object","properties":{"id":{"type":"string"},"profiles":{"type":"object"},"scholarship_name":{"type":"string"},"year":{"type":"string"},"status":{"type":"string"},"submitted_at":{"type":"string"},"student_name":{"type":"string"},"scores":{"type":"object"}},"required":["id","profiles","form_data","attachments","path","scholarship_name","year","status","submitted_at"]}`,
			handler:     p.getApplication,
		},
		{
			name:        "search_applications",
			description: "Search for scholarship applications based on various criteria",
			schema: `{"type":"object","properties":{
				"status":{"type":"string","enum":["pending","under_review","approved","rejected"],"description":"Filter by application status"},
				"scholarship_name":{"type":"string","description":"Filter by scholarship name (partial match supported)"},
				"min_gpa":{"type":"number","minimum":0,"maximum":4,"description":"Minimum GPA threshold"},
				"max_gpa":{"type":"number","minimum":0,"maximum":4,"description":"Maximum GPA threshold"},
				"submitted_after":{"type":"string","description":"Filter applications submitted after this date (RFC 3339 or YYYY-MM-DD)"},
				"submitted_before":{"type":"string","description":"Filter applications submitted before this date (RFC 3339 or YYYY-MM-DD)"},
				"limit":{"type":"integer","minimum":1,"maximum":100,"default":10,"description":"Maximum number of results to return"},
				"offset":{"type":"integer","minimum":0,"default":0,"description":"Number of results to skip (for pagination)"}}}`,
			output:  `{"type":"object","properties":{"total":{"type":"integer"},"results":{"type":"array","items":{"type":"object","required":["id","scholarship_name","status","submitted_at"]}},"limit":{"type":"integer"},"offset":{"type":"integer"}},"required":["total","results","limit","offset"]}`,
			handler: p.searchApplications,
		},
		{
			name:        "list_applications",
			description: "List all scholarship applications with optional pagination",
			schema: `{"type":"object","properties":{
				"limit":{"type":"integer","minimum":1,"maximum":100,"default":20,"description":"Maximum number of results to return"},
				"offset":{"type":"integer","minimum":0,"default":0,"description":"Number of results to skip"},
				"sort_by":{"type":"string","enum":["submitted_at","gpa","student_name"],"default":"submitted_at","description":"Field to sort results by"},
				"sort_order":{"type":"string","enum":["asc","desc"],"default":"desc","description":"Sort order"}}}`,
			output:  `{"type":"object","properties":{"total":{"type":"integer"},"applications":{"type":"array","items":{"type":"object","required":["id","scholarship_name","status","year"]}},"limit":{"type":"integer"},"offset":{"type":"integer"},"sort_by":{"type":"string"},"sort_order":{"type":"string"}},"required":["total","applications","limit","offset","sort_by","sort_order"]}`,
			handler: p.listApplications,
		},
	})
}

// Application loads one application. It is the only way other providers read
// records.
func (p *ApplicationData) Application(ctx context.Context, id string) (*records.Application, error) {
	if err := p.Initialize(ctx); err != nil {
		return nil, err
	}
	app, err := p.repo.Load(ctx, id)
	if err != nil {
		return nil, recordError(id, err)
	}
	return app, nil
}

type applicationParams struct {
	ApplicationID string `mapstructure:"application_id"`
}

func (p *ApplicationData) getApplication(ctx context.Context, args capability.Args) (any, error) {
	var in applicationParams
	if err := args.Decode(&in); err != nil {
		return nil, err
	}
	app, err := p.Application(ctx, in.ApplicationID)
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]any, len(app.Profiles))
	for k, v := range app.Profiles {
		profiles[k] = v
	}
	result := map[string]any{
		"id":               app.ID,
		"profiles":         profiles,
		"form_data":        app.FormData,
		"attachments":      app.Attachments,
		"path":             app.Path,
		"scholarship_name": app.Scholarship,
		"year":             app.Year,
		"status":           StatusPending,
		"submitted_at":     formatTime(app.SubmittedAt),
	}
	if ap := app.ApplicationProfile(); ap != nil {
		if records.Section(ap, "profile") != nil {
			result["student_name"] = app.StudentName()
			result["email"] = app.Email()
			result["wai_membership_number"] = app.MembershipNumber()
		}
		if summary := app.ScoreSummary(); summary != nil {
			result["scores"] = summary
		}
		if summary, ok := app.Summary(); ok {
			result["summary"] = summary
		}
	}
	p.Logger().Info("application loaded", "application_id", app.ID, "profiles", len(app.Profiles))
	return result, nil
}

type searchParams struct {
	Status          string   `mapstructure:"status"`
	ScholarshipName string   `mapstructure:"scholarship_name"`
	MinGPA          *float64 `mapstructure:"min_gpa"`
	MaxGPA          *float64 `mapstructure:"max_gpa"`
	SubmittedAfter  string   `mapstructure:"submitted_after"`
	SubmittedBefore string   `mapstructure:"submitted_before"`
	Limit           int      `mapstructure:"limit"`
	Offset          int      `mapstructure:"offset"`
}

// SearchResult is one entry of a search_applications response.
type SearchResult struct {
	ID              string   `json:"id"`
	ScholarshipName string   `json:"scholarship_name"`
	Status          string   `json:"status"`
	SubmittedAt     string   `json:"submitted_at"`
	StudentName     *string  `json:"student_name,omitempty"`
	GPA             *float64 `json:"gpa,omitempty"`
	OverallScore    *float64 `json:"overall_score,omitempty"`
	Percentage      *float64 `json:"percentage,omitempty"`
}

// parseDate accepts RFC 3339 timestamps and plain dates.
func parseDate(field, v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: %s must be an RFC 3339 timestamp or YYYY-MM-DD date, got %q",
		capability.ErrInvalidArguments, field, v)
}

func (p *ApplicationData) searchApplications(ctx context.Context, args capability.Args) (any, error) {
	in := searchParams{Limit: 10}
	if err := args.Decode(&in); err != nil {
		return nil, err
	}
	var after, before time.Time
	var err error
	if in.SubmittedAfter != "" {
		if after, err = parseDate("submitted_after", in.SubmittedAfter); err != nil {
			return nil, err
		}
	}
	if in.SubmittedBefore != "" {
		if before, err = parseDate("submitted_before", in.SubmittedBefore); err != nil {
			return nil, err
		}
	}

	refs, err := p.repo.Refs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing applications: %w", err)
	}

	needle := strings.ToLower(in.ScholarshipName)
	matched := []SearchResult{}
	for _, ref := range refs {
		if needle != "" && !strings.Contains(strings.ToLower(ref.Scholarship), needle) {
			continue
		}
		if in.Status != "" && in.Status != StatusPending {
			continue
		}
		app, err := p.repo.Load(ctx, ref.ID)
		if err != nil || app.ApplicationProfile() == nil {
			continue
		}

		gpa, hasGPA := app.GPA()
		if in.MinGPA != nil && (!hasGPA || gpa < *in.MinGPA) {
			continue
		}
		if in.MaxGPA != nil && (!hasGPA || gpa > *in.MaxGPA) {
			continue
		}
		if !after.IsZero() && !app.SubmittedAt.After(after) {
			continue
		}
		if !before.IsZero() && !app.SubmittedAt.Before(before) {
			continue
		}

		entry := SearchResult{
			ID:              ref.ID,
			ScholarshipName: ref.Scholarship,
			Status:          StatusPending,
			SubmittedAt:     formatTime(app.SubmittedAt),
		}
		if records.Section(app.ApplicationProfile(), "profile") != nil {
			name := app.StudentName()
			entry.StudentName = &name
		}
		if hasGPA {
			entry.GPA = &gpa
		}
		if app.ScoreSummary() != nil {
			total, pct := app.TotalScore(), app.Percentage()
			entry.OverallScore, entry.Percentage = &total, &pct
		}
		matched = append(matched, entry)
	}

	p.Logger().Info("applications searched", "matched", len(matched), "scholarship", in.ScholarshipName)
	return map[string]any{
		"total":   len(matched),
		"results": page(matched, in.Offset, in.Limit),
		"limit":   in.Limit,
		"offset":  in.Offset,
	}, nil
}

type listParams struct {
	Limit     int    `mapstructure:"limit"`
	Offset    int    `mapstructure:"offset"`
	SortBy    string `mapstructure:"sort_by"`
	SortOrder string `mapstructure:"sort_order"`
}

// ListEntry is one entry of a list_applications response.
type ListEntry struct {
	ID              string   `json:"id"`
	ScholarshipName string   `json:"scholarship_name"`
	Status          string   `json:"status"`
	SubmittedAt     string   `json:"submitted_at"`
	Year            string   `json:"year"`
	StudentName     string   `json:"student_name"`
	GPA             *float64 `json:"gpa,omitempty"`
	OverallScore    *float64 `json:"overall_score,omitempty"`
	Percentage      *float64 `json:"percentage,omitempty"`

	submitted time.Time
}

func (p *ApplicationData) listApplications(ctx context.Context, args capability.Args) (any, error) {
	in := listParams{Limit: 20, SortBy: "submitted_at", SortOrder: "desc"}
	if err := args.Decode(&in); err != nil {
		return nil, err
	}

	refs, err := p.repo.Refs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing applications: %w", err)
	}

	entries := []ListEntry{}
	for _, ref := range refs {
		app, err := p.repo.Load(ctx, ref.ID)
		if err != nil || app.ApplicationProfile() == nil {
			continue
		}
		entry := ListEntry{
			ID:              ref.ID,
			ScholarshipName: ref.Scholarship,
			Status:          StatusPending,
			SubmittedAt:     formatTime(app.SubmittedAt),
			Year:            ref.Year,
			StudentName:     app.StudentName(),
			submitted:       app.SubmittedAt,
		}
		if entry.StudentName == "" {
			entry.StudentName = "Unknown"
		}
		if gpa, ok := app.GPA(); ok {
			entry.GPA = &gpa
		}
		if app.ScoreSummary() != nil {
			total, pct := app.TotalScore(), app.Percentage()
			entry.OverallScore, entry.Percentage = &total, &pct
		}
		entries = append(entries, entry)
	}

	sortEntries(entries, in.SortBy, in.SortOrder == "desc")

	return map[string]any{
		"total":        len(entries),
		"applications": page(entries, in.Offset, in.Limit),
		"limit":        in.Limit,
		"offset":       in.Offset,
		"sort_by":      in.SortBy,
		"sort_order":   in.SortOrder,
	}, nil
}

func sortEntries(entries []ListEntry, by string, desc bool) {
	less := func(a, b ListEntry) bool {
		switch by {
		case "gpa":
			return gpaOrZero(a.GPA) < gpaOrZero(b.GPA)
		case "student_name":
			return a.StudentName < b.StudentName
		default:
			return a.submitted.Before(b.submitted)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if desc {
			return less(entries[j], entries[i])
		}
		return less(entries[i], entries[j])
	})
}

func gpaOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
