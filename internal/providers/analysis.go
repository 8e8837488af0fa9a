// ABOUTME: analysis provider: scoring, strengths/weaknesses, comparisons and reports.
// ABOUTME: Reads records only through the application_data provider it holds.

package providers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/cappelaere/wai/internal/capability"
	"github.com/cappelaere/wai/internal/records"
)

// Recommendation levels, from strongest to weakest.
const (
	StronglyRecommend = "strongly_recommend"
	Recommend         = "recommend"
	Consider          = "consider"
	NotRecommend      = "not_recommend"
)

// financialNeedScore is assigned to every application with a profile; the
// records carry no financial data to score.
const financialNeedScore = 50.0

// Analysis scores and compares applications.
type Analysis struct {
	*capability.Base
	data *ApplicationData
	now  func() time.Time
}

// NewAnalysis creates the analysis provider on top of the record-access provider.
func NewAnalysis(data *ApplicationData, logger *slog.Logger, now func() time.Time) *Analysis {
	if now == nil {
		now = time.Now
	}
	p := &Analysis{data: data, now: now}
	p.Base = capability.NewBase(AnalysisID, logger, p.setup)
	return p
}

func (p *Analysis) setup(ctx context.Context, b *capability.Base) error {
	if p.data == nil {
		return fmt.Errorf("analysis requires the %s provider", ApplicationDataID)
	}
	if err := p.data.Initialize(ctx); err != nil {
		return err
	}
	return registerAll(b, []tool{
		{
			name:        "analyze_application",
			description: "Perform detailed analysis on a single scholarship application",
			schema: `{"type":"object","properties":{
				"application_id":{"type":"string","description":"ID of the application to analyze"},
				"analysis_type":{"type":"string","enum":["comprehensive","essay_only","qualifications_only","financial_need"],"default":"comprehensive","description":"Type of analysis to perform"}},
				"required":["application_id"]}`,
			output:  `{"type":"object","properties":{"application_id":{"type":"string"},"analysis":{"type":"object","required":["academic_score","essay_score","extracurricular_score","financial_need_score","overall_score"]},"strengths":{"type":"array","items":{"type":"string"}},"weaknesses":{"type":"array","items":{"type":"string"}},"recommendation":{"type":"string"},"notes":{"type":"string"},"analysis_type":{"type":"string"},"analyzed_at":{"type":"string"}},"required":["application_id","analysis","recommendation","analysis_type","analyzed_at"]}`,
			handler: p.analyzeApplication,
		},
		{
			name:        "compare_applications",
			description: "Compare multiple scholarship applications side-by-side",
			schema: `{"type":"object","properties":{
				"application_ids":{"type":"array","items":{"type":"string"},"minItems":2,"maxItems":10,"description":"List of application IDs to compare"},
				"comparison_criteria":{"type":"array","items":{"type":"string","enum":["gpa","financial_need","essay_quality","extracurriculars","overall_fit"]},"default":["gpa","financial_need","essay_quality"],"description":"Criteria to use for comparison"}},
				"required":["application_ids"]}`,
			output:  `{"type":"object","properties":{"comparison":{"type":"array","minItems":1,"items":{"type":"object","required":["application_id","student_name","scores","recommendation","rank"]}},"summary":{"type":"object","required":["top_candidate","top_candidate_id","key_differences","recommendation"]},"criteria_used":{"type":"array","items":{"type":"string"}},"compared_at":{"type":"string"}},"required":["comparison","summary","criteria_used","compared_at"]}`,
			handler: p.compareApplications,
		},
		{
			name:        "generate_report",
			description: "Generate a comprehensive report for one or more applications",
			schema: `{"type":"object","properties":{
				"application_ids":{"type":"array","items":{"type":"string"},"minItems":1,"description":"Application IDs to include in the report"},
				"report_type":{"type":"string","enum":["summary","detailed","comparison"],"default":"summary","description":"Type of report to generate"},
				"include_recommendations":{"type":"boolean","default":true,"description":"Whether to include recommendations in the report"}},
				"required":["application_ids"]}`,
			output:  `{"type":"object","properties":{"report_id":{"type":"string"},"generated_at":{"type":"string"},"report_type":{"type":"string"},"content":{"type":"object","required":["title","summary","applications"]},"download_url":{"type":"string"}},"required":["report_id","generated_at","report_type","content","download_url"]}`,
			handler: p.generateReport,
		},
	})
}

// Scores are the numeric analysis of one application, each on a 0-100 scale.
type Scores struct {
	Academic        float64 `json:"academic_score"`
	Essay           float64 `json:"essay_score"`
	Extracurricular float64 `json:"extracurricular_score"`
	FinancialNeed   float64 `json:"financial_need_score"`
	Overall         float64 `json:"overall_score"`
}

// Assessment is the full analysis of one application.
type Assessment struct {
	ApplicationID  string   `json:"application_id"`
	Analysis       Scores   `json:"analysis"`
	Strengths      []string `json:"strengths"`
	Weaknesses     []string `json:"weaknesses"`
	Recommendation string   `json:"recommendation"`
	Notes          string   `json:"notes"`
	AnalysisType   string   `json:"analysis_type"`
	AnalyzedAt     string   `json:"analyzed_at"`
}

// Assess scores an application and derives its strengths, weaknesses and
// recommendation.
func Assess(app *records.Application) Assessment {
	scores := score(app)
	rec, notes := recommend(scores.Overall)
	return Assessment{
		ApplicationID:  app.ID,
		Analysis:       scores,
		Strengths:      strengths(app, scores),
		Weaknesses:     weaknesses(app, scores),
		Recommendation: rec,
		Notes:          notes,
	}
}

func score(app *records.Application) Scores {
	var s Scores
	if app.ApplicationProfile() == nil {
		return s
	}
	s.Essay, _ = app.ProfileScore("personal_profile", "overall_score")
	s.Academic, _ = app.ProfileScore("academic_profile", "overall_score")
	s.Extracurricular, _ = app.ProfileScore("social_profile", "overall_score")
	s.Overall = app.Percentage()
	s.FinancialNeed = financialNeedScore
	return s
}

func strengths(app *records.Application, s Scores) []string {
	var out []string
	if s.Academic >= 80 {
		out = append(out, "Strong academic performance and credentials")
	}
	if v, _ := app.ProfileScore("recommendation_profile", "overall_score"); v >= 85 {
		out = append(out, "Excellent letters of recommendation with specific examples")
	}
	if v, _ := app.ProfileScore("personal_profile", "motivation_score"); v >= 85 {
		out = append(out, "Clear passion and motivation for aviation career")
	}
	features := records.Section(records.Section(app.ApplicationProfile(), "personal_profile"), "profile_features")
	if truthy(features["leadership_roles"]) {
		out = append(out, "Demonstrated leadership experience")
	}
	if s.Overall >= 85 {
		out = append(out, "Exceptionally well-rounded application")
	}
	if len(out) == 0 {
		return []string{"Application shows potential for growth"}
	}
	return out
}

func weaknesses(app *records.Application, s Scores) []string {
	var out []string
	if s.Academic < 60 {
		out = append(out, "Limited academic information or credentials provided")
	}
	if records.Section(app.ApplicationProfile(), "profile") != nil && app.SchoolName() == "" {
		out = append(out, "Missing or incomplete school information")
	}
	personal := records.Section(app.ApplicationProfile(), "personal_profile")
	if scores := records.Section(personal, "scores"); scores != nil {
		clarity := 100.0
		if v, ok := records.Number(scores["goals_clarity_score"]); ok {
			clarity = v
		}
		if clarity < 70 {
			out = append(out, "Career goals could be more specific and detailed")
		}
	}
	if s.Overall < 70 {
		out = append(out, "Application could benefit from stronger overall presentation")
	}
	if len(out) == 0 {
		return []string{"No significant weaknesses identified"}
	}
	return out
}

func recommend(overall float64) (string, string) {
	switch {
	case overall >= 85:
		return StronglyRecommend, "Exceptional candidate with strong qualifications across all areas."
	case overall >= 75:
		return Recommend, "Strong candidate who meets scholarship criteria well."
	case overall >= 65:
		return Consider, "Qualified candidate with some areas for improvement."
	default:
		return NotRecommend, "Application has significant gaps or weaknesses."
	}
}

// truthy mirrors JSON truthiness: false, 0, "", empty arrays and objects, and null are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

type analyzeParams struct {
	ApplicationID string `mapstructure:"application_id"`
	AnalysisType  string `mapstructure:"analysis_type"`
}

func (p *Analysis) assess(ctx context.Context, id, analysisType string) (Assessment, *records.Application, error) {
	app, err := p.data.Application(ctx, id)
	if err != nil {
		return Assessment{}, nil, err
	}
	a := Assess(app)
	a.AnalysisType = analysisType
	a.AnalyzedAt = formatTime(p.now())
	return a, app, nil
}

func (p *Analysis) analyzeApplication(ctx context.Context, args capability.Args) (any, error) {
	in := analyzeParams{AnalysisType: "comprehensive"}
	if err := args.Decode(&in); err != nil {
		return nil, err
	}
	a, _, err := p.assess(ctx, in.ApplicationID, in.AnalysisType)
	if err != nil {
		return nil, err
	}
	p.Logger().Info("application analyzed", "application_id", a.ApplicationID, "recommendation", a.Recommendation)
	return a, nil
}

// ComparisonEntry is one ranked row of a comparison.
type ComparisonEntry struct {
	ApplicationID  string             `json:"application_id"`
	StudentName    string             `json:"student_name"`
	Scores         map[string]float64 `json:"scores"`
	Recommendation string             `json:"recommendation"`
	Rank           int                `json:"rank"`
}

// ComparisonSummary highlights the top candidate and how the field differs.
type ComparisonSummary struct {
	TopCandidate   string   `json:"top_candidate"`
	TopCandidateID string   `json:"top_candidate_id"`
	KeyDifferences []string `json:"key_differences"`
	Recommendation string   `json:"recommendation"`
}

// Comparison is the compare_applications result.
type Comparison struct {
	Comparison   []ComparisonEntry `json:"comparison"`
	Summary      ComparisonSummary `json:"summary"`
	CriteriaUsed []string          `json:"criteria_used"`
	ComparedAt   string            `json:"compared_at"`
}

type compareParams struct {
	ApplicationIDs     []string `mapstructure:"application_ids"`
	ComparisonCriteria []string `mapstructure:"comparison_criteria"`
}

func (p *Analysis) compareApplications(ctx context.Context, args capability.Args) (any, error) {
	var in compareParams
	if err := args.Decode(&in); err != nil {
		return nil, err
	}
	return p.compare(ctx, in.ApplicationIDs, in.ComparisonCriteria)
}

func (p *Analysis) compare(ctx context.Context, ids, criteria []string) (*Comparison, error) {
	if len(ids) < 2 || len(ids) > 10 {
		return nil, fmt.Errorf("%w: between 2 and 10 applications can be compared, got %d",
			capability.ErrInvalidArguments, len(ids))
	}
	if len(criteria) == 0 {
		criteria = []string{"gpa", "financial_need", "essay_quality"}
	}

	var entries []ComparisonEntry
	for _, id := range ids {
		a, app, err := p.assess(ctx, id, "comprehensive")
		if err != nil {
			p.Logger().Warn("skipping application in comparison", "application_id", id, "error", err)
			continue
		}
		entries = append(entries, ComparisonEntry{
			ApplicationID: id,
			StudentName:   displayName(app),
			Scores: map[string]float64{
				"overall":         a.Analysis.Overall,
				"academic":        a.Analysis.Academic,
				"essay":           a.Analysis.Essay,
				"extracurricular": a.Analysis.Extracurricular,
			},
			Recommendation: a.Recommendation,
		})
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("none of the %d applications could be loaded for comparison", len(ids))
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Scores["overall"] > entries[j].Scores["overall"]
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}

	top := entries[0]
	p.Logger().Info("applications compared", "count", len(entries), "top", top.ApplicationID)
	return &Comparison{
		Comparison: entries,
		Summary: ComparisonSummary{
			TopCandidate:   top.StudentName,
			TopCandidateID: top.ApplicationID,
			KeyDifferences: keyDifferences(entries),
			Recommendation: fmt.Sprintf("%s is the strongest candidate with an overall score of %.1f",
				top.StudentName, top.Scores["overall"]),
		},
		CriteriaUsed: criteria,
		ComparedAt:   formatTime(p.now()),
	}, nil
}

func keyDifferences(entries []ComparisonEntry) []string {
	spread := func(key string) float64 {
		lo, hi := entries[0].Scores[key], entries[0].Scores[key]
		for _, e := range entries[1:] {
			lo = min(lo, e.Scores[key])
			hi = max(hi, e.Scores[key])
		}
		return hi - lo
	}

	var out []string
	if r := spread("overall"); r > 20 {
		out = append(out, fmt.Sprintf("Significant score variation: %.1f points between top and bottom", r))
	}
	if spread("academic") > 30 {
		out = append(out, "Wide range in academic qualifications")
	}
	if spread("essay") > 25 {
		out = append(out, "Notable differences in personal statements and motivation")
	}
	if len(out) == 0 {
		return []string{"Applications are relatively similar in quality"}
	}
	return out
}

func displayName(app *records.Application) string {
	if name := app.StudentName(); name != "" {
		return name
	}
	return "Unknown"
}

// ReportContent is the body of a generated report.
type ReportContent struct {
	Title           string `json:"title"`
	Summary         string `json:"summary"`
	Applications    []any  `json:"applications"`
	Recommendations []any  `json:"recommendations"`
}

// Report is the generate_report result.
type Report struct {
	ReportID    string        `json:"report_id"`
	GeneratedAt string        `json:"generated_at"`
	ReportType  string        `json:"report_type"`
	Content     ReportContent `json:"content"`
	DownloadURL string        `json:"download_url"`
}

type reportParams struct {
	ApplicationIDs         []string `mapstructure:"application_ids"`
	ReportType             string   `mapstructure:"report_type"`
	IncludeRecommendations bool     `mapstructure:"include_recommendations"`
}

func (p *Analysis) generateReport(ctx context.Context, args capability.Args) (any, error) {
	in := reportParams{ReportType: "summary", IncludeRecommendations: true}
	if err := args.Decode(&in); err != nil {
		return nil, err
	}

	var (
		content ReportContent
		err     error
	)
	switch {
	case in.ReportType == "comparison" && len(in.ApplicationIDs) >= 2:
		content, err = p.comparisonReport(ctx, in)
	case in.ReportType == "detailed":
		content = p.detailedReport(ctx, in)
	default:
		content = p.summaryReport(ctx, in)
	}
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	p.Logger().Info("report generated", "report_id", id, "report_type", in.ReportType)
	return Report{
		ReportID:    id,
		GeneratedAt: formatTime(p.now()),
		ReportType:  in.ReportType,
		Content:     content,
		DownloadURL: fmt.Sprintf("/api/reports/%s/download", id),
	}, nil
}

func (p *Analysis) comparisonReport(ctx context.Context, in reportParams) (ReportContent, error) {
	cmp, err := p.compare(ctx, in.ApplicationIDs, nil)
	if err != nil {
		return ReportContent{}, err
	}
	content := ReportContent{
		Title:           "Application Comparison Report",
		Summary:         fmt.Sprintf("Comparison of %d scholarship applications", len(in.ApplicationIDs)),
		Applications:    make([]any, len(cmp.Comparison)),
		Recommendations: []any{},
	}
	for i, e := range cmp.Comparison {
		content.Applications[i] = e
	}
	if in.IncludeRecommendations {
		content.Recommendations = append(content.Recommendations, cmp.Summary.Recommendation)
	}
	return content, nil
}

func (p *Analysis) detailedReport(ctx context.Context, in reportParams) ReportContent {
	content := ReportContent{
		Title:           "Detailed Application Analysis Report",
		Applications:    []any{},
		Recommendations: []any{},
	}
	for _, id := range in.ApplicationIDs {
		a, app, err := p.assess(ctx, id, "comprehensive")
		if err != nil {
			p.Logger().Warn("skipping application in report", "application_id", id, "error", err)
			continue
		}
		content.Applications = append(content.Applications, map[string]any{
			"id":             id,
			"student_name":   displayName(app),
			"analysis":       a.Analysis,
			"strengths":      a.Strengths,
			"weaknesses":     a.Weaknesses,
			"recommendation": a.Recommendation,
		})
		if in.IncludeRecommendations {
			content.Recommendations = append(content.Recommendations, map[string]any{
				"application_id": id,
				"recommendation": a.Recommendation,
				"notes":          a.Notes,
			})
		}
	}
	content.Summary = fmt.Sprintf("In-depth analysis of %d application(s)", len(content.Applications))
	return content
}

func (p *Analysis) summaryReport(ctx context.Context, in reportParams) ReportContent {
	content := ReportContent{
		Title:           "Application Summary Report",
		Applications:    []any{},
		Recommendations: []any{},
	}
	for _, id := range in.ApplicationIDs {
		app, err := p.data.Application(ctx, id)
		if err != nil {
			p.Logger().Warn("skipping application in report", "application_id", id, "error", err)
			continue
		}
		pct := app.Percentage()
		content.Applications = append(content.Applications, map[string]any{
			"id":               id,
			"student_name":     displayName(app),
			"scholarship_name": app.Scholarship,
			"overall_score":    pct,
		})
		if in.IncludeRecommendations {
			rec := Consider
			if pct >= 75 {
				rec = Recommend
			}
			content.Recommendations = append(content.Recommendations, map[string]any{
				"application_id": id,
				"recommendation": rec,
			})
		}
	}
	content.Summary = fmt.Sprintf("Overview of %d application(s)", len(content.Applications))
	return content
}
