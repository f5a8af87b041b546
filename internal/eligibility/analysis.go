package eligibility

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidResponse matches every *ValidationError.
var ErrInvalidResponse = errors.New("invalid AI response format")

// ValidationError wraps the decode or schema error behind a rejected model response.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return fmt.Sprintf("%s: %v", ErrInvalidResponse, e.Err) }
func (e *ValidationError) Unwrap() error { return e.Err }

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidResponse }

// Criterion is one assessed eligibility requirement.
type Criterion struct {
	Name        string `json:"name"`
	Met         bool   `json:"met"`
	Description string `json:"description"`
}

// Analysis is a validated eligibility assessment.
type Analysis struct {
	Score           float64     `json:"score"`
	AlignmentPoints []string    `json:"alignment_points"`
	Disqualifiers   []string    `json:"disqualifiers"`
	MissingInfo     []string    `json:"missing_info"`
	Criteria        []Criterion `json:"criteria"`
}

// Pointer fields distinguish absent keys from zero values.
type criterionPayload struct {
	Name        *string `json:"name" validate:"required,notblank"`
	Met         *bool   `json:"met" validate:"required"`
	Description *string `json:"description" validate:"required"`
}

type analysisPayload struct {
	Score           *float64           `json:"score" validate:"required,gte=0,lte=1"`
	AlignmentPoints []string           `json:"alignment_points" validate:"required,min=1,dive,notblank"`
	Disqualifiers   []string           `json:"disqualifiers" validate:"required,min=1,dive,notblank"`
	MissingInfo     []string           `json:"missing_info" validate:"required,min=1,dive,notblank"`
	Criteria        []criterionPayload `json:"criteria" validate:"required,min=1,dive"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// ParseAnalysis decodes text as JSON and validates it: score in [0,1], three
// non-empty string lists and a non-empty list of criteria, each with a
// non-blank name, a met flag and a description.
func ParseAnalysis(text string) (Analysis, error) {
	var p analysisPayload
	if err := json.Unmarshal([]byte(stripFence(text)), &p); err != nil {
		return Analysis{}, &ValidationError{Err: err}
	}
	if err := validate.Struct(p); err != nil {
		return Analysis{}, &ValidationError{Err: err}
	}
	a := Analysis{
		Score:           *p.Score,
		AlignmentPoints: p.AlignmentPoints,
		Disqualifiers:   p.Disqualifiers,
		MissingInfo:     p.MissingInfo,
		Criteria:        make([]Criterion, len(p.Criteria)),
	}
	for i, c := range p.Criteria {
		a.Criteria[i] = Criterion{Name: strings.TrimSpace(*c.Name), Met: *c.Met, Description: *c.Description}
	}
	return a, nil
}

// stripFence removes a surrounding markdown code fence some models add.
func stripFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

// FormatResults renders a for display.
func FormatResults(a Analysis) string {
	var sb strings.Builder
	sb.WriteString("\nEligibility Analysis Results:\n---------------------------\n")
	fmt.Fprintf(&sb, "Overall Score: %.2f\n", a.Score)
	section := func(title string, items []string) {
		fmt.Fprintf(&sb, "\n%s:\n", title)
		for _, it := range items {
			fmt.Fprintf(&sb, "- %s\n", it)
		}
	}
	section("Key Alignment Points", a.AlignmentPoints)
	section("Potential Disqualifiers", a.Disqualifiers)
	section("Missing Information", a.MissingInfo)
	sb.WriteString("\nDetailed Criteria:\n")
	for _, c := range a.Criteria {
		mark := "✗"
		if c.Met {
			mark = "✓"
		}
		fmt.Fprintf(&sb, "- %s: %s (%s)\n", c.Name, mark, c.Description)
	}
	return sb.String()
}
