// Package eligibility scores how well an organisation fits a grant by
// prompting a text-generation model and validating the JSON it returns.
package eligibility

import (
	"fmt"
	"strings"
	"text/template"
	"time"
)

// Grant holds the grant attributes interpolated into prompts.
type Grant struct {
	ID          int64
	Name        string
	Funder      string
	Description string
	Amount      string
	DueDate     time.Time
}

// Organisation holds the profile attributes interpolated into prompts.
type Organisation struct {
	ID                 int64
	Name               string
	Mission            string
	FocusAreas         string
	YearsActive        int64
	AnnualBudget       int64
	PreviousGrants     string
	StaffSize          int64
	TargetDemographics string
}

const notSpecified = "Not specified"

var funcs = template.FuncMap{
	"text": func(s string) string {
		if strings.TrimSpace(s) == "" {
			return notSpecified
		}
		return strings.TrimSpace(s)
	},
	"num": func(n int64) string {
		if n == 0 {
			return notSpecified
		}
		return fmt.Sprint(n)
	},
	"date": func(t time.Time) string {
		if t.IsZero() {
			return notSpecified
		}
		return t.Format("2006-01-02")
	},
}

var eligibilityTmpl = template.Must(template.New("eligibility").Funcs(funcs).Parse(`Analyze grant eligibility for:

Grant Details:
- Name: {{text .Grant.Name}}
- Funder: {{text .Grant.Funder}}
- Description: {{text .Grant.Description}}
- Amount: {{text .Grant.Amount}}
- Due Date: {{date .Grant.DueDate}}

Organization Profile:
- Name: {{text .Org.Name}}
- Mission: {{text .Org.Mission}}
- Focus Areas: {{text .Org.FocusAreas}}
- Years Active: {{num .Org.YearsActive}}
- Annual Budget: {{num .Org.AnnualBudget}}
- Previous Grants: {{text .Org.PreviousGrants}}
- Staff Size: {{num .Org.StaffSize}}
- Target Demographics: {{text .Org.TargetDemographics}}

Analyze the alignment between the grant requirements and organization profile.
Format your response in JSON with the following structure:
{
    "score": float (0-1),
    "alignment_points": [string],
    "disqualifiers": [string],
    "missing_info": [string],
    "criteria": [
        {
            "name": string,
            "met": boolean,
            "description": string
        }
    ]
}`))

var draftTmpl = template.Must(template.New("draft").Funcs(funcs).Parse(`You are an expert grant writer. Write a compelling response to the following grant application question.
Use the provided context about the grant and organization to craft a detailed, persuasive answer.

GRANT DETAILS:
Name: {{text .Grant.Name}}
Funder: {{text .Grant.Funder}}
Description: {{text .Grant.Description}}
Amount: {{text .Grant.Amount}}

ORGANIZATION PROFILE:
Name: {{text .Org.Name}}
Mission: {{text .Org.Mission}}
Focus Areas: {{text .Org.FocusAreas}}
Years Active: {{num .Org.YearsActive}}
Annual Budget: {{num .Org.AnnualBudget}}
Previous Grants: {{text .Org.PreviousGrants}}
Staff Size: {{num .Org.StaffSize}}
Target Demographics: {{text .Org.TargetDemographics}}

ADDITIONAL CONTEXT:
{{range .Context}}{{.}}
{{end}}
APPLICATION QUESTION:
{{.Question}}

Please write a response that:
1. Directly addresses the question asked
2. Uses specific examples and metrics from the organization's profile
3. Aligns the organization's strengths with the grant's objectives
4. Maintains a professional yet engaging tone
5. Follows any word or character limits specified in the question
6. Includes relevant achievements and impact data
7. Demonstrates clear understanding of the funder's priorities

Your response should be well-structured with clear paragraphs and should not include any placeholder text or notes.
`))

// BuildPrompt renders the eligibility prompt for g and org. The output is a
// pure function of its inputs.
func BuildPrompt(g Grant, org Organisation) string {
	var sb strings.Builder
	// The template and its inputs are fixed; Execute cannot fail on them.
	_ = eligibilityTmpl.Execute(&sb, struct {
		Grant Grant
		Org   Organisation
	}{g, org})
	return sb.String()
}

// BuildDraftPrompt renders the grant-writer prompt for one application question.
func BuildDraftPrompt(g Grant, org Organisation, question string, contextDocs []string) string {
	var sb strings.Builder
	_ = draftTmpl.Execute(&sb, struct {
		Grant    Grant
		Org      Organisation
		Question string
		Context  []string
	}{g, org, strings.TrimSpace(question), contextDocs})
	return sb.String()
}
