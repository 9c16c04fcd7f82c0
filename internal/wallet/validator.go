package wallet

import (
	"fmt"
	"regexp"

	"github.com/Dinehub1/rewardjar-sync/internal/passdata"
)

type Verdict string

const (
	VerdictValid    Verdict = "valid"
	VerdictWarnings Verdict = "warnings"
	VerdictInvalid  Verdict = "invalid"
)

type PlatformReport struct {
	Platform     Platform        `json:"platform"`
	Valid        bool            `json:"valid"`
	Errors       []string        `json:"errors"`
	Warnings     []string        `json:"warnings"`
	Requirements map[string]bool `json:"requirements"`
}

type ValidationReport struct {
	Overall         Verdict           `json:"overall"`
	Platforms       []*PlatformReport `json:"platforms"`
	Recommendations []string          `json:"recommendations"`
}

// Deliverable reports whether the pass may be delivered; warnings do not
// block delivery, errors do.
func (r *ValidationReport) Deliverable() bool {
	return r.Overall != VerdictInvalid
}

// ErrorSummary flattens all platform errors into one operator-readable line.
func (r *ValidationReport) ErrorSummary() string {
	var out string
	for _, p := range r.Platforms {
		for _, e := range p.Errors {
			if out != "" {
				out += "; "
			}
			out += fmt.Sprintf("%s: %s", p.Platform, e)
		}
	}
	return out
}

var (
	hexColorRe = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
	uuidRe     = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
)

var googleStates = map[string]bool{
	"ACTIVE": true, "COMPLETED": true, "EXPIRED": true, "INACTIVE": true,
}

// Validator runs the three encoders against a unified snapshot and checks
// each output against its platform's required-field contract plus soft
// constraints. It is pure and read-only: invoked inside the generation
// pipeline to gate delivery and standalone by operator tooling for dry runs,
// and the two paths must produce identical verdicts.
type Validator struct {
	encoders []Encoder
}

func NewValidator(apple *AppleEncoder, google *GoogleEncoder, pwa *PWAEncoder) *Validator {
	return &Validator{encoders: []Encoder{apple, google, pwa}}
}

func (v *Validator) Validate(u *passdata.UnifiedCardData) *ValidationReport {
	report := &ValidationReport{Overall: VerdictValid}

	// Data-integrity problems rank above any per-platform finding.
	var integrity []string
	if u.BusinessName == "" {
		integrity = append(integrity, "Set a business name: every wallet format requires an issuing organization")
	}
	if u.BarcodeValue == "" {
		integrity = append(integrity, "Card is missing its barcode value: passes cannot be scanned without it")
	}
	if u.Max <= 0 {
		integrity = append(integrity, "Card template has no stamp or session target configured")
	}

	// Cross-platform data warnings are reported once, not repeated in every
	// platform report.
	var dataWarnings []string
	if u.BarcodeValue != "" && !uuidRe.MatchString(u.BarcodeValue) {
		dataWarnings = append(dataWarnings, "Barcode value is not a card instance id, scans may not resolve")
	}

	hasWarnings := len(dataWarnings) > 0
	hasErrors := false
	var errorRecs, warningRecs []string

	for _, enc := range v.encoders {
		payload := enc.Encode(u)
		pr := &PlatformReport{
			Platform:     payload.Platform,
			Errors:       []string{},
			Warnings:     []string{},
			Requirements: payload.Requirements,
		}

		for _, field := range payload.MissingFields() {
			pr.Errors = append(pr.Errors, fmt.Sprintf("missing required field %q", field))
		}
		pr.Warnings = append(pr.Warnings, v.softChecks(payload)...)

		pr.Valid = len(pr.Errors) == 0
		if !pr.Valid {
			hasErrors = true
			errorRecs = append(errorRecs, fmt.Sprintf("Fix %s pass: %s", pr.Platform, pr.Errors[0]))
		}
		if len(pr.Warnings) > 0 {
			hasWarnings = true
			warningRecs = append(warningRecs, fmt.Sprintf("Review %s pass: %s", pr.Platform, pr.Warnings[0]))
		}
		report.Platforms = append(report.Platforms, pr)
	}

	switch {
	case hasErrors:
		report.Overall = VerdictInvalid
	case hasWarnings:
		report.Overall = VerdictWarnings
	}

	var branding []string
	if u.LogoURL == nil {
		branding = append(branding, "Add a business logo for better pass appearance")
	}
	if u.BrandColor == nil {
		branding = append(branding, "Set a brand color so passes are not rendered with defaults")
	}

	report.Recommendations = dedupeLimit(5, integrity, errorRecs, dataWarnings, warningRecs, branding)
	return report
}

func (v *Validator) softChecks(p *PlatformPayload) []string {
	var warnings []string

	switch p.Platform {
	case PlatformApple:
		if pass, ok := p.Data.(*ApplePass); ok {
			if len(pass.Description) > 100 {
				warnings = append(warnings, "description exceeds 100 characters and may be truncated")
			}
			if len(pass.LogoText) > 30 {
				warnings = append(warnings, "logo text exceeds 30 characters and may be truncated")
			}
			if pass.PassTypeIdentifier == "" {
				warnings = append(warnings, "no pass type identifier configured, pass cannot be signed")
			}
		}
	case PlatformGoogle:
		if pass, ok := p.Data.(*GooglePass); ok && pass.Object != nil {
			if !googleStates[pass.Object.State] {
				warnings = append(warnings, fmt.Sprintf("lifecycle state %q is not a valid wallet object state", pass.Object.State))
			}
			if pass.Class != nil && pass.Class.HexBackground != "" && !hexColorRe.MatchString(pass.Class.HexBackground) {
				warnings = append(warnings, "background color is not a 6-digit hex value")
			}
			if pass.SaveLink == "" {
				warnings = append(warnings, "no signing key configured, save link omitted")
			}
		}
	case PlatformPWA:
		if pass, ok := p.Data.(*PWAPass); ok {
			if len(pass.Title) > 40 {
				warnings = append(warnings, "title exceeds 40 characters and may wrap badly")
			}
		}
	}

	return warnings
}

func dedupeLimit(limit int, groups ...[]string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, group := range groups {
		for _, rec := range group {
			if seen[rec] || len(out) >= limit {
				continue
			}
			seen[rec] = true
			out = append(out, rec)
		}
	}
	return out
}
