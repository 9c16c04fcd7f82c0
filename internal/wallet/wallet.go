package wallet

import (
	"fmt"

	"github.com/Dinehub1/rewardjar-sync/internal/passdata"
)

type Platform string

const (
	PlatformApple  Platform = "apple"
	PlatformGoogle Platform = "google"
	PlatformPWA    Platform = "pwa"
)

func AllPlatforms() []Platform {
	return []Platform{PlatformApple, PlatformGoogle, PlatformPWA}
}

func ParsePlatform(s string) (Platform, error) {
	switch Platform(s) {
	case PlatformApple, PlatformGoogle, PlatformPWA:
		return Platform(s), nil
	}
	return "", fmt.Errorf("unknown platform %q", s)
}

// PlatformPayload is one encoder's output: the platform-specific document plus
// the requirement set the validator checks. Encoders fail closed, so Data is
// always populated as far as the source data allows and Requirements records
// every required field's presence in one pass.
type PlatformPayload struct {
	Platform     Platform        `json:"platform"`
	Data         any             `json:"data"`
	Requirements map[string]bool `json:"requirements"`
}

// MissingFields lists unsatisfied required fields in a stable order.
func (p *PlatformPayload) MissingFields() []string {
	var missing []string
	for _, f := range requirementOrder[p.Platform] {
		if ok, declared := p.Requirements[f]; declared && !ok {
			missing = append(missing, f)
		}
	}
	return missing
}

// requirementOrder keeps error output deterministic; maps iterate randomly.
var requirementOrder = map[Platform][]string{
	PlatformApple:  {"formatVersion", "serialNumber", "organizationName", "description", "barcode"},
	PlatformGoogle: {"classId", "objectId", "state", "barcode", "textModule"},
	PlatformPWA:    {"title", "subtitle", "barcode", "theme", "action"},
}

// Encoder turns the unified snapshot into one platform's payload. Encoders are
// pure with respect to queue and storage state: they read nothing but their
// input and their own static configuration.
type Encoder interface {
	Platform() Platform
	Encode(u *passdata.UnifiedCardData) *PlatformPayload
}
