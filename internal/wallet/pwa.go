package wallet

import (
	"encoding/base64"

	"github.com/skip2/go-qrcode"

	"github.com/Dinehub1/rewardjar-sync/internal/passdata"
)

// PWAPass is the payload the web wallet renders. The QR image is embedded as
// base64 PNG so the client needs no second request to show the scannable code.
type PWAPass struct {
	Title        string      `json:"title"`
	Subtitle     string      `json:"subtitle"`
	ProgressText string      `json:"progress_text"`
	Completed    bool        `json:"completed"`
	Theme        *PWATheme   `json:"theme,omitempty"`
	Barcode      *PWABarcode `json:"barcode,omitempty"`
	Actions      []PWAAction `json:"actions,omitempty"`
	RewardText   string      `json:"reward_text,omitempty"`
}

type PWATheme struct {
	PrimaryColor string `json:"primary_color"`
	LogoURL      string `json:"logo_url,omitempty"`
}

type PWABarcode struct {
	Value        string `json:"value"`
	Format       string `json:"format"`
	QRCodeBase64 string `json:"qr_code_base64,omitempty"`
}

type PWAAction struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

type PWAEncoder struct {
	// BaseURL is the public web wallet origin, e.g. https://wallet.example.com.
	BaseURL string
}

func (e *PWAEncoder) Platform() Platform { return PlatformPWA }

func (e *PWAEncoder) Encode(u *passdata.UnifiedCardData) *PlatformPayload {
	pass := &PWAPass{
		Title:        u.BusinessName,
		Subtitle:     u.CardName,
		ProgressText: u.ProgressLabel,
		Completed:    u.Completed,
	}
	if u.RewardText != nil {
		pass.RewardText = *u.RewardText
	}

	if u.BrandColor != nil || u.LogoURL != nil {
		theme := &PWATheme{}
		if u.BrandColor != nil {
			theme.PrimaryColor = *u.BrandColor
		}
		if u.LogoURL != nil {
			theme.LogoURL = *u.LogoURL
		}
		pass.Theme = theme
	}

	if u.BarcodeValue != "" {
		barcode := &PWABarcode{Value: u.BarcodeValue, Format: "qr"}
		if pngBytes, err := qrcode.Encode(u.BarcodeValue, qrcode.Medium, 256); err == nil {
			barcode.QRCodeBase64 = base64.StdEncoding.EncodeToString(pngBytes)
		}
		pass.Barcode = barcode
	}

	if e.BaseURL != "" && u.CardID != "" {
		pass.Actions = append(pass.Actions, PWAAction{
			Label: "View card",
			URL:   e.BaseURL + "/cards/" + u.CardID,
		})
	}
	if u.WebsiteURL != nil {
		pass.Actions = append(pass.Actions, PWAAction{
			Label: "Visit " + u.BusinessName,
			URL:   *u.WebsiteURL,
		})
	}

	return &PlatformPayload{
		Platform: PlatformPWA,
		Data:     pass,
		Requirements: map[string]bool{
			"title":    pass.Title != "",
			"subtitle": pass.Subtitle != "",
			"barcode":  pass.Barcode != nil,
			"theme":    pass.Theme != nil && pass.Theme.PrimaryColor != "",
			"action":   len(pass.Actions) > 0,
		},
	}
}
