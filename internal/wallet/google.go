package wallet

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/Dinehub1/rewardjar-sync/internal/passdata"
)

// GoogleLoyaltyObject is the wallet object for one card instance; it pairs
// with a GoogleLoyaltyClass keyed by the card template.
type GoogleLoyaltyObject struct {
	ID              string             `json:"id"`
	ClassID         string             `json:"classId"`
	State           string             `json:"state"`
	AccountID       string             `json:"accountId,omitempty"`
	AccountName     string             `json:"accountName,omitempty"`
	Barcode         *GoogleBarcode     `json:"barcode,omitempty"`
	LoyaltyPoints   *GoogleLoyaltyTier `json:"loyaltyPoints,omitempty"`
	TextModulesData []GoogleTextModule `json:"textModulesData,omitempty"`
	ValidTimeEnd    string             `json:"validTimeEnd,omitempty"`
}

type GoogleLoyaltyClass struct {
	ID              string `json:"id"`
	IssuerName      string `json:"issuerName"`
	ProgramName     string `json:"programName"`
	ProgramLogo     string `json:"programLogo,omitempty"`
	HexBackground   string `json:"hexBackgroundColor,omitempty"`
	ReviewStatus    string `json:"reviewStatus"`
	HomepageURI     string `json:"homepageUri,omitempty"`
	RewardsTierName string `json:"rewardsTier,omitempty"`
}

type GoogleBarcode struct {
	Type          string `json:"type"`
	Value         string `json:"value"`
	AlternateText string `json:"alternateText,omitempty"`
}

type GoogleLoyaltyTier struct {
	Label   string `json:"label"`
	Balance struct {
		String string `json:"string"`
	} `json:"balance"`
}

type GoogleTextModule struct {
	ID     string `json:"id"`
	Header string `json:"header"`
	Body   string `json:"body"`
}

// GooglePass bundles class, object and (when signing is configured) the
// "Save to Google Wallet" link.
type GooglePass struct {
	Class    *GoogleLoyaltyClass  `json:"class"`
	Object   *GoogleLoyaltyObject `json:"object"`
	SaveLink string               `json:"save_link,omitempty"`
}

type GoogleEncoder struct {
	IssuerID            string
	ServiceAccountEmail string
	Origins             []string

	privateKey *rsa.PrivateKey
}

// NewGoogleEncoder parses the RS256 signing key for save links. An empty key
// is allowed: encoding still works, the save link is simply omitted rather
// than faked.
func NewGoogleEncoder(issuerID, serviceAccountEmail string, privateKeyPEM []byte) (*GoogleEncoder, error) {
	e := &GoogleEncoder{
		IssuerID:            issuerID,
		ServiceAccountEmail: serviceAccountEmail,
	}
	if len(privateKeyPEM) > 0 {
		key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to parse google wallet signing key: %w", err)
		}
		e.privateKey = key
	}
	return e, nil
}

func (e *GoogleEncoder) Platform() Platform { return PlatformGoogle }

func (e *GoogleEncoder) Encode(u *passdata.UnifiedCardData) *PlatformPayload {
	pass := &GooglePass{}

	if e.IssuerID != "" && u.CardID != "" {
		pass.Class = &GoogleLoyaltyClass{
			ID:           fmt.Sprintf("%s.%s", e.IssuerID, u.CardID),
			IssuerName:   u.BusinessName,
			ProgramName:  u.CardName,
			ReviewStatus: "UNDER_REVIEW",
		}
		if u.LogoURL != nil {
			pass.Class.ProgramLogo = *u.LogoURL
		}
		if u.BrandColor != nil {
			pass.Class.HexBackground = *u.BrandColor
		}
		if u.WebsiteURL != nil {
			pass.Class.HomepageURI = *u.WebsiteURL
		}

		obj := &GoogleLoyaltyObject{
			ID:        fmt.Sprintf("%s.obj-%s", e.IssuerID, u.CardID),
			ClassID:   pass.Class.ID,
			State:     objectState(u),
			AccountID: u.CustomerID,
		}
		if u.BarcodeValue != "" {
			obj.Barcode = &GoogleBarcode{
				Type:          "QR_CODE",
				Value:         u.BarcodeValue,
				AlternateText: u.CardID,
			}
		}
		points := &GoogleLoyaltyTier{Label: "Progress"}
		points.Balance.String = u.ProgressLabel
		obj.LoyaltyPoints = points

		if u.RewardText != nil {
			obj.TextModulesData = append(obj.TextModulesData, GoogleTextModule{
				ID:     "reward",
				Header: "Reward",
				Body:   *u.RewardText,
			})
		}
		if u.ExpiryDate != nil {
			obj.ValidTimeEnd = u.ExpiryDate.Format(time.RFC3339)
		}
		pass.Object = obj

		if e.privateKey != nil {
			if link, err := e.signSaveLink(obj); err == nil {
				pass.SaveLink = link
			}
		}
	}

	req := map[string]bool{
		"classId":    pass.Class != nil && pass.Class.ID != "",
		"objectId":   pass.Object != nil && pass.Object.ID != "",
		"state":      pass.Object != nil && pass.Object.State != "",
		"barcode":    pass.Object != nil && pass.Object.Barcode != nil,
		"textModule": pass.Object != nil && (len(pass.Object.TextModulesData) > 0 || pass.Object.LoyaltyPoints != nil),
	}

	return &PlatformPayload{Platform: PlatformGoogle, Data: pass, Requirements: req}
}

func objectState(u *passdata.UnifiedCardData) string {
	if u.ExpiryDate != nil && u.ExpiryDate.Before(time.Now()) {
		return "EXPIRED"
	}
	return "ACTIVE"
}

func (e *GoogleEncoder) signSaveLink(obj *GoogleLoyaltyObject) (string, error) {
	claims := jwt.MapClaims{
		"iss": e.ServiceAccountEmail,
		"aud": "google",
		"typ": "savetowallet",
		"iat": time.Now().Unix(),
		"payload": map[string]any{
			"loyaltyObjects": []any{obj},
		},
	}
	if len(e.Origins) > 0 {
		claims["origins"] = e.Origins
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(e.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign save link: %w", err)
	}
	return "https://pay.google.com/gp/v/save/" + signed, nil
}
