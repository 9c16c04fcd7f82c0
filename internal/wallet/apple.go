package wallet

import (
	"github.com/Dinehub1/rewardjar-sync/internal/passdata"
)

// ApplePass mirrors the pass.json structure of a PKPass bundle. Signing and
// zipping happen at delivery time; this layer only produces the document.
type ApplePass struct {
	FormatVersion      int            `json:"formatVersion"`
	SerialNumber       string         `json:"serialNumber"`
	PassTypeIdentifier string         `json:"passTypeIdentifier,omitempty"`
	TeamIdentifier     string         `json:"teamIdentifier,omitempty"`
	OrganizationName   string         `json:"organizationName"`
	Description        string         `json:"description"`
	LogoText           string         `json:"logoText,omitempty"`
	ForegroundColor    string         `json:"foregroundColor,omitempty"`
	BackgroundColor    string         `json:"backgroundColor,omitempty"`
	Barcodes           []AppleBarcode `json:"barcodes,omitempty"`
	StoreCard          *AppleFieldSet `json:"storeCard,omitempty"`
}

type AppleBarcode struct {
	Format          string `json:"format"`
	Message         string `json:"message"`
	MessageEncoding string `json:"messageEncoding"`
	AltText         string `json:"altText,omitempty"`
}

type AppleFieldSet struct {
	PrimaryFields   []AppleField `json:"primaryFields,omitempty"`
	SecondaryFields []AppleField `json:"secondaryFields,omitempty"`
	BackFields      []AppleField `json:"backFields,omitempty"`
}

type AppleField struct {
	Key   string `json:"key"`
	Label string `json:"label,omitempty"`
	Value string `json:"value"`
}

type AppleEncoder struct {
	PassTypeIdentifier string
	TeamIdentifier     string
}

func (e *AppleEncoder) Platform() Platform { return PlatformApple }

func (e *AppleEncoder) Encode(u *passdata.UnifiedCardData) *PlatformPayload {
	pass := &ApplePass{
		FormatVersion:      1,
		SerialNumber:       u.CardID,
		PassTypeIdentifier: e.PassTypeIdentifier,
		TeamIdentifier:     e.TeamIdentifier,
		OrganizationName:   u.BusinessName,
		Description:        u.CardName,
		ForegroundColor:    "rgb(255, 255, 255)",
	}

	if u.BrandColor != nil {
		pass.BackgroundColor = *u.BrandColor
	}
	if u.BusinessName != "" {
		pass.LogoText = u.BusinessName
	}

	if u.BarcodeValue != "" {
		pass.Barcodes = []AppleBarcode{{
			Format:          "PKBarcodeFormatQR",
			Message:         u.BarcodeValue,
			MessageEncoding: "iso-8859-1",
			AltText:         u.CardID,
		}}
	}

	fields := &AppleFieldSet{
		PrimaryFields: []AppleField{{
			Key:   "progress",
			Label: progressFieldLabel(u),
			Value: u.ProgressLabel,
		}},
	}
	if u.RewardText != nil {
		fields.SecondaryFields = append(fields.SecondaryFields, AppleField{
			Key:   "reward",
			Label: "Reward",
			Value: *u.RewardText,
		})
	}
	if u.Completed {
		fields.SecondaryFields = append(fields.SecondaryFields, AppleField{
			Key:   "status",
			Label: "Status",
			Value: "Completed",
		})
	}
	if u.ExpiryDate != nil {
		fields.BackFields = append(fields.BackFields, AppleField{
			Key:   "expiry",
			Label: "Valid until",
			Value: u.ExpiryDate.Format("2006-01-02"),
		})
	}
	pass.StoreCard = fields

	return &PlatformPayload{
		Platform: PlatformApple,
		Data:     pass,
		Requirements: map[string]bool{
			"formatVersion":    pass.FormatVersion > 0,
			"serialNumber":     pass.SerialNumber != "",
			"organizationName": pass.OrganizationName != "",
			"description":      pass.Description != "",
			"barcode":          len(pass.Barcodes) > 0,
		},
	}
}

func progressFieldLabel(u *passdata.UnifiedCardData) string {
	if u.Kind == "membership" {
		return "Sessions"
	}
	return "Stamps"
}
