package passdata

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dinehub1/rewardjar-sync/internal/card"
)

func strPtr(s string) *string { return &s }

func stampFixture() (*card.CardTemplate, *card.Business, *card.StampCard) {
	bizID := uuid.New()
	tpl := &card.CardTemplate{
		ID:                uuid.New(),
		BusinessID:        bizID,
		Kind:              card.KindStamp,
		Name:              "Coffee Club",
		RewardDescription: strPtr("Free coffee after 10 stamps"),
	}
	biz := &card.Business{
		ID:         bizID,
		Name:       "Bean There",
		BrandColor: strPtr("#10b981"),
	}
	c := &card.StampCard{
		ID:            uuid.New(),
		CustomerID:    uuid.New(),
		TemplateID:    tpl.ID,
		CurrentStamps: 3,
		TotalStamps:   10,
	}
	return tpl, biz, c
}

func TestTransform_Deterministic(t *testing.T) {
	tpl, biz, c := stampFixture()

	first, err := json.Marshal(Transform(tpl, biz, c))
	require.NoError(t, err)

	second, err := json.Marshal(Transform(tpl, biz, c))
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestTransform_StampCard(t *testing.T) {
	tpl, biz, c := stampFixture()

	u := Transform(tpl, biz, c)

	assert.Equal(t, c.ID.String(), u.CardID)
	assert.Equal(t, card.KindStamp, u.Kind)
	assert.Equal(t, "Bean There", u.BusinessName)
	assert.Equal(t, "Coffee Club", u.CardName)
	assert.Equal(t, "3/10", u.ProgressLabel)
	assert.Equal(t, 3, u.Current)
	assert.Equal(t, 10, u.Max)
	assert.False(t, u.Completed)
	require.NotNil(t, u.RewardText)
	assert.Equal(t, "Free coffee after 10 stamps", *u.RewardText)
	assert.Equal(t, c.ID.String(), u.BarcodeValue)
	assert.Nil(t, u.ExpiryDate)
	assert.Nil(t, u.CostCents)
}

func TestTransform_MembershipCard(t *testing.T) {
	expiry := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
	cost := int64(4999)
	tpl := &card.CardTemplate{
		ID:                 uuid.New(),
		BusinessID:         uuid.New(),
		Kind:               card.KindMembership,
		Name:               "Gym Pass",
		MembershipBenefits: strPtr("20 sessions, towel included"),
	}
	c := &card.MembershipCard{
		ID:            uuid.New(),
		CustomerID:    uuid.New(),
		TemplateID:    tpl.ID,
		SessionsUsed:  20,
		TotalSessions: 20,
		ExpiryDate:    &expiry,
		CostCents:     &cost,
	}

	u := Transform(tpl, &card.Business{ID: tpl.BusinessID, Name: "Iron Works"}, c)

	assert.Equal(t, card.KindMembership, u.Kind)
	assert.Equal(t, "20/20", u.ProgressLabel)
	assert.True(t, u.Completed)
	require.NotNil(t, u.RewardText)
	assert.Equal(t, "20 sessions, towel included", *u.RewardText)
	require.NotNil(t, u.ExpiryDate)
	assert.True(t, expiry.Equal(*u.ExpiryDate))
	require.NotNil(t, u.CostCents)
	assert.Equal(t, cost, *u.CostCents)
}

func TestTransform_NilBusiness(t *testing.T) {
	tpl, _, c := stampFixture()

	u := Transform(tpl, nil, c)

	assert.Empty(t, u.BusinessName)
	assert.Nil(t, u.LogoURL)
	assert.Nil(t, u.BrandColor)
	// Omitted optionals must not appear as empty strings in the payload.
	data, err := json.Marshal(u)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "logo_url")
	assert.NotContains(t, string(data), "brand_color")
}
