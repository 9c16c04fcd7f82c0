package push

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"os"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"github.com/Dinehub1/rewardjar-sync/internal/wallet"
)

// TokenSource resolves a customer's registered device tokens.
type TokenSource interface {
	DeviceTokens(ctx context.Context, customerID uuid.UUID) ([]string, error)
}

// FCMNotifier tells customer devices a pass was regenerated so the wallet app
// refreshes. Delivery of the notification is best effort: the sync job is
// already completed by the time this runs.
type FCMNotifier struct {
	client *messaging.Client
	tokens TokenSource
}

// NewFCMNotifier initializes the messaging client. Credentials come from the
// FCM_SERVICE_ACCOUNT_JSON environment variable (base64 encoded) or from a
// local service account key file.
func NewFCMNotifier(localFilePath string, tokens TokenSource) (*FCMNotifier, error) {
	var opt option.ClientOption

	encodedCreds := os.Getenv("FCM_SERVICE_ACCOUNT_JSON")
	if encodedCreds != "" {
		decoded, err := base64.StdEncoding.DecodeString(encodedCreds)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 firebase credentials: %w", err)
		}
		opt = option.WithCredentialsJSON(decoded)
	} else {
		if _, err := os.Stat(localFilePath); os.IsNotExist(err) {
			return nil, fmt.Errorf("firebase key file not found: %s, and FCM_SERVICE_ACCOUNT_JSON is not set", localFilePath)
		}
		opt = option.WithCredentialsFile(localFilePath)
	}

	app, err := firebase.NewApp(context.Background(), nil, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}
	client, err := app.Messaging(context.Background())
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}

	return &FCMNotifier{client: client, tokens: tokens}, nil
}

func (n *FCMNotifier) NotifyPassUpdated(ctx context.Context, customerID, cardID uuid.UUID, platforms []wallet.Platform) error {
	tokens, err := n.tokens.DeviceTokens(ctx, customerID)
	if err != nil {
		return fmt.Errorf("failed to resolve device tokens: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}

	data := map[string]string{
		"card_id": cardID.String(),
		"type":    "pass_updated",
	}
	for i, p := range platforms {
		data[fmt.Sprintf("platform_%d", i)] = string(p)
	}

	successCount := 0
	failureCount := 0
	for _, token := range tokens {
		message := &messaging.Message{
			Token: token,
			Notification: &messaging.Notification{
				Title: "Your card was updated",
				Body:  "Open your wallet to see the latest progress.",
			},
			Data: data,
			Android: &messaging.AndroidConfig{
				Priority: "high",
			},
		}
		if _, err := n.client.Send(ctx, message); err != nil {
			log.Printf("FCM: failed to send to token %s: %v", token, err)
			failureCount++
		} else {
			successCount++
		}
	}

	if successCount == 0 && failureCount > 0 {
		return fmt.Errorf("all pass update notifications failed")
	}
	return nil
}
