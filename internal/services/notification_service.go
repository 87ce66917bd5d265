package services

import (
	"context"
	"encoding/json"
	"log"

	"github.com/go-redis/redis/v8"
	"github.com/kivapay/backend/internal/models"
)

const notificationChannel = "notifications"

// NotificationService informs the delivery layer about completed transfers
// and request-state changes. Emission is fire-and-forget; failures are
// logged and never surfaced to the money path.
type NotificationService struct {
	redis *redis.Client
}

func NewNotificationService(redisClient *redis.Client) *NotificationService {
	return &NotificationService{redis: redisClient}
}

func (n *NotificationService) TransferCompleted(userID int, reference, counterparty string, amount int64) {
	n.publish("transfer.completed", map[string]any{
		"userId":       userID,
		"reference":    reference,
		"counterparty": counterparty,
		"amount":       amount,
	})
}

func (n *NotificationService) CommandCompleted(cmd *models.VaultCommand) {
	n.publish("vault_command.completed", map[string]any{
		"userId":    cmd.UserID,
		"commandId": cmd.ID,
		"vaultId":   cmd.VaultID,
		"status":    cmd.Status,
		"error":     cmd.Error,
	})
}

func (n *NotificationService) RequestStateChanged(req *models.PaymentRequest, event string) {
	n.publish("payment_request."+event, map[string]any{
		"requestId":   req.ID,
		"requesterId": req.RequesterID,
		"targetId":    req.TargetID,
		"amount":      req.Amount,
		"status":      req.Status,
	})
}

func (n *NotificationService) publish(event string, payload map[string]any) {
	payload["event"] = event
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[NOTIFY] Failed to encode %s event: %v", event, err)
		return
	}

	if n.redis == nil {
		log.Printf("[NOTIFY] %s", data)
		return
	}
	if err := n.redis.Publish(context.Background(), notificationChannel, data).Err(); err != nil {
		log.Printf("[NOTIFY] Failed to publish %s event: %v", event, err)
	}
}
