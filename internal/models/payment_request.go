package models

import (
	"time"
)

const (
	RequestStatusPending  = "PENDING"
	RequestStatusPaid     = "PAID"
	RequestStatusDeclined = "DECLINED"
)

// PaymentRequest is a solicitation from one user asking another to pay.
// Only the target may act on it, and it leaves PENDING at most once.
type PaymentRequest struct {
	ID             string    `json:"id" db:"id"`
	RequesterID    int       `json:"requester_id" db:"requester_id"`
	RequesterLabel string    `json:"requester_label" db:"requester_label"`
	TargetID       int       `json:"target_id" db:"target_id"`
	Amount         int64     `json:"amount" db:"amount"`
	Note           string    `json:"note" db:"note"`
	Status         string    `json:"status" db:"status"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
