package models

import "time"

// ContactPoint is an out-of-band address where a user also wants to receive
// notifications (currently a Telegram chat).
type ContactPoint struct {
	ID        string    `json:"id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	Type      string    `json:"type" db:"type"`
	Address   string    `json:"address" db:"address"`
	Status    string    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

const ContactPointTelegram = "telegram"
