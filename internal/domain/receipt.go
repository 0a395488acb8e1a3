package domain

import "time"

// EventReceipt records that an Events API delivery was accepted for
// processing. Slack re-delivers an event with the same event_id when it does
// not see a timely 200, so the receipt lets retries be acknowledged without
// being dispatched twice.
type EventReceipt struct {
	EventID    string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	ReceiptID  string    `gorm:"type:TEXT NOT NULL;uniqueIndex"`
	TeamID     string    `gorm:"type:TEXT NOT NULL;default:''"`
	Kind       string    `gorm:"type:TEXT NOT NULL"`
	ReceivedAt time.Time `gorm:"type:DATETIME NOT NULL"`
	ExpiresAt  time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (EventReceipt) TableName() string { return "event_receipts" }
