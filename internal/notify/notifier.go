package notify

import "context"

// PurchaseEvent describes one confirmed purchase.
type PurchaseEvent struct {
	At             int64   `json:"atMs"`
	RunID          string  `json:"runId,omitempty"`
	TargetID       string  `json:"targetId"`
	TargetName     string  `json:"targetName"`
	Kind           string  `json:"kind,omitempty"`
	Index          int     `json:"index"`
	Price          int64   `json:"price"`
	ExpectedPrice  float64 `json:"expectedPrice"`
	Ceiling        float64 `json:"ceiling"`
	PremiumPercent float64 `json:"premiumPercent"`
	AlreadyBought  int     `json:"alreadyBought"`
	BuyGoal        int     `json:"buyGoal"`
}

type Notifier interface {
	NotifyPurchased(ctx context.Context, evt PurchaseEvent)
}
