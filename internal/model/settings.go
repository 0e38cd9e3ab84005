package model

import "time"

// Setting keys shared by the config store and the HTTP API.
const (
	FieldTargets           = "targets"
	FieldBought            = "already_bought"
	FieldLoopMode          = "is_loop"
	FieldDebugMode         = "is_debug"
	FieldTradeButton       = "trade_btn_location"
	FieldBuyButton         = "buy_btn_location"
	FieldBuyMessage        = "buy_message_location"
	FieldProductName       = "product_name_location"
	FieldProductPrice      = "product_price_location"
	FieldActionIntervalMs  = "exec_interval_ms"
	FieldConfirmIntervalMs = "buy_confirm_interval_ms"
	FieldEmail             = "email_settings"
)

type Settings struct {
	LoopMode          bool   `json:"isLoop"`
	DebugMode         bool   `json:"isDebug"`
	TradeButton       Region `json:"tradeBtnLocation"`
	BuyButton         Region `json:"buyBtnLocation"`
	MessageRegion     Region `json:"buyMessageLocation"`
	NameRegion        Region `json:"productNameLocation"`
	PriceRegion       Region `json:"productPriceLocation"`
	// Pauses in milliseconds. nil means unset; 0 is a real zero pause.
	ActionIntervalMs  *int `json:"execIntervalMs"`
	ConfirmIntervalMs *int `json:"buyConfirmIntervalMs"`
}

func intervalOr(ms *int, def time.Duration) time.Duration {
	if ms == nil || *ms < 0 {
		return def
	}
	return time.Duration(*ms) * time.Millisecond
}

func (s Settings) ActionInterval(def time.Duration) time.Duration {
	return intervalOr(s.ActionIntervalMs, def)
}

func (s Settings) ConfirmInterval(def time.Duration) time.Duration {
	return intervalOr(s.ConfirmIntervalMs, def)
}

// BoughtDelta adds Delta to the stored bought counter of one target. ID is
// preferred; Name is used when ID is empty.
type BoughtDelta struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Delta int    `json:"delta"`
}

// Catalog is everything the config store holds for a run.
type Catalog struct {
	Settings Settings `json:"settings"`
	Targets  []Target `json:"targets"`
}

type EmailSettings struct {
	Enabled  bool   `json:"enabled"`
	Email    string `json:"email"`
	AuthCode string `json:"authCode,omitempty"`
}
