package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"rush_engine/internal/input"
	"rush_engine/internal/logbus"
	"rush_engine/internal/model"
	"rush_engine/internal/notify"
	"rush_engine/internal/vision"
)

type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeCancelled
	OutcomeNotConfirmed
	OutcomeError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeNotConfirmed:
		return "not_confirmed"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// Outcome is the result of one purchase attempt. Reason is set for
// cancellations, Err for errors.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
	Err    error
}

// Cancel reasons.
const (
	reasonNameEmpty     = "name_empty"
	reasonNameMismatch  = "name_mismatch"
	reasonPriceInvalid  = "price_invalid"
	reasonPriceRejected = "price_rejected"
)

// priceReading is one observation of the price region.
type priceReading struct {
	Valid bool
	Value int64
	Raw   string
}

// acceptPrice reports whether value is within ceiling. The ceiling itself is
// accepted.
func acceptPrice(value int64, ceiling float64) bool {
	return float64(value) <= ceiling
}

// run is the state of one Start..Stop lifecycle. Everything in it is owned by
// the worker goroutine once spawned.
type run struct {
	ctx     context.Context
	id      string
	snap    Snapshot
	catalog []model.Target
	queue   *Queue
}

// clickRegion clicks the center of region. In debug mode the pointer only
// moves there.
func (e *Engine) clickRegion(ctx context.Context, s Snapshot, region model.Region) error {
	x, y, err := region.Center()
	if err != nil {
		return err
	}
	if err := e.actuator.MoveTo(ctx, x, y); err != nil {
		return fmt.Errorf("move to (%.1f, %.1f): %w", x, y, err)
	}
	if s.Settings.DebugMode {
		return nil
	}
	if err := e.actuator.Click(ctx); err != nil {
		return fmt.Errorf("click: %w", err)
	}
	return nil
}

// cancel backs out of the current dialog.
func (e *Engine) cancel(ctx context.Context, s Snapshot, reason string) Outcome {
	if err := e.actuator.PressKey(ctx, input.KeyEscape); err != nil {
		e.bus.Log("warn", "取消操作失败", map[string]any{"error": err.Error()})
	}
	e.sleep(s.ActionInterval)
	return Outcome{Kind: OutcomeCancelled, Reason: reason}
}

func (e *Engine) recognize(ctx context.Context, region model.Region, lang vision.Lang) ([]vision.Text, error) {
	img, err := e.screen.Capture(ctx, region)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	if img == nil {
		return nil, errCaptureFailed
	}
	return e.vision.Recognize(ctx, img, lang)
}

func (e *Engine) readName(ctx context.Context, s Snapshot) string {
	res, err := e.recognize(ctx, s.Settings.NameRegion, vision.LangNative)
	if err != nil {
		e.bus.Log("error", "商品名称识别失败", map[string]any{"error": err.Error()})
		return ""
	}
	return vision.StripSpace(vision.FirstText(res))
}

func (e *Engine) readPrice(ctx context.Context, s Snapshot) priceReading {
	res, err := e.recognize(ctx, s.Settings.PriceRegion, vision.LangNumeric)
	if err != nil {
		e.bus.Log("error", "价格识别失败", map[string]any{"error": err.Error()})
		return priceReading{}
	}
	raw := vision.FirstText(res)
	digits := vision.Digits(raw)
	if digits == "" {
		return priceReading{Raw: raw}
	}
	v, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return priceReading{Raw: raw}
	}
	return priceReading{Valid: true, Value: v, Raw: raw}
}

func (e *Engine) confirmed(ctx context.Context, s Snapshot) bool {
	res, err := e.recognize(ctx, s.Settings.MessageRegion, vision.LangNative)
	if err != nil {
		e.bus.Log("error", "购买确认失败", map[string]any{"error": err.Error()})
		return false
	}
	for _, t := range res {
		if strings.Contains(t.Text, e.rush.SuccessMarker) {
			return true
		}
	}
	return false
}

// attempt runs the purchase pipeline once for t: navigate, identify, read the
// price, decide, buy, confirm and record. Only record mutates t.
func (e *Engine) attempt(r *run, t *model.Target) Outcome {
	ctx := r.ctx
	s := r.snap

	if err := e.clickRegion(ctx, s, t.Region); err != nil {
		return Outcome{Kind: OutcomeError, Err: fmt.Errorf("navigate: %w", err)}
	}
	e.sleep(s.ActionInterval)

	name := e.readName(ctx, s)
	expected := model.CompactName(t.Name)
	if name == "" {
		e.bus.Log("warn", "未能识别商品名称", map[string]any{"name": t.Name})
		return e.cancel(ctx, s, reasonNameEmpty)
	}
	if !strings.Contains(expected, name) {
		e.bus.Log("warn", "商品不匹配", map[string]any{"detected": name, "expected": expected})
		return e.cancel(ctx, s, reasonNameMismatch)
	}

	price := e.readPrice(ctx, s)
	if !price.Valid {
		e.bus.Log("warn", "价格无效", map[string]any{"name": t.Name, "raw": price.Raw})
		return e.cancel(ctx, s, reasonPriceInvalid)
	}

	ceiling := t.PriceCeiling()
	if !acceptPrice(price.Value, ceiling) {
		e.bus.Log("info", "价格超出接受范围", map[string]any{
			"name":    t.Name,
			"price":   price.Value,
			"ceiling": ceiling,
		})
		return e.cancel(ctx, s, reasonPriceRejected)
	}

	if err := e.clickRegion(ctx, s, s.Settings.BuyButton); err != nil {
		return Outcome{Kind: OutcomeError, Err: fmt.Errorf("purchase: %w", err)}
	}
	e.sleep(s.ConfirmInterval)

	// A purchase that went through but was not recognized is not reconciled.
	if !e.confirmed(ctx, s) {
		e.bus.Log("warn", "未确认购买成功", map[string]any{"name": t.Name, "price": price.Value})
		return Outcome{Kind: OutcomeNotConfirmed}
	}

	e.record(r, t, price)
	e.cancel(ctx, s, "")
	return Outcome{Kind: OutcomeSuccess}
}

// record bumps the bought counter, persists the catalog and announces the
// purchase.
func (e *Engine) record(r *run, t *model.Target, price priceReading) {
	ceiling := t.PriceCeiling()
	premium := 0.0
	if t.ExpectedPrice > 0 {
		premium = (float64(price.Value)/t.ExpectedPrice - 1) * 100
	}
	now := time.Now()
	e.bus.Log("info", fmt.Sprintf("购买时间：%s | 物品名称: %s | 理想价格: %g | 最高执行价格: %g | 购买价格: %d | 溢价: %.2f%%",
		now.Format("2006-01-02 15:04:05"), t.Name, t.ExpectedPrice, ceiling, price.Value, premium), map[string]any{
		"runId": r.id,
	})

	t.AlreadyBought++

	index := indexOf(r.catalog, t.Name)
	if index == -1 {
		e.bus.Log("warn", "未找到商品配置项", map[string]any{"name": t.Name})
		return
	}
	// only the counter is written back; the stored catalog may have been edited since Start
	delta := model.BoughtDelta{ID: t.ID, Name: t.Name, Delta: 1}
	if err := e.store.WriteField(r.ctx, model.FieldBought, delta); err != nil {
		e.bus.Log("error", "配置写入失败", map[string]any{"name": t.Name, "error": err.Error()})
	}
	e.bus.Publish(logbus.TypeBought, BoughtEvent{Index: index, Target: *t})
	e.bus.Log("info", "配置更新成功", map[string]any{
		"name":          t.Name,
		"alreadyBought": t.AlreadyBought,
		"buyGoal":       t.BuyGoal,
	})

	if e.notifier != nil {
		e.notifier.NotifyPurchased(r.ctx, notify.PurchaseEvent{
			At:             now.UnixMilli(),
			RunID:          r.id,
			TargetID:       t.ID,
			TargetName:     t.Name,
			Kind:           t.Kind,
			Index:          index,
			Price:          price.Value,
			ExpectedPrice:  t.ExpectedPrice,
			Ceiling:        ceiling,
			PremiumPercent: premium,
			AlreadyBought:  t.AlreadyBought,
			BuyGoal:        t.BuyGoal,
		})
	}
}
