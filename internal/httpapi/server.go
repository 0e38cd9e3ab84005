package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"rush_engine/internal/config"
	"rush_engine/internal/engine"
	"rush_engine/internal/logbus"
	"rush_engine/internal/model"
	"rush_engine/internal/notify"
	"rush_engine/internal/store/sqlite"
	"rush_engine/internal/ws"
)

const maskedAuthCode = "******"

type Options struct {
	Cfg    config.Config
	Bus    *logbus.Bus
	Store  *sqlite.Store
	Engine *engine.Engine
}

type Server struct {
	cfg    config.Config
	bus    *logbus.Bus
	store  *sqlite.Store
	engine *engine.Engine
	ws     *ws.Handler
}

func New(opts Options) *Server {
	return &Server{
		cfg:    opts.Cfg,
		bus:    opts.Bus,
		store:  opts.Store,
		engine: opts.Engine,
		ws:     ws.NewHandler(opts.Bus, opts.Cfg.Server.Cors.AllowOrigins),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/ws", s.ws)

	api := http.NewServeMux()
	api.HandleFunc("/api/v1/targets", s.handleTargets)
	api.HandleFunc("/api/v1/targets/reset", s.handleTargetReset)
	api.HandleFunc("/api/v1/settings", s.handleSettings)
	api.HandleFunc("/api/v1/settings/email", s.handleEmailSettings)
	api.HandleFunc("/api/v1/settings/email/test", s.handleEmailTest)
	api.HandleFunc("/api/v1/engine/start", s.handleEngineStart)
	api.HandleFunc("/api/v1/engine/stop", s.handleEngineStop)
	api.HandleFunc("/api/v1/engine/state", s.handleEngineState)

	mux.Handle("/api/", corsMiddleware(s.cfg.Server.Cors, api))
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type targetUpsertPayload struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	Kind             string       `json:"kind,omitempty"`
	ExpectedPrice    float64      `json:"expectedPrice"`
	TolerancePercent float64      `json:"tolerancePercent"`
	Enabled          bool         `json:"enabled"`
	BuyGoal          int          `json:"buyGoal"`
	AlreadyBought    *int         `json:"alreadyBought,omitempty"`
	Region           model.Region `json:"region"`
}

func (s *Server) handleTargets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		targets, err := s.store.ListTargets(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		if targets == nil {
			targets = []model.Target{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": targets})
	case http.MethodPost:
		var body targetUpsertPayload
		if err := readJSON(r, &body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		if len(body.Region) != 0 && !body.Region.Valid() {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "region must be [x, y, width, height]"})
			return
		}

		next := model.Target{
			ID:               strings.TrimSpace(body.ID),
			Name:             strings.TrimSpace(body.Name),
			Kind:             strings.TrimSpace(body.Kind),
			ExpectedPrice:    body.ExpectedPrice,
			TolerancePercent: body.TolerancePercent,
			Enabled:          body.Enabled,
			BuyGoal:          body.BuyGoal,
			Region:           body.Region,
		}
		// the bought counter belongs to the engine; keep it unless explicitly set
		if body.AlreadyBought != nil {
			next.AlreadyBought = *body.AlreadyBought
		} else if next.ID != "" {
			if current, err := s.store.GetTarget(r.Context(), next.ID); err == nil {
				next.AlreadyBought = current.AlreadyBought
			}
		}

		t, err := s.store.UpsertTarget(r.Context(), next)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": t})
	case http.MethodDelete:
		id := r.URL.Query().Get("id")
		if id == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "id is required"})
			return
		}
		if err := s.store.DeleteTarget(r.Context(), id); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleTargetReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		ID string `json:"id"`
	}
	if err := readJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	id := strings.TrimSpace(body.ID)
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "id is required"})
		return
	}
	t, err := s.store.ResetTargetBought(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "target not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": t})
}

type settingsPayload struct {
	LoopMode          *bool         `json:"isLoop,omitempty"`
	DebugMode         *bool         `json:"isDebug,omitempty"`
	TradeButton       *model.Region `json:"tradeBtnLocation,omitempty"`
	BuyButton         *model.Region `json:"buyBtnLocation,omitempty"`
	MessageRegion     *model.Region `json:"buyMessageLocation,omitempty"`
	NameRegion        *model.Region `json:"productNameLocation,omitempty"`
	PriceRegion       *model.Region `json:"productPriceLocation,omitempty"`
	ActionIntervalMs  *int          `json:"execIntervalMs,omitempty"`
	ConfirmIntervalMs *int          `json:"buyConfirmIntervalMs,omitempty"`
}

// apply merges the payload into cur. An empty region clears the stored one.
func (p settingsPayload) apply(cur model.Settings) (model.Settings, error) {
	if p.LoopMode != nil {
		cur.LoopMode = *p.LoopMode
	}
	if p.DebugMode != nil {
		cur.DebugMode = *p.DebugMode
	}
	regions := []struct {
		in  *model.Region
		out *model.Region
		key string
	}{
		{p.TradeButton, &cur.TradeButton, model.FieldTradeButton},
		{p.BuyButton, &cur.BuyButton, model.FieldBuyButton},
		{p.MessageRegion, &cur.MessageRegion, model.FieldBuyMessage},
		{p.NameRegion, &cur.NameRegion, model.FieldProductName},
		{p.PriceRegion, &cur.PriceRegion, model.FieldProductPrice},
	}
	for _, rg := range regions {
		if rg.in == nil {
			continue
		}
		if len(*rg.in) == 0 {
			*rg.out = nil
			continue
		}
		if !rg.in.Valid() {
			return model.Settings{}, errors.New(rg.key + " must be [x, y, width, height]")
		}
		*rg.out = *rg.in
	}
	if p.ActionIntervalMs != nil {
		if *p.ActionIntervalMs < 0 {
			return model.Settings{}, errors.New("execIntervalMs must be >= 0")
		}
		v := *p.ActionIntervalMs
		cur.ActionIntervalMs = &v
	}
	if p.ConfirmIntervalMs != nil {
		if *p.ConfirmIntervalMs < 0 {
			return model.Settings{}, errors.New("buyConfirmIntervalMs must be >= 0")
		}
		v := *p.ConfirmIntervalMs
		cur.ConfirmIntervalMs = &v
	}
	return cur, nil
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		val, err := s.store.GetSettings(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": val})
	case http.MethodPost:
		var body settingsPayload
		if err := readJSON(r, &body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		current, err := s.store.GetSettings(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		next, err := body.apply(current)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		if err := s.store.SaveSettings(r.Context(), next); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		s.bus.Log("info", "配置已更新", nil)
		writeJSON(w, http.StatusOK, map[string]any{"data": next})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type emailSettingsPayload struct {
	Enabled  *bool   `json:"enabled,omitempty"`
	Email    *string `json:"email,omitempty"`
	AuthCode *string `json:"authCode,omitempty"`
}

func (s *Server) handleEmailSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		val, ok, err := s.store.GetEmailSettings(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		if !ok {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": model.EmailSettings{},
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": maskEmail(val)})
	case http.MethodPost:
		var body emailSettingsPayload
		if err := readJSON(r, &body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}

		current, _, err := s.store.GetEmailSettings(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}

		next := current
		if body.Enabled != nil {
			next.Enabled = *body.Enabled
		}
		if body.Email != nil {
			next.Email = strings.TrimSpace(*body.Email)
		}
		if body.AuthCode != nil {
			ac := strings.TrimSpace(*body.AuthCode)
			if ac != maskedAuthCode {
				next.AuthCode = ac
			}
		}
		if next.Enabled {
			if err := notify.ValidateEmailSettings(next); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
				return
			}
		}

		saved, err := s.store.UpsertEmailSettings(r.Context(), next)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": maskEmail(saved)})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func maskEmail(v model.EmailSettings) model.EmailSettings {
	if v.AuthCode != "" {
		v.AuthCode = maskedAuthCode
	}
	return v
}

type emailTestPayload struct {
	Email    string `json:"email,omitempty"`
	AuthCode string `json:"authCode,omitempty"`
}

func (s *Server) handleEmailTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body emailTestPayload
	if err := readJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	val, _, err := s.store.GetEmailSettings(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if strings.TrimSpace(body.Email) != "" {
		val.Email = strings.TrimSpace(body.Email)
	}
	if ac := strings.TrimSpace(body.AuthCode); ac != "" && ac != maskedAuthCode {
		val.AuthCode = ac
	}

	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()

	if err := notify.SendPurchaseEmail(ctx, val, notify.PurchaseEvent{
		At:            time.Now().UnixMilli(),
		RunID:         "test",
		TargetID:      "test",
		TargetName:    "邮件测试：弹药箱",
		Kind:          "test",
		Index:         0,
		Price:         100,
		ExpectedPrice: 100,
		Ceiling:       110,
		BuyGoal:       1,
		AlreadyBought: 1,
	}); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleEngineStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := s.engine.Start(ctx); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, engine.ErrAlreadyRunning) {
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleEngineStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := s.engine.Stop(ctx); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleEngineState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": s.engine.State()})
}
