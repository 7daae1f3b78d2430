package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"simtrade-core/internal/errs"
	"simtrade-core/internal/funding"
	"simtrade-core/internal/ledger"
	"simtrade-core/internal/pricing"
	"simtrade-core/internal/trading"
	"simtrade-core/pkg/db"
)

// instrumentRequest overlays the provided fields onto the current
// instrument, or onto a blank one for a new symbol.
type instrumentRequest struct {
	DisplayName       *string          `json:"display_name"`
	Categories        []string         `json:"categories"`
	IsStablecoin      *bool            `json:"is_stablecoin"`
	IsTradeable       *bool            `json:"is_tradeable"`
	IsActive          *bool            `json:"is_active"`
	Rank              *int             `json:"rank"`
	VolatilityClass   *float64         `json:"volatility_class"`
	Precision         *int32           `json:"precision"`
	Price             *decimal.Decimal `json:"price"`
	CirculatingSupply *decimal.Decimal `json:"circulating_supply"`
	Volume24h         *decimal.Decimal `json:"volume_24h"`
}

func (r instrumentRequest) apply(i *db.Instrument) {
	if r.DisplayName != nil {
		i.DisplayName = *r.DisplayName
	}
	if r.Categories != nil {
		i.Categories = r.Categories
	}
	if r.IsStablecoin != nil {
		i.IsStablecoin = *r.IsStablecoin
	}
	if r.IsTradeable != nil {
		i.IsTradeable = *r.IsTradeable
	}
	if r.IsActive != nil {
		i.IsActive = *r.IsActive
	}
	if r.Rank != nil {
		i.Rank = *r.Rank
	}
	if r.VolatilityClass != nil {
		i.VolatilityClass = *r.VolatilityClass
	}
	if r.Precision != nil {
		i.Precision = *r.Precision
	}
	if r.Price != nil {
		i.CurrentPrice = *r.Price
	}
	if r.CirculatingSupply != nil {
		i.CirculatingSupply = *r.CirculatingSupply
	}
	if r.Volume24h != nil {
		i.Volume24h = *r.Volume24h
	}
}

type priceRequest struct {
	Price decimal.Decimal `json:"price"`
}

type scenarioRequest struct {
	Name                  string     `json:"name"`
	Target                string     `json:"target" binding:"required"`
	PercentageChange      float64    `json:"percentage_change"`
	ScheduledFor          *time.Time `json:"scheduled_for"`
	RepeatIntervalSeconds int64      `json:"repeat_interval_seconds"`
	ExpiresAt             *time.Time `json:"expires_at"`
}

type forceCloseRequest struct {
	Reason string `json:"reason"`
}

type userFlagsRequest struct {
	Frozen *bool `json:"frozen"`
	Banned *bool `json:"banned"`
}

type creditRequest struct {
	Symbol string          `json:"symbol" binding:"required"`
	Amount decimal.Decimal `json:"amount"`
	Key    string          `json:"key" binding:"required"`
}

type reviewRequest struct {
	Note string `json:"note"`
}

type walletRequest struct {
	Symbol           string `json:"symbol" binding:"required"`
	Address          string `json:"address" binding:"required"`
	MinConfirmations int    `json:"min_confirmations"`
	Primary          bool   `json:"primary"`
	Active           *bool  `json:"active"`
}

// bindOptionalJSON accepts an empty body.
func bindOptionalJSON(c *gin.Context, v any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	return c.ShouldBindJSON(v)
}

func (s *Server) getSettings(c *gin.Context) {
	c.JSON(http.StatusOK, s.Settings.Get())
}

// updateSettings merges the body onto the current settings; the result is
// validated as a whole and nothing changes when it is rejected.
func (s *Server) updateSettings(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		s.abort(c, badRequest(err))
		return
	}
	next := s.Settings.Get()
	if err := json.Unmarshal(raw, &next); err != nil {
		s.abort(c, badRequest(err))
		return
	}
	updated, err := s.Settings.Replace(c.Request.Context(), next)
	if err != nil {
		s.abort(c, err)
		return
	}
	s.log.Info("⚙️ settings changed by admin", zap.String("admin", CurrentUserID(c)))
	c.JSON(http.StatusOK, updated)
}

func (s *Server) upsertInstrument(c *gin.Context) {
	var req instrumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abort(c, badRequest(err))
		return
	}
	symbol := symbolParam(c)
	inst, ok := s.Registry.Get(symbol)
	if !ok {
		inst = db.Instrument{Symbol: symbol, DisplayName: symbol, IsActive: true, IsTradeable: true}
	}
	req.apply(&inst)

	saved, err := s.Registry.Upsert(c.Request.Context(), inst)
	if err != nil {
		s.abort(c, err)
		return
	}
	status := http.StatusOK
	if !ok {
		status = http.StatusCreated
	}
	c.JSON(status, newInstrumentView(saved))
}

func (s *Server) deactivateInstrument(c *gin.Context) {
	if err := s.Registry.Deactivate(c.Request.Context(), symbolParam(c)); err != nil {
		s.abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) overridePrice(c *gin.Context) {
	var req priceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abort(c, badRequest(err))
		return
	}
	inst, err := s.Pricing.Override(c.Request.Context(), symbolParam(c), req.Price)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, newInstrumentView(inst))
}

func (s *Server) listScenarios(c *gin.Context) {
	list, err := s.DB.ActiveScenarios(c.Request.Context())
	if err != nil {
		s.abort(c, errs.Wrap(err, errs.Internal, "load scenarios"))
		return
	}
	out := make([]scenarioView, 0, len(list))
	for _, sc := range list {
		out = append(out, newScenarioView(sc))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) createScenario(c *gin.Context) {
	var req scenarioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abort(c, badRequest(err))
		return
	}
	sc := db.Scenario{
		Name:                  req.Name,
		Target:                req.Target,
		PercentageChange:      req.PercentageChange,
		RepeatIntervalSeconds: req.RepeatIntervalSeconds,
	}
	if strings.EqualFold(sc.Target, pricing.TargetAll) {
		sc.Target = pricing.TargetAll
	} else {
		sc.Target = strings.ToUpper(sc.Target)
	}
	if req.ScheduledFor != nil {
		sc.ScheduledFor = *req.ScheduledFor
	}
	if req.ExpiresAt != nil {
		sc.ExpiresAt = *req.ExpiresAt
	}
	created, err := s.Pricing.CreateScenario(c.Request.Context(), sc)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, newScenarioView(created))
}

func (s *Server) cancelScenario(c *gin.Context) {
	if err := s.Pricing.CancelScenario(c.Request.Context(), c.Param("id")); err != nil {
		s.abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// forceClose resolves any user's trade at the live market outcome.
func (s *Server) forceClose(c *gin.Context) {
	var req forceCloseRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		s.abort(c, badRequest(err))
		return
	}
	if req.Reason == "" {
		req.Reason = trading.ReasonForceClose
	}
	t, err := s.Trading.ForceClose(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		s.abort(c, err)
		return
	}
	s.log.Info("🛑 trade force closed", zap.String("admin", CurrentUserID(c)), zap.String("trade_id", t.ID))
	c.JSON(http.StatusOK, newTradeView(t))
}

func (s *Server) setUserFlags(c *gin.Context) {
	var req userFlagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abort(c, badRequest(err))
		return
	}
	id := c.Param("id")
	cur, ok := s.Users.Get(id)
	if !ok {
		s.abort(c, errs.Newf(errs.NotFound, "user %s not found", id))
		return
	}
	frozen, banned := cur.Frozen, cur.Banned
	if req.Frozen != nil {
		frozen = *req.Frozen
	}
	if req.Banned != nil {
		banned = *req.Banned
	}
	u, err := s.Users.SetFlags(c.Request.Context(), id, frozen, banned)
	s.respond(c, http.StatusOK, newUserView(u), err)
}

// adminCredit grants funds outside the deposit flow; key makes it idempotent.
func (s *Server) adminCredit(c *gin.Context) {
	var req creditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abort(c, badRequest(err))
		return
	}
	res, err := s.Ledger.Credit(c.Request.Context(), c.Param("id"), strings.ToUpper(req.Symbol),
		req.Amount, "admin:"+req.Key, ledger.SourceAdmin)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"balance":   newBalanceView(res.Line),
		"duplicate": res.Duplicate,
	})
}

type pendingQuery struct {
	Kind string `form:"kind"`
}

func (s *Server) pendingFunding(c *gin.Context) {
	var q pendingQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.abort(c, badRequest(err))
		return
	}
	if q.Kind == "" {
		q.Kind = funding.KindDeposit
	}
	list, err := s.Funding.Pending(c.Request.Context(), q.Kind)
	s.respond(c, http.StatusOK, newFundingViews(list), err)
}

func reviewBody(r funding.Review) gin.H {
	return gin.H{
		"request":   newFundingView(r.Request),
		"balance":   newBalanceView(r.Balance),
		"duplicate": r.Duplicate,
	}
}

type reviewFunc func(ctx context.Context, id, reviewer, note string) (funding.Review, error)

// review adapts a funding transition to a handler; the reviewer is the
// calling administrator.
func (s *Server) review(fn reviewFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req reviewRequest
		if err := bindOptionalJSON(c, &req); err != nil {
			s.abort(c, badRequest(err))
			return
		}
		r, err := fn(c.Request.Context(), c.Param("id"), CurrentUserID(c), req.Note)
		if err != nil {
			s.abort(c, err)
			return
		}
		c.JSON(http.StatusOK, reviewBody(r))
	}
}

func (s *Server) rejectDeposit(ctx context.Context, id, reviewer, note string) (funding.Review, error) {
	f, err := s.Funding.RejectDeposit(ctx, id, reviewer, note)
	if err != nil {
		return funding.Review{}, err
	}
	return funding.Review{Request: f, Balance: s.Ledger.Line(f.UserID, f.Symbol)}, nil
}

func (s *Server) listWallets(c *gin.Context) {
	list, err := s.Funding.Wallets(c.Request.Context(), strings.ToUpper(c.Query("symbol")))
	if err != nil {
		s.abort(c, err)
		return
	}
	out := make([]walletView, 0, len(list))
	for _, w := range list {
		out = append(out, newWalletView(w))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) addWallet(c *gin.Context) {
	var req walletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abort(c, badRequest(err))
		return
	}
	w := db.DepositWallet{
		Symbol:           strings.ToUpper(req.Symbol),
		Address:          req.Address,
		MinConfirmations: req.MinConfirmations,
		IsPrimary:        req.Primary,
		IsActive:         req.Active == nil || *req.Active,
	}
	saved, err := s.Funding.AddWallet(c.Request.Context(), w)
	s.respond(c, http.StatusCreated, newWalletView(saved), err)
}

// getMetrics refreshes the gauges and returns a snapshot.
func (s *Server) getMetrics(c *gin.Context) {
	s.Metrics.SetGauges(s.Trading.ActiveCount(), s.Ledger.LineCount(), s.Bus.SubscriberCount(), s.Bus.Dropped())
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}
