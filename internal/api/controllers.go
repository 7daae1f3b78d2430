package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"simtrade-core/internal/errs"
	"simtrade-core/internal/registry"
	"simtrade-core/internal/trading"
)

type listQuery struct {
	Limit int `form:"limit"`
}

func (q *listQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

type instrumentsQuery struct {
	Category      string `form:"category"`
	TradeableOnly bool   `form:"tradeable"`
	All           bool   `form:"all"`
}

type openTradeRequest struct {
	Symbol          string          `json:"symbol" binding:"required"`
	Side            string          `json:"side" binding:"required"`
	Quantity        decimal.Decimal `json:"quantity"`
	DurationSeconds int64           `json:"duration_seconds"`
	QuoteSymbol     string          `json:"quote_symbol"`
}

type fundingRequest struct {
	Symbol  string          `json:"symbol" binding:"required"`
	Amount  decimal.Decimal `json:"amount"`
	Address string          `json:"address"`
}

func symbolParam(c *gin.Context) string {
	return strings.ToUpper(c.Param("symbol"))
}

// listInstruments returns the catalog ordered by rank.
func (s *Server) listInstruments(c *gin.Context) {
	var q instrumentsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.abort(c, badRequest(err))
		return
	}
	list := s.Registry.List(registry.Filter{
		ActiveOnly:    !q.All,
		TradeableOnly: q.TradeableOnly,
		Category:      q.Category,
	})
	out := make([]instrumentView, 0, len(list))
	for _, i := range list {
		out = append(out, newInstrumentView(i))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getInstrument(c *gin.Context) {
	i, ok := s.Registry.Get(symbolParam(c))
	if !ok {
		s.abort(c, errs.Newf(errs.NotFound, "instrument %s not found", symbolParam(c)))
		return
	}
	c.JSON(http.StatusOK, newInstrumentView(i))
}

// listMovements returns the newest movement log entries of one instrument.
func (s *Server) listMovements(c *gin.Context) {
	symbol := symbolParam(c)
	if !s.Registry.Known(symbol) {
		s.abort(c, errs.Newf(errs.NotFound, "instrument %s not found", symbol))
		return
	}
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.abort(c, badRequest(err))
		return
	}
	q.normalize()

	moves, err := s.DB.Movements(c.Request.Context(), symbol, q.Limit)
	if err != nil {
		s.abort(c, errs.Wrap(err, errs.Internal, "load movements"))
		return
	}
	out := make([]movementView, 0, len(moves))
	for _, m := range moves {
		out = append(out, movementView{
			Symbol:        m.Symbol,
			PreviousPrice: m.PreviousPrice,
			NewPrice:      m.NewPrice,
			ChangePct:     m.ChangePct,
			MovementType:  m.MovementType,
			ScenarioID:    m.ScenarioID,
			At:            m.At,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) marketSummary(c *gin.Context) {
	c.JSON(http.StatusOK, s.Pricing.Summary(s.Trading.ActiveCount()))
}

func (s *Server) me(c *gin.Context) {
	u, ok := s.Users.Get(CurrentUserID(c))
	if !ok {
		s.abort(c, errs.New(errs.NotFound, "user not found"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":         newUserView(u),
		"role":         c.GetString(roleContextKey),
		"valuation":    s.Ledger.ValuationUSD(u.ID),
		"active_trade": s.Trading.HasActive(u.ID),
	})
}

// getBalances returns every balance line of the caller and its valuation in
// the quote currency.
func (s *Server) getBalances(c *gin.Context) {
	userID := CurrentUserID(c)
	lines := s.Ledger.Snapshot(userID)
	out := make([]balanceView, 0, len(lines))
	for _, l := range lines {
		out = append(out, newBalanceView(l))
	}
	c.JSON(http.StatusOK, gin.H{
		"balances":  out,
		"valuation": s.Ledger.ValuationUSD(userID),
	})
}

func (s *Server) openTrade(c *gin.Context) {
	var req openTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abort(c, badRequest(err))
		return
	}
	t, err := s.Trading.OpenTrade(c.Request.Context(), trading.OpenRequest{
		UserID:          CurrentUserID(c),
		Symbol:          strings.ToUpper(req.Symbol),
		Side:            strings.ToLower(req.Side),
		Quantity:        req.Quantity,
		DurationSeconds: req.DurationSeconds,
		QuoteSymbol:     strings.ToUpper(req.QuoteSymbol),
	})
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, newTradeView(t))
}

func (s *Server) activeTrades(c *gin.Context) {
	c.JSON(http.StatusOK, newTradeViews(s.Trading.ActiveTrades(CurrentUserID(c))))
}

func (s *Server) listTrades(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.abort(c, badRequest(err))
		return
	}
	q.normalize()
	trades, err := s.Trading.List(c.Request.Context(), CurrentUserID(c), q.Limit)
	s.respond(c, http.StatusOK, newTradeViews(trades), err)
}

func (s *Server) getTrade(c *gin.Context) {
	t, err := s.Trading.Get(c.Request.Context(), c.Param("id"))
	if err == nil && t.UserID != CurrentUserID(c) {
		err = errs.ErrTradeNotFound
	}
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, newTradeView(t))
}

// closeTrade resolves the caller's trade at the live market outcome.
func (s *Server) closeTrade(c *gin.Context) {
	t, err := s.Trading.CloseTrade(c.Request.Context(), CurrentUserID(c), c.Param("id"))
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, newTradeView(t))
}

func (s *Server) depositWallet(c *gin.Context) {
	w, err := s.Funding.PrimaryWallet(c.Request.Context(), symbolParam(c))
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, newWalletView(w))
}

// createDeposit opens a pending deposit and returns the address to pay.
func (s *Server) createDeposit(c *gin.Context) {
	var req fundingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abort(c, badRequest(err))
		return
	}
	f, w, err := s.Funding.CreateDeposit(c.Request.Context(), CurrentUserID(c),
		strings.ToUpper(req.Symbol), req.Amount, req.Address)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"request": newFundingView(f),
		"wallet":  newWalletView(w),
	})
}

// createWithdrawal reserves the amount until an administrator reviews it.
func (s *Server) createWithdrawal(c *gin.Context) {
	var req fundingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abort(c, badRequest(err))
		return
	}
	f, err := s.Funding.CreateWithdrawal(c.Request.Context(), CurrentUserID(c),
		strings.ToUpper(req.Symbol), req.Amount, req.Address)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, newFundingView(f))
}

func (s *Server) fundingHistory(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.abort(c, badRequest(err))
		return
	}
	q.normalize()
	list, err := s.DB.Queries().FundingByUser(c.Request.Context(), CurrentUserID(c), q.Limit)
	if err != nil {
		s.abort(c, errs.Wrap(err, errs.Internal, "load funding history"))
		return
	}
	c.JSON(http.StatusOK, newFundingViews(list))
}

func (s *Server) getFunding(c *gin.Context) {
	f, err := s.Funding.Get(c.Request.Context(), c.Param("id"))
	if err == nil && f.UserID != CurrentUserID(c) {
		err = errs.New(errs.NotFound, "funding request not found")
	}
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, newFundingView(f))
}
