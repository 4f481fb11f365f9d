// Package api exposes the operational HTTP surface: health, market data
// reads, credential validity checks, and manual sync triggers.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"exchange-hub/config"
	"exchange-hub/internal/database"
	"exchange-hub/internal/exchange"
	"exchange-hub/internal/gate"
	"exchange-hub/internal/jobs"
	"exchange-hub/internal/vault"
	"exchange-hub/internal/withdrawal"
)

// Server is the HTTP API server.
type Server struct {
	router    *gin.Engine
	http      *http.Server
	exchanges map[string]exchange.Exchange
	repo      *database.Repository
	feeSyncer *jobs.FeeSyncer
	vault     *vault.Client
	cfg       config.ServerConfig
	logger    zerolog.Logger
}

// NewServer builds the server and registers routes.
func NewServer(cfg config.ServerConfig, exchanges map[string]exchange.Exchange, repo *database.Repository, feeSyncer *jobs.FeeSyncer, vaultClient *vault.Client, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:    router,
		exchanges: exchanges,
		repo:      repo,
		feeSyncer: feeSyncer,
		vault:     vaultClient,
		cfg:       cfg,
		logger:    logger.With().Str("component", "api").Logger(),
	}
	s.registerRoutes()

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/exchanges", s.handleListExchanges)

		ex := v1.Group("/exchanges/:exchange")
		{
			ex.GET("/tickers", s.handleTickers)
			ex.GET("/prices", s.handlePrices)
			ex.GET("/tickers/:symbol/price", s.handleLastPrice)
			ex.GET("/orders/:id", s.handleGetOrder)
			ex.GET("/orders/:id/history", s.handleOrderHistory)
			ex.GET("/validity", s.handleValidity)
			ex.PUT("/credentials", s.handleStoreCredentials)
			ex.DELETE("/credentials/:user", s.handleDeleteCredentials)
			ex.GET("/fees", s.handleFees)
			ex.POST("/fees/sync", s.handleFeeSync)
			ex.GET("/withdrawals", s.handleWithdrawals)
			ex.GET("/withdrawal-rules", s.handleListWithdrawalRules)
			ex.POST("/withdrawal-rules", s.handleCreateWithdrawalRule)
			ex.PUT("/withdrawal-rules/:id", s.handleUpdateWithdrawalRule)
		}
	}
}

// Start runs the HTTP server until it fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.http.Addr).Msg("http server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) exchangeFor(c *gin.Context) (exchange.Exchange, bool) {
	name := c.Param("exchange")
	ex, ok := s.exchanges[name]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown exchange %q", name)})
		return nil, false
	}
	return ex, true
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.repo.HealthCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	if err := s.vault.Health(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListExchanges(c *gin.Context) {
	names := make([]string, 0, len(s.exchanges))
	for name := range s.exchanges {
		names = append(names, name)
	}
	c.JSON(http.StatusOK, gin.H{"exchanges": names})
}

func (s *Server) handleTickers(c *gin.Context) {
	ex, ok := s.exchangeFor(c)
	if !ok {
		return
	}
	force := c.Query("force") == "true"
	tickers, err := ex.GetTickersInfo(c.Request.Context(), force)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickers": tickers})
}

func (s *Server) handlePrices(c *gin.Context) {
	ex, ok := s.exchangeFor(c)
	if !ok {
		return
	}
	force := c.Query("force") == "true"
	prices, err := ex.GetTickersPrices(c.Request.Context(), force)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"prices": prices})
}

func (s *Server) handleLastPrice(c *gin.Context) {
	ex, ok := s.exchangeFor(c)
	if !ok {
		return
	}
	symbol := c.Param("symbol")
	tickers, err := ex.GetTickersInfo(c.Request.Context(), false)
	if err != nil {
		s.renderError(c, err)
		return
	}
	for _, t := range tickers {
		if t.Symbol == symbol {
			price, err := ex.GetLastPrice(c.Request.Context(), t, c.Query("force") == "true")
			if err != nil {
				s.renderError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"symbol": symbol, "price": price})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown symbol %q", symbol)})
}

func (s *Server) handleGetOrder(c *gin.Context) {
	ex, ok := s.exchangeFor(c)
	if !ok {
		return
	}
	order, err := ex.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	if err := s.repo.RecordOrderSnapshot(c.Request.Context(), ex.Name(), order); err != nil {
		s.logger.Error().Err(err).Str("order_id", order.OrderID).Msg("order snapshot failed")
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

func (s *Server) handleOrderHistory(c *gin.Context) {
	ex, ok := s.exchangeFor(c)
	if !ok {
		return
	}
	snapshots, err := s.repo.ListOrderSnapshots(c.Request.Context(), ex.Name(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snapshots})
}

func (s *Server) handleValidity(c *gin.Context) {
	ex, ok := s.exchangeFor(c)
	if !ok {
		return
	}
	valid, err := ex.GetAPIKeyValidity(c.Request.Context())
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": valid})
}

type credentialsRequest struct {
	UserID     string `json:"user_id" binding:"required"`
	Key        string `json:"key" binding:"required"`
	Secret     string `json:"secret" binding:"required"`
	Passphrase string `json:"passphrase"`
}

func (s *Server) handleStoreCredentials(c *gin.Context) {
	ex, ok := s.exchangeFor(c)
	if !ok {
		return
	}
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if ex.RequiresPassphrase() && req.Passphrase == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s requires a passphrase", ex.Name())})
		return
	}
	data := vault.APIKeyData{
		APIKey:     req.Key,
		SecretKey:  req.Secret,
		Passphrase: req.Passphrase,
		Exchange:   ex.Name(),
	}
	if err := s.vault.StoreAPIKey(c.Request.Context(), req.UserID, data); err != nil {
		s.renderError(c, err)
		return
	}
	s.logger.Info().Str("exchange", ex.Name()).Str("user_id", req.UserID).Msg("credentials stored")
	c.JSON(http.StatusCreated, gin.H{"status": "stored"})
}

func (s *Server) handleDeleteCredentials(c *gin.Context) {
	ex, ok := s.exchangeFor(c)
	if !ok {
		return
	}
	userID := c.Param("user")
	if err := s.vault.DeleteAPIKey(c.Request.Context(), userID, ex.Name()); err != nil {
		s.renderError(c, err)
		return
	}
	s.logger.Info().Str("exchange", ex.Name()).Str("user_id", userID).Msg("credentials deleted")
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) handleFees(c *gin.Context) {
	ex, ok := s.exchangeFor(c)
	if !ok {
		return
	}
	fees, err := s.repo.ListAssetFees(c.Request.Context(), ex.Name())
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fees": fees})
}

func (s *Server) handleFeeSync(c *gin.Context) {
	ex, ok := s.exchangeFor(c)
	if !ok {
		return
	}
	if err := s.feeSyncer.Sync(c.Request.Context(), ex); err != nil {
		if errors.Is(err, gate.ErrBusy) {
			c.JSON(http.StatusConflict, gin.H{"error": "fee sync already running"})
			return
		}
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "synced"})
}

func (s *Server) handleWithdrawals(c *gin.Context) {
	ex, ok := s.exchangeFor(c)
	if !ok {
		return
	}
	records, err := s.repo.ListWithdrawals(c.Request.Context(), ex.Name(), 100)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": records})
}

type withdrawalRuleRequest struct {
	UserID           string           `json:"user_id" binding:"required"`
	Asset            string           `json:"asset" binding:"required"`
	Address          string           `json:"address" binding:"required"`
	Network          string           `json:"network"`
	AddressTag       string           `json:"address_tag"`
	ThresholdType    string           `json:"threshold_type" binding:"required"`
	MaxFeePercentage *decimal.Decimal `json:"max_fee_percentage"`
	MinAmount        *decimal.Decimal `json:"min_amount"`
	Enabled          *bool            `json:"enabled"`
}

func (req *withdrawalRuleRequest) toRule(id, exchangeName string) *withdrawal.Rule {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return &withdrawal.Rule{
		ID:               id,
		UserID:           req.UserID,
		Exchange:         exchangeName,
		Asset:            req.Asset,
		Address:          req.Address,
		Network:          req.Network,
		AddressTag:       req.AddressTag,
		ThresholdType:    withdrawal.ThresholdType(req.ThresholdType),
		MaxFeePercentage: req.MaxFeePercentage,
		MinAmount:        req.MinAmount,
		Enabled:          enabled,
	}
}

func (s *Server) handleListWithdrawalRules(c *gin.Context) {
	ex, ok := s.exchangeFor(c)
	if !ok {
		return
	}
	rules, err := s.repo.ListEnabledWithdrawalRules(c.Request.Context(), ex.Name())
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

func (s *Server) handleCreateWithdrawalRule(c *gin.Context) {
	ex, ok := s.exchangeFor(c)
	if !ok {
		return
	}
	var req withdrawalRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rule := req.toRule(uuid.New().String(), ex.Name())
	if err := rule.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.repo.CreateWithdrawalRule(c.Request.Context(), rule); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"rule": rule})
}

func (s *Server) handleUpdateWithdrawalRule(c *gin.Context) {
	ex, ok := s.exchangeFor(c)
	if !ok {
		return
	}
	var req withdrawalRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rule := req.toRule(c.Param("id"), ex.Name())
	if err := rule.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.repo.UpdateWithdrawalRule(c.Request.Context(), rule); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rule": rule})
}

// renderError maps the error taxonomy onto HTTP statuses: exchange
// rejections are 422, transport failures 502, everything else 500.
func (s *Server) renderError(c *gin.Context, err error) {
	var reported *exchange.ExchangeReportedError
	var transport *exchange.TransportError
	switch {
	case errors.As(err, &reported):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": reported.Message})
	case errors.As(err, &transport):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		s.logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
