// Package accounts is the registry of exchange accounts the engine tracks.
// Credentials are opaque here: an account carries only a CredentialsRef
// naming an entry in the external secret store.
package accounts

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/ksred/folio-api/internal/types"
	"github.com/ksred/folio-api/pkg/response"
)

var (
	ErrMissingName     = errors.New("accounts: name is required")
	ErrMissingExchange = errors.New("accounts: exchange kind is required")
)

// CachePurger deletes an account's cache partition when the account goes.
type CachePurger interface {
	Delete(ctx context.Context, accountID string) error
}

// SeriesPurger deletes an account's persisted equity series.
type SeriesPurger interface {
	DeleteAccountSeries(ctx context.Context, accountID string) error
}

// HistoryPurger drops an account's in-memory history so a deleted account
// cannot keep serving stale cached data.
type HistoryPurger interface {
	Forget(accountID string)
}

// Service handles account lifecycle. Deleting an account cascades to its
// cache partition, equity series and in-memory history so no orphaned
// history remains.
type Service struct {
	db            *Database
	cachePurger   CachePurger
	seriesPurger  SeriesPurger
	historyPurger HistoryPurger
}

// NewService creates an account service with the given database connection.
func NewService(gormDB *gorm.DB, cachePurger CachePurger, seriesPurger SeriesPurger, historyPurger HistoryPurger) *Service {
	return &Service{
		db:            NewDatabase(gormDB),
		cachePurger:   cachePurger,
		seriesPurger:  seriesPurger,
		historyPurger: historyPurger,
	}
}

// CreateAccount registers a new account, assigning its stable id.
func (s *Service) CreateAccount(ctx context.Context, account *types.Account) error {
	if account.Name == "" {
		return ErrMissingName
	}
	if account.ExchangeKind == "" {
		return ErrMissingExchange
	}

	account.AccountID = uuid.New().String()
	account.CreatedAt = time.Now()
	return s.db.CreateAccount(ctx, account)
}

// GetAccount retrieves an account by its id; nil when not found.
func (s *Service) GetAccount(ctx context.Context, accountID string) (*types.Account, error) {
	return s.db.GetAccount(ctx, accountID)
}

// ListAccounts returns every registered account in creation order.
func (s *Service) ListAccounts(ctx context.Context) ([]types.Account, error) {
	return s.db.ListAccounts(ctx)
}

// DeleteAccount removes the account and purges its cache partition, equity
// series and in-memory history.
func (s *Service) DeleteAccount(ctx context.Context, accountID string) error {
	logger := log.With().
		Str("component", "accounts").
		Str("account_id", accountID).
		Logger()

	if err := s.db.DeleteAccount(ctx, accountID); err != nil {
		return err
	}
	if err := s.cachePurger.Delete(ctx, accountID); err != nil {
		logger.Error().Err(err).Msg("failed to purge cache partition")
		return err
	}
	if err := s.seriesPurger.DeleteAccountSeries(ctx, accountID); err != nil {
		logger.Error().Err(err).Msg("failed to purge equity series")
		return err
	}
	s.historyPurger.Forget(accountID)

	logger.Info().Msg("account deleted with cache and equity series")
	return nil
}

// GinHandlers contains HTTP handlers for account endpoints.
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates the account endpoint handlers.
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// CreateAccountHandler handles POST requests to register an account.
func (h *GinHandlers) CreateAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var account types.Account
		if err := c.ShouldBindJSON(&account); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		if err := h.service.CreateAccount(c.Request.Context(), &account); err != nil {
			if errors.Is(err, ErrMissingName) || errors.Is(err, ErrMissingExchange) {
				response.BadRequest(c, err.Error())
				return
			}
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, account)
	}
}

// ListAccountsHandler handles GET requests for all accounts.
func (h *GinHandlers) ListAccountsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accounts, err := h.service.ListAccounts(c.Request.Context())
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, accounts)
	}
}

// GetAccountHandler handles GET requests for one account.
// URL parameter: account_id
func (h *GinHandlers) GetAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		account, err := h.service.GetAccount(c.Request.Context(), c.Param("account_id"))
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		if account == nil {
			response.NotFound(c, "Account not found")
			return
		}
		response.Success(c, account)
	}
}

// DeleteAccountHandler handles DELETE requests for one account.
// URL parameter: account_id
func (h *GinHandlers) DeleteAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.Param("account_id")

		account, err := h.service.GetAccount(c.Request.Context(), accountID)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		if account == nil {
			response.NotFound(c, "Account not found")
			return
		}

		if err := h.service.DeleteAccount(c.Request.Context(), accountID); err != nil {
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, gin.H{"deleted": accountID})
	}
}
