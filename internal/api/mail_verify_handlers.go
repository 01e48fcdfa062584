package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/atomic"

	"github.com/gotrs-io/gotrs-mailverify/internal/email/verify"
	"github.com/gotrs-io/gotrs-mailverify/internal/middleware"
	"github.com/gotrs-io/gotrs-mailverify/internal/models"
	"github.com/gotrs-io/gotrs-mailverify/internal/repository"
)

// AccountLookup loads the stored mailbox a verification runs against.
type AccountLookup interface {
	GetByID(ctx context.Context, id int64) (*models.MailAccount, error)
}

// TestStarter launches a detached verification and returns its test id.
type TestStarter interface {
	Start(accountID int64, cfg verify.MailboxConfig) (string, error)
}

// MailVerifyHandlers serves the start-test and get-result endpoints.
type MailVerifyHandlers struct {
	accounts     AccountLookup
	tests        TestStarter
	results      verify.ResultStore
	cleanupDelay *atomic.Duration
	logger       *log.Logger
}

// NewMailVerifyHandlers wires the handlers. A non-positive cleanupDelay uses verify.DefaultCleanup.
func NewMailVerifyHandlers(accounts AccountLookup, tests TestStarter, results verify.ResultStore, cleanupDelay time.Duration, logger *log.Logger) *MailVerifyHandlers {
	if cleanupDelay <= 0 {
		cleanupDelay = verify.DefaultCleanup
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[API] ", log.LstdFlags)
	}
	return &MailVerifyHandlers{
		accounts:     accounts,
		tests:        tests,
		results:      results,
		cleanupDelay: atomic.NewDuration(cleanupDelay),
		logger:       logger,
	}
}

// SetCleanupDelay changes the eviction delay for results read from now on.
func (h *MailVerifyHandlers) SetCleanupDelay(d time.Duration) {
	if d > 0 {
		h.cleanupDelay.Store(d)
	}
}

// @Router /api/v1/mail-accounts/{id}/verify [post].
func (h *MailVerifyHandlers) StartTest(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid mail account id"})
		return
	}

	account, err := h.accounts.GetByID(c.Request.Context(), id)
	if errors.Is(err, repository.ErrAccountNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "mail account not found"})
		return
	}
	if err != nil {
		h.logger.Printf("request %s: load mail account %d: %v", middleware.GetRequestID(c), id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to load mail account"})
		return
	}

	testID, err := h.tests.Start(account.ID, account.MailboxConfig())
	if errors.Is(err, verify.ErrShuttingDown) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "service is shutting down"})
		return
	}
	if err != nil {
		h.logger.Printf("request %s: start verification for account %d: %v", middleware.GetRequestID(c), id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to start verification"})
		return
	}
	h.logger.Printf("request %s: started verification %s for account %d", middleware.GetRequestID(c), testID, account.ID)

	c.JSON(http.StatusOK, gin.H{"success": true, "testId": testID})
}

// @Router /api/v1/mail-accounts/verify/{testId} [get].
func (h *MailVerifyHandlers) GetResult(c *gin.Context) {
	testID := c.Param("testId")

	outcome, ok := h.results.Get(testID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "test not found or expired"})
		return
	}

	// Last chance for slow pollers before the entry goes away.
	if outcome.Terminal() {
		h.results.ScheduleCleanup(testID, h.cleanupDelay.Load())
	}

	c.JSON(http.StatusOK, outcome)
}

// RegisterRoutes registers mail verification routes. startGuards run before StartTest only;
// reading results never touches the account store.
func (h *MailVerifyHandlers) RegisterRoutes(router *gin.RouterGroup, startGuards ...gin.HandlerFunc) {
	accounts := router.Group("/mail-accounts")
	{
		start := append(append([]gin.HandlerFunc{}, startGuards...), h.StartTest)
		accounts.POST("/:id/verify", start...)
		accounts.GET("/verify/:testId", h.GetResult)
	}
}
