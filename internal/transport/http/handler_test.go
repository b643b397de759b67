package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/liftbank/operations-engine/internal/config"
	"github.com/liftbank/operations-engine/internal/model"
	"github.com/liftbank/operations-engine/internal/repo"
	"github.com/liftbank/operations-engine/internal/service"
)

func newTestServer(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.Operation{},
		&model.WalletAccount{},
		&model.PendingWalletAccountTransaction{},
		&model.LimitType{},
		&model.TransactionType{},
		&model.UserLimit{},
		&model.GlobalLimit{},
		&model.UserLimitTracker{},
		&model.OutboxEvent{},
	))
	r := repo.NewRepository(db, nil, repo.NewMemoryLocker(), &kafka.Writer{}, zap.NewNop().Sugar())
	eng := service.NewEngine(r, service.NewRepoUserService(r), service.NewOutboxComplianceService(r), nil, service.Config{}, zap.NewNop().Sugar())
	router := NewRouter(eng, config.RateLimitConfig{RPS: 1000, Burst: 1000}, 2, zap.NewNop().Sugar())
	return router, db
}

func seedLedger(t *testing.T, db *gorm.DB) {
	t.Helper()
	require.NoError(t, db.Create(&model.LimitType{ID: 1, Tag: "TRANSFER", Policy: "CALENDAR"}).Error)
	require.NoError(t, db.Create(&model.TransactionType{ID: 1, Tag: "P2P", Participants: "BOTH", LimitTypeID: 1}).Error)
	require.NoError(t, db.Create(&model.WalletAccount{
		ID: 1, UUID: "wa-1", WalletID: 1, UserID: 10, CurrencyID: 1, Balance: 100000,
	}).Error)
	require.NoError(t, db.Create(&model.WalletAccount{
		ID: 2, UUID: "wa-2", WalletID: 2, UserID: 20, CurrencyID: 1, Balance: 5000,
	}).Error)
	require.NoError(t, db.Create(&model.UserLimit{
		UserID: 10, LimitTypeID: 1,
		DailyLimit: 100000, MonthlyLimit: 500000, YearlyLimit: 2000000,
		MaxAmount: 50000, MinAmount: 1,
		DailyResetAt: time.Now(), MonthlyResetAt: time.Now(), YearlyResetAt: time.Now(),
	}).Error)
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	out := map[string]interface{}{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestOperationsEndpoint(t *testing.T) {
	router, db := newTestServer(t)
	seedLedger(t, db)

	rec, body := doJSON(t, router, http.MethodPost, "/v1/operations", gin.H{
		"operation_id":            "op-1",
		"owner_wallet_uuid":       "wa-1",
		"beneficiary_wallet_uuid": "wa-2",
		"transaction_type":        "P2P",
		"amount":                  "150.00",
		"fee":                     "2.50",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "ACCEPTED", body["state"])
	assert.Equal(t, "152.50", body["owner_value"])
	assert.Equal(t, "150.00", body["beneficiary_value"])

	rec, body = doJSON(t, router, http.MethodGet, "/v1/operations/op-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ACCEPTED", body["state"])

	rec, _ = doJSON(t, router, http.MethodGet, "/v1/operations/op-404", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOperationsEndpoint_Violation(t *testing.T) {
	router, db := newTestServer(t)
	seedLedger(t, db)

	rec, body := doJSON(t, router, http.MethodPost, "/v1/operations", gin.H{
		"owner_wallet_uuid":       "wa-1",
		"beneficiary_wallet_uuid": "wa-2",
		"transaction_type":        "P2P",
		"amount":                  "600.00",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	assert.Equal(t, "MAX_AMOUNT_LIMIT_EXCEEDED", body["error"])
	op, ok := body["operation"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "REVERTED", op["state"])
}

func TestOperationsEndpoint_BadInput(t *testing.T) {
	router, db := newTestServer(t)
	seedLedger(t, db)

	// missing required fields
	rec, _ := doJSON(t, router, http.MethodPost, "/v1/operations", gin.H{"amount": "10.00"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// malformed amount
	rec, _ = doJSON(t, router, http.MethodPost, "/v1/operations", gin.H{
		"owner_wallet_uuid":       "wa-1",
		"beneficiary_wallet_uuid": "wa-2",
		"transaction_type":        "P2P",
		"amount":                  "ten",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// more fraction digits than the currency carries
	rec, _ = doJSON(t, router, http.MethodPost, "/v1/operations", gin.H{
		"owner_wallet_uuid":       "wa-1",
		"beneficiary_wallet_uuid": "wa-2",
		"transaction_type":        "P2P",
		"amount":                  "10.001",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReversalEndpoint(t *testing.T) {
	router, db := newTestServer(t)
	seedLedger(t, db)

	rec, _ := doJSON(t, router, http.MethodPost, "/v1/operations", gin.H{
		"operation_id":            "op-1",
		"owner_wallet_uuid":       "wa-1",
		"beneficiary_wallet_uuid": "wa-2",
		"transaction_type":        "P2P",
		"amount":                  "10.00",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, body := doJSON(t, router, http.MethodPost, "/v1/operations/op-1/reversal", gin.H{
		"description": "customer dispute",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "ACCEPTED", body["state"])
	assert.Equal(t, "op-1", body["operation_ref"])

	// only ACCEPTED operations reverse; the reversal itself now has no
	// accepted original behind op-404
	rec, _ = doJSON(t, router, http.MethodPost, "/v1/operations/op-404/reversal", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBalanceEndpoint(t *testing.T) {
	router, db := newTestServer(t)
	seedLedger(t, db)
	require.NoError(t, db.Model(&model.WalletAccount{}).Where("id = ?", 1).
		Update("pending_amount", 2500).Error)

	rec, body := doJSON(t, router, http.MethodGet, "/v1/wallet-accounts/wa-1/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "975.00", body["available"])

	rec, _ = doJSON(t, router, http.MethodGet, "/v1/wallet-accounts/wa-404/balance", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateLimitEndpoints(t *testing.T) {
	router, db := newTestServer(t)
	seedLedger(t, db)

	rec, body := doJSON(t, router, http.MethodPut, "/v1/users/10/limits/TRANSFER", gin.H{
		"daily_limit": "2000.00",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "2000.00", body["daily_limit"])

	// cross-field invariants answer 422 with the blame code
	rec, body = doJSON(t, router, http.MethodPut, "/v1/users/10/limits/TRANSFER", gin.H{
		"max_amount": "5000.00",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	assert.Equal(t, "MAX_AMOUNT_ABOVE_DAILY_LIMIT", body["error"])

	rec, _ = doJSON(t, router, http.MethodPut, "/v1/users/abc/limits/TRANSFER", gin.H{
		"daily_limit": "10.00",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = doJSON(t, router, http.MethodPut, "/v1/limits/TRANSFER", gin.H{
		"daily_limit": "9000.00",
		"max_amount":  "100.00",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "9000.00", body["daily_limit"])
}
