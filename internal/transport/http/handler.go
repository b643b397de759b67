package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/liftbank/operations-engine/internal/money"
	"github.com/liftbank/operations-engine/internal/operation"
	"github.com/liftbank/operations-engine/internal/repo"
	"github.com/liftbank/operations-engine/internal/service"
)

// RegisterHandlers wires the thin HTTP surface over the engine. All
// amounts cross this boundary as decimal strings.
func RegisterHandlers(r *gin.Engine, eng *service.Engine, exponent int32) {
	v1 := r.Group("/v1")
	{
		v1.POST("/operations", createOperationHandler(eng, exponent))
		v1.GET("/operations/:id", getOperationHandler(eng, exponent))
		v1.POST("/operations/:id/reversal", reversalHandler(eng, exponent))
		v1.GET("/wallet-accounts/:uuid/balance", balanceHandler(eng, exponent))
		v1.PUT("/users/:user_id/limits/:limit_type", updateUserLimitHandler(eng, exponent))
		v1.PUT("/limits/:limit_type", updateGlobalLimitHandler(eng, exponent))
	}
}

type createOperationReq struct {
	OperationID           string `json:"operation_id"`
	OwnerWalletUUID       string `json:"owner_wallet_uuid"`
	BeneficiaryWalletUUID string `json:"beneficiary_wallet_uuid"`
	TransactionType       string `json:"transaction_type" binding:"required"`
	Amount                string `json:"amount" binding:"required"`
	Fee                   string `json:"fee"`
	Description           string `json:"description"`
}

func createOperationHandler(eng *service.Engine, exponent int32) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createOperationReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rawValue, err := money.ToMinorUnits(req.Amount, exponent)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}
		var fee int64
		if req.Fee != "" {
			if fee, err = money.ToMinorUnits(req.Fee, exponent); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid fee"})
				return
			}
		}
		op, err := eng.Create(c, service.CreateRequest{
			OperationID:           req.OperationID,
			OwnerWalletUUID:       req.OwnerWalletUUID,
			BeneficiaryWalletUUID: req.BeneficiaryWalletUUID,
			TransactionTypeTag:    req.TransactionType,
			RawValue:              rawValue,
			Fee:                   fee,
			Description:           req.Description,
		})
		writeOperation(c, op, err, exponent)
	}
}

func getOperationHandler(eng *service.Engine, exponent int32) gin.HandlerFunc {
	return func(c *gin.Context) {
		op, err := eng.GetOperation(c, c.Param("id"))
		writeOperation(c, op, err, exponent)
	}
}

type reversalReq struct {
	Description string `json:"description"`
}

func reversalHandler(eng *service.Engine, exponent int32) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req reversalReq
		_ = c.ShouldBindJSON(&req)
		op, err := eng.CreateReversal(c, c.Param("id"), req.Description)
		writeOperation(c, op, err, exponent)
	}
}

func balanceHandler(eng *service.Engine, exponent int32) gin.HandlerFunc {
	return func(c *gin.Context) {
		available, err := eng.GetAvailableBalance(c, c.Param("uuid"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"available": money.FromMinorUnits(available, exponent)})
	}
}

type limitPatchReq struct {
	DailyLimit       *string `json:"daily_limit"`
	MonthlyLimit     *string `json:"monthly_limit"`
	YearlyLimit      *string `json:"yearly_limit"`
	NightlyLimit     *string `json:"nightly_limit"`
	MaxAmount        *string `json:"max_amount"`
	MinAmount        *string `json:"min_amount"`
	MaxAmountNightly *string `json:"max_amount_nightly"`
	MinAmountNightly *string `json:"min_amount_nightly"`
	CreditBalance    *string `json:"credit_balance"`
	NighttimeStart   *string `json:"nighttime_start"`
	NighttimeEnd     *string `json:"nighttime_end"`
}

func (r *limitPatchReq) toPatch(exponent int32) (service.LimitPatch, error) {
	var patch service.LimitPatch
	conv := func(s *string, dst **int64) error {
		if s == nil {
			return nil
		}
		v, err := money.ToMinorUnits(*s, exponent)
		if err != nil {
			return err
		}
		*dst = &v
		return nil
	}
	for _, f := range []struct {
		src *string
		dst **int64
	}{
		{r.DailyLimit, &patch.DailyLimit},
		{r.MonthlyLimit, &patch.MonthlyLimit},
		{r.YearlyLimit, &patch.YearlyLimit},
		{r.NightlyLimit, &patch.NightlyLimit},
		{r.MaxAmount, &patch.MaxAmount},
		{r.MinAmount, &patch.MinAmount},
		{r.MaxAmountNightly, &patch.MaxAmountNightly},
		{r.MinAmountNightly, &patch.MinAmountNightly},
		{r.CreditBalance, &patch.CreditBalance},
	} {
		if err := conv(f.src, f.dst); err != nil {
			return patch, err
		}
	}
	patch.NighttimeStart = r.NighttimeStart
	patch.NighttimeEnd = r.NighttimeEnd
	return patch, nil
}

func updateUserLimitHandler(eng *service.Engine, exponent int32) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := strconv.ParseUint(c.Param("user_id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
			return
		}
		var req limitPatchReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		patch, err := req.toPatch(exponent)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}
		limit, err := eng.UpdateUserLimit(c, userID, c.Param("limit_type"), patch)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, userLimitView(limit, exponent))
	}
}

func updateGlobalLimitHandler(eng *service.Engine, exponent int32) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req limitPatchReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		patch, err := req.toPatch(exponent)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}
		limit, err := eng.UpdateGlobalLimit(c, c.Param("limit_type"), patch)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"limit_type_id": limit.LimitTypeID,
			"daily_limit":   money.FromMinorUnits(limit.DailyLimit, exponent),
			"monthly_limit": money.FromMinorUnits(limit.MonthlyLimit, exponent),
			"yearly_limit":  money.FromMinorUnits(limit.YearlyLimit, exponent),
			"max_amount":    money.FromMinorUnits(limit.MaxAmount, exponent),
			"min_amount":    money.FromMinorUnits(limit.MinAmount, exponent),
		})
	}
}

func userLimitView(l *operation.UserLimit, exponent int32) gin.H {
	return gin.H{
		"user_id":          l.UserID,
		"limit_type_id":    l.LimitTypeID,
		"daily_limit":      money.FromMinorUnits(l.DailyLimit, exponent),
		"monthly_limit":    money.FromMinorUnits(l.MonthlyLimit, exponent),
		"yearly_limit":     money.FromMinorUnits(l.YearlyLimit, exponent),
		"nightly_limit":    money.FromMinorUnits(l.NightlyLimit, exponent),
		"max_amount":       money.FromMinorUnits(l.MaxAmount, exponent),
		"min_amount":       money.FromMinorUnits(l.MinAmount, exponent),
		"used_daily_limit": money.FromMinorUnits(l.UsedDailyLimit, exponent),
		"nighttime_start":  l.NighttimeStart,
		"nighttime_end":    l.NighttimeEnd,
	}
}

func operationView(op *operation.Operation, exponent int32) gin.H {
	view := gin.H{
		"id":                op.ID,
		"transaction_type":  op.TransactionTypeID,
		"currency_id":       op.CurrencyID,
		"raw_value":         money.FromMinorUnits(op.RawValue, exponent),
		"fee":               money.FromMinorUnits(op.Fee, exponent),
		"state":             string(op.State),
		"description":       op.Description,
		"created_at":        op.CreatedAt,
	}
	if op.OwnerWalletAccountID != 0 {
		view["owner_wallet_account_id"] = op.OwnerWalletAccountID
		view["owner_value"] = money.FromMinorUnits(op.OwnerValue, exponent)
	}
	if op.BeneficiaryWalletAccountID != 0 {
		view["beneficiary_wallet_account_id"] = op.BeneficiaryWalletAccountID
		view["beneficiary_value"] = money.FromMinorUnits(op.BeneficiaryValue, exponent)
	}
	if op.OperationRef != "" {
		view["operation_ref"] = op.OperationRef
	}
	return view
}

// writeOperation renders an operation result. A limit violation is not a
// transport failure: the reverted operation is returned alongside the
// rejection code.
func writeOperation(c *gin.Context, op *operation.Operation, err error, exponent int32) {
	var v *operation.Violation
	switch {
	case err == nil:
		c.JSON(http.StatusOK, operationView(op, exponent))
	case errors.As(err, &v):
		body := gin.H{"error": string(v.Code), "limit": v.Limit, "value": v.Value}
		if op != nil {
			body["operation"] = operationView(op, exponent)
		}
		c.JSON(http.StatusUnprocessableEntity, body)
	default:
		writeError(c, err)
	}
}

func writeError(c *gin.Context, err error) {
	var v *operation.Violation
	switch {
	case errors.As(err, &v):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": string(v.Code), "limit": v.Limit, "value": v.Value})
	case errors.Is(err, repo.ErrWalletBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "wallet busy, retry"})
	case errors.Is(err, repo.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, service.ErrCurrencyMismatch),
		errors.Is(err, service.ErrUserNotEligible),
		errors.Is(err, service.ErrNotReversible):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
