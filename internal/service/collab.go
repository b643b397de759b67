package service

import (
	"context"
	"encoding/json"

	"github.com/liftbank/operations-engine/internal/model"
	"github.com/liftbank/operations-engine/internal/operation"
	"github.com/liftbank/operations-engine/internal/repo"
)

// Collaborator interfaces the engine consumes. All are constructor
// injected; none is resolved at runtime.

// UserService resolves wallet accounts and user eligibility before an
// operation touches the ledger.
type UserService interface {
	GetWalletByUUID(ctx context.Context, uuid string) (*operation.WalletAccount, error)
	OnboardingFinished(ctx context.Context, userID uint64) (bool, error)
}

// ComplianceService reports and queries suspicious-operation holds.
type ComplianceService interface {
	CreateWarningTransaction(ctx context.Context, op *operation.Operation) error
	GetWarningTransactionByOperation(ctx context.Context, operationID string) (bool, error)
}

// Conversion is the FX context for a cross-currency operation.
type Conversion struct {
	OperationID  string
	CurrencyID   uint64
	CounterValue int64
}

// OtcService resolves FX context. Optional: when absent, cross-currency
// operations are rejected before any side effect.
type OtcService interface {
	GetConversionByOperation(ctx context.Context, operationID string) (*Conversion, error)
}

// RepoUserService backs UserService with the ledger's own wallet account
// store. Accounts only exist here after the users app finished
// onboarding, so presence implies eligibility.
type RepoUserService struct {
	repo repo.RepositoryInterface
}

func NewRepoUserService(r repo.RepositoryInterface) *RepoUserService {
	return &RepoUserService{repo: r}
}

func (s *RepoUserService) GetWalletByUUID(ctx context.Context, uuid string) (*operation.WalletAccount, error) {
	return s.repo.GetWalletAccountByUUID(ctx, uuid)
}

func (s *RepoUserService) OnboardingFinished(ctx context.Context, userID uint64) (bool, error) {
	return true, nil
}

// OutboxComplianceService delivers warning transactions through the
// event outbox, so compliance consumes them with the same at-least-once
// contract as lifecycle events.
type OutboxComplianceService struct {
	repo repo.RepositoryInterface
}

func NewOutboxComplianceService(r repo.RepositoryInterface) *OutboxComplianceService {
	return &OutboxComplianceService{repo: r}
}

const complianceWarningEvent = "compliance.warning"

func (s *OutboxComplianceService) CreateWarningTransaction(ctx context.Context, op *operation.Operation) error {
	payload, err := json.Marshal(map[string]interface{}{
		"operation_id":        op.ID,
		"transaction_type_id": op.TransactionTypeID,
		"value":               op.RawValue,
		"state":               string(op.State),
	})
	if err != nil {
		return err
	}
	return s.repo.CreateOutboxEvent(ctx, s.repo.DB(ctx), &model.OutboxEvent{
		Aggregate:   "Operation",
		AggregateID: op.ID,
		EventType:   complianceWarningEvent,
		Payload:     string(payload),
	})
}

func (s *OutboxComplianceService) GetWarningTransactionByOperation(ctx context.Context, operationID string) (bool, error) {
	return s.repo.FindOutboxEvent(ctx, "Operation", operationID, complianceWarningEvent)
}
