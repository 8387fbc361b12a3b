package distribution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fundlane/fundlane-backend/internal/domain"
	"github.com/fundlane/fundlane-backend/internal/money"
)

// MockProjectRepository is a mock implementation of ProjectRepository for testing
type MockProjectRepository struct {
	mock.Mock
}

func (m *MockProjectRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.FundingProject, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.FundingProject), args.Error(1)
}

func (m *MockProjectRepository) Create(ctx context.Context, project *domain.FundingProject) error {
	args := m.Called(ctx, project)
	return args.Error(0)
}

func (m *MockProjectRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.ProjectStatus, version int) error {
	args := m.Called(ctx, id, from, to, version)
	return args.Error(0)
}

func (m *MockProjectRepository) AdjustCurrentAmount(ctx context.Context, id uuid.UUID, delta decimal.Decimal, version int) error {
	args := m.Called(ctx, id, delta, version)
	return args.Error(0)
}

func (m *MockProjectRepository) ListEnded(ctx context.Context, now time.Time, limit int) ([]*domain.FundingProject, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.FundingProject), args.Error(1)
}

// MockDistributionRepository is a mock implementation of DistributionRepository for testing
type MockDistributionRepository struct {
	mock.Mock
}

func (m *MockDistributionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Distribution, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Distribution), args.Error(1)
}

func (m *MockDistributionRepository) GetByProject(ctx context.Context, projectID uuid.UUID) (*domain.Distribution, error) {
	args := m.Called(ctx, projectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Distribution), args.Error(1)
}

func (m *MockDistributionRepository) Create(ctx context.Context, distribution *domain.Distribution) error {
	args := m.Called(ctx, distribution)
	return args.Error(0)
}

func (m *MockDistributionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.DistributionStatus, version int) error {
	args := m.Called(ctx, id, from, to, version)
	return args.Error(0)
}

func (m *MockDistributionRepository) SaveItems(ctx context.Context, distributionID uuid.UUID, items []domain.DistributionItem) error {
	args := m.Called(ctx, distributionID, items)
	return args.Error(0)
}

func (m *MockDistributionRepository) UpdateItem(ctx context.Context, itemID uuid.UUID, from, to domain.DistributionItemStatus, receiptRef, lastError string) error {
	args := m.Called(ctx, itemID, from, to, receiptRef, lastError)
	return args.Error(0)
}

// MockGateway is a mock implementation of PaymentGateway for testing
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Authorize(ctx context.Context, amount decimal.Decimal, method string) (string, error) {
	args := m.Called(ctx, amount, method)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) Capture(ctx context.Context, token string) (string, error) {
	args := m.Called(ctx, token)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) Refund(ctx context.Context, token string, amount decimal.Decimal) (string, error) {
	args := m.Called(ctx, token, amount)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) Payout(ctx context.Context, recipientID uuid.UUID, amount decimal.Decimal) (string, error) {
	args := m.Called(ctx, recipientID, amount)
	return args.String(0), args.Error(1)
}

// MockOutbox is a mock implementation of EventAppender for testing
type MockOutbox struct {
	mock.Mock
}

func (m *MockOutbox) AppendEvent(ctx context.Context, eventType, aggregateType string, aggregateID uuid.UUID, payload any) error {
	args := m.Called(ctx, eventType, aggregateType, aggregateID, payload)
	return args.Error(0)
}

type passthroughTx struct{}

func (passthroughTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

func newTestService(projects *MockProjectRepository, distributions *MockDistributionRepository, gateway *MockGateway, outbox *MockOutbox) *Service {
	return NewService(projects, distributions, gateway, outbox, passthroughTx{}, fixedClock{now: time.Now()}, time.Second)
}

func percentRule(pct int64, recipient uuid.UUID, priority int) domain.DistributionRule {
	return domain.DistributionRule{
		ID:          uuid.New(),
		Type:        domain.DistributionRuleTypePercentage,
		Percentage:  decimal.NewFromInt(pct),
		RecipientID: recipient,
		Priority:    priority,
	}
}

func TestCreate_SnapshotsRaisedFunds(t *testing.T) {
	ctx := context.Background()

	project := &domain.FundingProject{
		ID:            uuid.New(),
		Title:         "Debut Album",
		TargetAmount:  money.FromInt(1_000_000),
		CurrentAmount: money.FromInt(1_000_000),
		Status:        domain.ProjectStatusDistributing,
		Version:       1,
	}

	projects := new(MockProjectRepository)
	projects.On("GetByID", ctx, project.ID).Return(project, nil)

	distributions := new(MockDistributionRepository)
	distributions.On("GetByProject", ctx, project.ID).Return(nil, domain.ErrNotFound)
	distributions.On("Create", ctx, mock.AnythingOfType("*domain.Distribution")).Return(nil)

	svc := newTestService(projects, distributions, new(MockGateway), new(MockOutbox))

	d, err := svc.Create(ctx, project.ID, []domain.DistributionRule{percentRule(100, uuid.New(), 0)})

	require.NoError(t, err)
	assert.True(t, d.TotalAmount.Equal(money.FromInt(1_000_000)), "total must snapshot CurrentAmount")
	assert.Equal(t, domain.DistributionStatusPending, d.Status)
}

func TestCreate_RejectsSecondDistribution(t *testing.T) {
	ctx := context.Background()

	project := &domain.FundingProject{
		ID:            uuid.New(),
		CurrentAmount: money.FromInt(100),
		Status:        domain.ProjectStatusDistributing,
	}

	projects := new(MockProjectRepository)
	projects.On("GetByID", ctx, project.ID).Return(project, nil)

	distributions := new(MockDistributionRepository)
	distributions.On("GetByProject", ctx, project.ID).Return(&domain.Distribution{ID: uuid.New()}, nil)

	svc := newTestService(projects, distributions, new(MockGateway), new(MockOutbox))

	_, err := svc.Create(ctx, project.ID, []domain.DistributionRule{percentRule(100, uuid.New(), 0)})
	require.Error(t, err)
	assert.True(t, domain.IsStateConflict(err))
}

func TestCalculate_StoresItemsAndMarksCalculated(t *testing.T) {
	ctx := context.Background()

	d := &domain.Distribution{
		ID:          uuid.New(),
		ProjectID:   uuid.New(),
		TotalAmount: money.FromInt(1_000_000),
		Rules: []domain.DistributionRule{
			percentRule(10, uuid.New(), 0),
			percentRule(70, uuid.New(), 1),
			percentRule(20, uuid.New(), 2),
		},
		Status:  domain.DistributionStatusPending,
		Version: 1,
	}

	distributions := new(MockDistributionRepository)
	distributions.On("GetByID", ctx, d.ID).Return(d, nil)
	distributions.On("SaveItems", mock.Anything, d.ID, mock.AnythingOfType("[]domain.DistributionItem")).Return(nil)
	distributions.On("UpdateStatus", mock.Anything, d.ID, domain.DistributionStatusPending, domain.DistributionStatusCalculated, 1).Return(nil)

	svc := newTestService(new(MockProjectRepository), distributions, new(MockGateway), new(MockOutbox))

	got, err := svc.Calculate(ctx, d.ID)

	require.NoError(t, err)
	require.Len(t, got.Items, 3)
	assert.True(t, got.Items[0].Amount.Equal(money.FromInt(100_000)))
	assert.True(t, got.Items[1].Amount.Equal(money.FromInt(700_000)))
	assert.True(t, got.Items[2].Amount.Equal(money.FromInt(200_000)))
	assert.Equal(t, domain.DistributionStatusCalculated, got.Status)
}

func TestCalculate_BadRulesMarkDistributionFailed(t *testing.T) {
	ctx := context.Background()

	d := &domain.Distribution{
		ID:          uuid.New(),
		TotalAmount: money.FromInt(100),
		Rules: []domain.DistributionRule{
			percentRule(80, uuid.New(), 0),
			percentRule(80, uuid.New(), 1),
		},
		Status:  domain.DistributionStatusPending,
		Version: 1,
	}

	distributions := new(MockDistributionRepository)
	distributions.On("GetByID", ctx, d.ID).Return(d, nil)
	distributions.On("UpdateStatus", ctx, d.ID, domain.DistributionStatusPending, domain.DistributionStatusFailed, 1).Return(nil)

	svc := newTestService(new(MockProjectRepository), distributions, new(MockGateway), new(MockOutbox))

	_, err := svc.Calculate(ctx, d.ID)

	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
	distributions.AssertCalled(t, "UpdateStatus", ctx, d.ID, domain.DistributionStatusPending, domain.DistributionStatusFailed, 1)
}

func TestExecute_PaysOutEachItemIndependently(t *testing.T) {
	ctx := context.Background()

	okRecipient := uuid.New()
	badRecipient := uuid.New()

	d := &domain.Distribution{
		ID:          uuid.New(),
		ProjectID:   uuid.New(),
		TotalAmount: money.FromInt(1000),
		Status:      domain.DistributionStatusCalculated,
		Version:     2,
		Items: []domain.DistributionItem{
			{ID: uuid.New(), RecipientID: okRecipient, Amount: money.FromInt(600), Status: domain.DistributionItemStatusPending},
			{ID: uuid.New(), RecipientID: badRecipient, Amount: money.FromInt(400), Status: domain.DistributionItemStatusPending},
		},
	}

	distributions := new(MockDistributionRepository)
	distributions.On("GetByID", ctx, d.ID).Return(d, nil)
	distributions.On("UpdateStatus", mock.Anything, d.ID, domain.DistributionStatusCalculated, domain.DistributionStatusExecuted, 2).Return(nil)
	distributions.On("UpdateItem", mock.Anything, d.Items[0].ID, domain.DistributionItemStatusPending, domain.DistributionItemStatusProcessing, "", "").Return(nil)
	distributions.On("UpdateItem", mock.Anything, d.Items[1].ID, domain.DistributionItemStatusPending, domain.DistributionItemStatusProcessing, "", "").Return(nil)
	distributions.On("UpdateItem", mock.Anything, d.Items[0].ID, domain.DistributionItemStatusProcessing, domain.DistributionItemStatusCompleted, "rcpt-1", "").Return(nil)
	distributions.On("UpdateItem", mock.Anything, d.Items[1].ID, domain.DistributionItemStatusProcessing, domain.DistributionItemStatusFailed, "", "recipient account closed").Return(nil)

	gateway := new(MockGateway)
	gateway.On("Payout", mock.Anything, okRecipient, money.FromInt(600)).Return("rcpt-1", nil)
	gateway.On("Payout", mock.Anything, badRecipient, money.FromInt(400)).Return("", errors.New("recipient account closed"))

	outbox := new(MockOutbox)
	outbox.On("AppendEvent", mock.Anything, domain.EventTypeDistributionExecuted, domain.AggregateTypeDistribution, d.ID, mock.Anything).Return(nil)

	svc := newTestService(new(MockProjectRepository), distributions, gateway, outbox)

	require.NoError(t, svc.Execute(ctx, d.ID), "a failed payout must not fail the distribution")

	// Completed sibling is not rolled back by the failed one
	assert.Equal(t, domain.DistributionItemStatusCompleted, d.Items[0].Status)
	assert.Equal(t, "rcpt-1", d.Items[0].ReceiptRef)
	assert.Equal(t, domain.DistributionItemStatusFailed, d.Items[1].Status)
	assert.Equal(t, "recipient account closed", d.Items[1].LastError)
	distributions.AssertExpectations(t)
}

func TestExecute_OnlyFromCalculated(t *testing.T) {
	ctx := context.Background()

	d := &domain.Distribution{ID: uuid.New(), Status: domain.DistributionStatusPending}

	distributions := new(MockDistributionRepository)
	distributions.On("GetByID", ctx, d.ID).Return(d, nil)

	svc := newTestService(new(MockProjectRepository), distributions, new(MockGateway), new(MockOutbox))

	err := svc.Execute(ctx, d.ID)
	require.Error(t, err)
	assert.True(t, domain.IsStateConflict(err))
}

func TestRetryItem_ReprocessesFailedItemOnly(t *testing.T) {
	ctx := context.Background()

	recipient := uuid.New()
	item := domain.DistributionItem{
		ID:          uuid.New(),
		RecipientID: recipient,
		Amount:      money.FromInt(400),
		Status:      domain.DistributionItemStatusFailed,
		LastError:   "recipient account closed",
	}

	d := &domain.Distribution{
		ID:     uuid.New(),
		Status: domain.DistributionStatusExecuted,
		Items:  []domain.DistributionItem{item},
	}

	distributions := new(MockDistributionRepository)
	distributions.On("GetByID", ctx, d.ID).Return(d, nil)
	distributions.On("UpdateItem", ctx, item.ID, domain.DistributionItemStatusFailed, domain.DistributionItemStatusPending, "", "").Return(nil)
	distributions.On("UpdateItem", mock.Anything, item.ID, domain.DistributionItemStatusPending, domain.DistributionItemStatusProcessing, "", "").Return(nil)
	distributions.On("UpdateItem", mock.Anything, item.ID, domain.DistributionItemStatusProcessing, domain.DistributionItemStatusCompleted, "rcpt-2", "").Return(nil)

	gateway := new(MockGateway)
	gateway.On("Payout", mock.Anything, recipient, money.FromInt(400)).Return("rcpt-2", nil)

	svc := newTestService(new(MockProjectRepository), distributions, gateway, new(MockOutbox))

	require.NoError(t, svc.RetryItem(ctx, d.ID, item.ID))
	distributions.AssertExpectations(t)
}
