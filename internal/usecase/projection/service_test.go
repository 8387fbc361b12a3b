package projection

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fundlane/fundlane-backend/internal/domain"
)

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

type MockPledgeRepository struct {
	mock.Mock
}

func (m *MockPledgeRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Pledge, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Pledge), args.Error(1)
}

func (m *MockPledgeRepository) GetByIdempotencyKey(ctx context.Context, projectID, payerID uuid.UUID, key string) (*domain.Pledge, error) {
	args := m.Called(ctx, projectID, payerID, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Pledge), args.Error(1)
}

func (m *MockPledgeRepository) Create(ctx context.Context, pledge *domain.Pledge) error {
	args := m.Called(ctx, pledge)
	return args.Error(0)
}

func (m *MockPledgeRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.PledgeStatus, version int) error {
	args := m.Called(ctx, id, from, to, version)
	return args.Error(0)
}

func (m *MockPledgeRepository) SetPaymentID(ctx context.Context, id uuid.UUID, paymentID string, version int) error {
	args := m.Called(ctx, id, paymentID, version)
	return args.Error(0)
}

func (m *MockPledgeRepository) AddRefund(ctx context.Context, id uuid.UUID, amount decimal.Decimal, toStatus domain.PledgeStatus, version int) error {
	args := m.Called(ctx, id, amount, toStatus, version)
	return args.Error(0)
}

func (m *MockPledgeRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*domain.Pledge, error) {
	args := m.Called(ctx, projectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Pledge), args.Error(1)
}

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

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(projectRepo *MockProjectRepository, pledgeRepo *MockPledgeRepository, distRepo *MockDistributionRepository, clock *fakeClock) *Service {
	return NewService(projectRepo, pledgeRepo, distRepo, 30*time.Second, clock)
}

func TestProgress_ComputesPercent(t *testing.T) {
	projectRepo := new(MockProjectRepository)
	clock := &fakeClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	svc := newTestService(projectRepo, new(MockPledgeRepository), new(MockDistributionRepository), clock)

	projectID := uuid.New()
	projectRepo.On("GetByID", mock.Anything, projectID).Return(&domain.FundingProject{
		ID:            projectID,
		Status:        domain.ProjectStatusCollecting,
		TargetAmount:  decimal.NewFromInt(1000000),
		CurrentAmount: decimal.NewFromInt(333333),
	}, nil)

	result, err := svc.Progress(context.Background(), projectID)
	require.NoError(t, err)
	assert.True(t, result.Percent.Equal(decimal.RequireFromString("33.33")), "got %s", result.Percent)
}

func TestProgress_ZeroTargetReportsZeroPercent(t *testing.T) {
	projectRepo := new(MockProjectRepository)
	clock := &fakeClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	svc := newTestService(projectRepo, new(MockPledgeRepository), new(MockDistributionRepository), clock)

	projectID := uuid.New()
	projectRepo.On("GetByID", mock.Anything, projectID).Return(&domain.FundingProject{
		ID:            projectID,
		TargetAmount:  decimal.Zero,
		CurrentAmount: decimal.NewFromInt(50),
	}, nil)

	result, err := svc.Progress(context.Background(), projectID)
	require.NoError(t, err)
	assert.True(t, result.Percent.IsZero())
}

func TestProgress_CachesWithinTTL(t *testing.T) {
	projectRepo := new(MockProjectRepository)
	clock := &fakeClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	svc := newTestService(projectRepo, new(MockPledgeRepository), new(MockDistributionRepository), clock)

	projectID := uuid.New()
	projectRepo.On("GetByID", mock.Anything, projectID).Return(&domain.FundingProject{
		ID:            projectID,
		TargetAmount:  decimal.NewFromInt(100),
		CurrentAmount: decimal.NewFromInt(40),
	}, nil).Once()

	_, err := svc.Progress(context.Background(), projectID)
	require.NoError(t, err)
	_, err = svc.Progress(context.Background(), projectID)
	require.NoError(t, err)

	projectRepo.AssertNumberOfCalls(t, "GetByID", 1)
}

func TestProgress_RefetchesAfterTTL(t *testing.T) {
	projectRepo := new(MockProjectRepository)
	clock := &fakeClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	svc := newTestService(projectRepo, new(MockPledgeRepository), new(MockDistributionRepository), clock)

	projectID := uuid.New()
	projectRepo.On("GetByID", mock.Anything, projectID).Return(&domain.FundingProject{
		ID:           projectID,
		TargetAmount: decimal.NewFromInt(100),
	}, nil).Twice()

	_, err := svc.Progress(context.Background(), projectID)
	require.NoError(t, err)

	clock.Advance(31 * time.Second)

	_, err = svc.Progress(context.Background(), projectID)
	require.NoError(t, err)
	projectRepo.AssertNumberOfCalls(t, "GetByID", 2)
}

func TestInvalidate_DropsCachedSnapshot(t *testing.T) {
	projectRepo := new(MockProjectRepository)
	clock := &fakeClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	svc := newTestService(projectRepo, new(MockPledgeRepository), new(MockDistributionRepository), clock)

	projectID := uuid.New()
	projectRepo.On("GetByID", mock.Anything, projectID).Return(&domain.FundingProject{
		ID:           projectID,
		TargetAmount: decimal.NewFromInt(100),
	}, nil).Twice()

	_, err := svc.Progress(context.Background(), projectID)
	require.NoError(t, err)

	svc.Invalidate(projectID)

	_, err = svc.Progress(context.Background(), projectID)
	require.NoError(t, err)
	projectRepo.AssertNumberOfCalls(t, "GetByID", 2)
}

func TestPledgeHistory_ReturnsProjectPledges(t *testing.T) {
	pledgeRepo := new(MockPledgeRepository)
	clock := &fakeClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	svc := newTestService(new(MockProjectRepository), pledgeRepo, new(MockDistributionRepository), clock)

	projectID := uuid.New()
	pledges := []*domain.Pledge{
		{ID: uuid.New(), ProjectID: projectID, Amount: decimal.NewFromInt(200), Status: domain.PledgeStatusCaptured},
		{ID: uuid.New(), ProjectID: projectID, Amount: decimal.NewFromInt(100), Status: domain.PledgeStatusRefunded},
	}
	pledgeRepo.On("ListByProject", mock.Anything, projectID).Return(pledges, nil)

	got, err := svc.PledgeHistory(context.Background(), projectID)
	require.NoError(t, err)
	assert.Equal(t, pledges, got)
}

func TestReport_AggregatesItemOutcomes(t *testing.T) {
	distRepo := new(MockDistributionRepository)
	clock := &fakeClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	svc := newTestService(new(MockProjectRepository), new(MockPledgeRepository), distRepo, clock)

	projectID := uuid.New()
	distID := uuid.New()
	distRepo.On("GetByProject", mock.Anything, projectID).Return(&domain.Distribution{
		ID:          distID,
		ProjectID:   projectID,
		Status:      domain.DistributionStatusExecuted,
		TotalAmount: decimal.NewFromInt(1000),
		Items: []domain.DistributionItem{
			{Amount: decimal.NewFromInt(700), Status: domain.DistributionItemStatusCompleted},
			{Amount: decimal.NewFromInt(200), Status: domain.DistributionItemStatusCompleted},
			{Amount: decimal.NewFromInt(50), Status: domain.DistributionItemStatusFailed},
			{Amount: decimal.NewFromInt(50), Status: domain.DistributionItemStatusPending},
		},
	}, nil)

	report, err := svc.Report(context.Background(), projectID)
	require.NoError(t, err)
	assert.Equal(t, 2, report.CompletedCount)
	assert.Equal(t, 1, report.FailedCount)
	assert.Equal(t, 1, report.PendingCount)
	assert.True(t, report.PaidAmount.Equal(decimal.NewFromInt(900)))
}

func TestReport_NoDistribution(t *testing.T) {
	distRepo := new(MockDistributionRepository)
	clock := &fakeClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	svc := newTestService(new(MockProjectRepository), new(MockPledgeRepository), distRepo, clock)

	projectID := uuid.New()
	distRepo.On("GetByProject", mock.Anything, projectID).Return(nil, domain.ErrNotFound)

	_, err := svc.Report(context.Background(), projectID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}
