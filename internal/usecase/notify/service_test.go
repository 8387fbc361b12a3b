package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fundlane/fundlane-backend/internal/domain"
)

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Send(ctx context.Context, userID uuid.UUID, templateID string, payload map[string]string) error {
	args := m.Called(ctx, userID, templateID, payload)
	return args.Error(0)
}

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

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func eventWithPayload(t *testing.T, eventType string, payload any) *domain.EventLog {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &domain.EventLog{
		ID:            uuid.New(),
		EventType:     eventType,
		AggregateType: domain.AggregateTypePledge,
		AggregateID:   uuid.New(),
		Payload:       raw,
		Status:        domain.EventStatusProcessing,
		CreatedAt:     time.Now().UTC(),
	}
}

func TestHandlePledgeCaptured_SendsToPayer(t *testing.T) {
	dispatcher := new(MockDispatcher)
	svc := NewService(dispatcher, new(MockProjectRepository), testLogger())

	payerID := uuid.New()
	event := eventWithPayload(t, domain.EventTypePledgeCaptured, map[string]any{
		"pledge_id":  uuid.New().String(),
		"project_id": uuid.New().String(),
		"payer_id":   payerID.String(),
		"amount":     "2500",
	})

	dispatcher.On("Send", mock.Anything, payerID, TemplatePledgeCaptured,
		mock.MatchedBy(func(p map[string]string) bool { return p["amount"] == "2500" })).
		Return(nil)

	err := svc.HandlePledgeCaptured(context.Background(), event)
	require.NoError(t, err)
	dispatcher.AssertExpectations(t)
}

func TestHandlePledgeCaptured_MalformedPayload(t *testing.T) {
	dispatcher := new(MockDispatcher)
	svc := NewService(dispatcher, new(MockProjectRepository), testLogger())

	event := &domain.EventLog{
		ID:        uuid.New(),
		EventType: domain.EventTypePledgeCaptured,
		Payload:   []byte("{not json"),
	}

	err := svc.HandlePledgeCaptured(context.Background(), event)
	require.Error(t, err)
	dispatcher.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandlePledgeRefunded_PropagatesDispatcherError(t *testing.T) {
	dispatcher := new(MockDispatcher)
	svc := NewService(dispatcher, new(MockProjectRepository), testLogger())

	payerID := uuid.New()
	event := eventWithPayload(t, domain.EventTypePledgeRefunded, map[string]any{
		"pledge_id":  uuid.New().String(),
		"project_id": uuid.New().String(),
		"payer_id":   payerID.String(),
		"amount":     "100",
		"reason":     "requested_by_payer",
	})

	dispatcher.On("Send", mock.Anything, payerID, TemplatePledgeRefunded, mock.Anything).
		Return(errors.New("smtp down"))

	err := svc.HandlePledgeRefunded(context.Background(), event)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp down")
}

func TestHandleProjectStatusChanged_NotifiesOwner(t *testing.T) {
	dispatcher := new(MockDispatcher)
	projectRepo := new(MockProjectRepository)
	svc := NewService(dispatcher, projectRepo, testLogger())

	ownerID := uuid.New()
	projectID := uuid.New()
	projectRepo.On("GetByID", mock.Anything, projectID).Return(&domain.FundingProject{
		ID:      projectID,
		OwnerID: ownerID,
		Title:   "Community Garden",
		Status:  domain.ProjectStatusSucceeded,
	}, nil)

	event := eventWithPayload(t, domain.EventTypeProjectStatusChanged, map[string]any{
		"project_id": projectID.String(),
		"from":       string(domain.ProjectStatusCollecting),
		"to":         string(domain.ProjectStatusSucceeded),
	})

	dispatcher.On("Send", mock.Anything, ownerID, TemplateProjectStatusChanged,
		mock.MatchedBy(func(p map[string]string) bool {
			return p["title"] == "Community Garden" && p["to"] == string(domain.ProjectStatusSucceeded)
		})).
		Return(nil)

	err := svc.HandleProjectStatusChanged(context.Background(), event)
	require.NoError(t, err)
	dispatcher.AssertExpectations(t)
	projectRepo.AssertExpectations(t)
}

func TestHandleProjectStatusChanged_ProjectLookupFails(t *testing.T) {
	dispatcher := new(MockDispatcher)
	projectRepo := new(MockProjectRepository)
	svc := NewService(dispatcher, projectRepo, testLogger())

	projectID := uuid.New()
	projectRepo.On("GetByID", mock.Anything, projectID).Return(nil, domain.ErrNotFound)

	event := eventWithPayload(t, domain.EventTypeProjectStatusChanged, map[string]any{
		"project_id": projectID.String(),
		"from":       string(domain.ProjectStatusDraft),
		"to":         string(domain.ProjectStatusCollecting),
	})

	err := svc.HandleProjectStatusChanged(context.Background(), event)
	require.Error(t, err)
	dispatcher.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
