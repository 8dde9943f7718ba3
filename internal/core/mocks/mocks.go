package mocks

import (
	"context"
	"sync"

	"github.com/lorrc/issue-tracker-backend/internal/core/domain"
	"github.com/lorrc/issue-tracker-backend/internal/core/ports"
	"github.com/stretchr/testify/mock"
)

// MockMembershipRepository is a mock implementation of ports.MembershipRepository
type MockMembershipRepository struct {
	mock.Mock
}

func NewMockMembershipRepository() *MockMembershipRepository {
	return &MockMembershipRepository{}
}

func (m *MockMembershipRepository) IsMember(ctx context.Context, projectID, userID int64) (bool, error) {
	args := m.Called(ctx, projectID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockMembershipRepository) GetBugProjectID(ctx context.Context, bugID int64) (int64, error) {
	args := m.Called(ctx, bugID)
	return args.Get(0).(int64), args.Error(1)
}

// MockMembershipOracle is a mock implementation of ports.MembershipOracle
type MockMembershipOracle struct {
	mock.Mock
}

func NewMockMembershipOracle() *MockMembershipOracle {
	return &MockMembershipOracle{}
}

func (m *MockMembershipOracle) IsMember(ctx context.Context, projectID, userID int64) (bool, error) {
	args := m.Called(ctx, projectID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockMembershipOracle) RequireMember(ctx context.Context, projectID, userID int64) error {
	args := m.Called(ctx, projectID, userID)
	return args.Error(0)
}

func (m *MockMembershipOracle) RequireBugAccess(ctx context.Context, bugID, userID int64) (int64, error) {
	args := m.Called(ctx, bugID, userID)
	return args.Get(0).(int64), args.Error(1)
}

// MockUserDirectory is a mock implementation of ports.UserDirectory
type MockUserDirectory struct {
	mock.Mock
}

func NewMockUserDirectory() *MockUserDirectory {
	return &MockUserDirectory{}
}

func (m *MockUserDirectory) GetDisplayNames(ctx context.Context, userIDs []int64) (map[int64]domain.UserName, error) {
	args := m.Called(ctx, userIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[int64]domain.UserName), args.Error(1)
}

// MockNotifier is a mock implementation of ports.Notifier
type MockNotifier struct {
	mock.Mock
}

func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

func (m *MockNotifier) Notify(ctx context.Context, params ports.NotificationParams) {
	m.Called(ctx, params)
}

// MockAccessRevoker is a mock implementation of ports.AccessRevoker
type MockAccessRevoker struct {
	mock.Mock
}

func NewMockAccessRevoker() *MockAccessRevoker {
	return &MockAccessRevoker{}
}

func (m *MockAccessRevoker) RevokeProjectAccess(projectID, userID int64) {
	m.Called(projectID, userID)
}

// RecordingBroadcaster is a ports.EventBroadcaster that keeps every event.
type RecordingBroadcaster struct {
	mu     sync.Mutex
	events []domain.Event
}

func NewRecordingBroadcaster() *RecordingBroadcaster {
	return &RecordingBroadcaster{}
}

func (b *RecordingBroadcaster) Broadcast(event domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

// Events returns a copy of the recorded events in broadcast order.
func (b *RecordingBroadcaster) Events() []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Event(nil), b.events...)
}

// OfType returns the recorded events with the given type.
func (b *RecordingBroadcaster) OfType(eventType domain.EventType) []domain.Event {
	var out []domain.Event
	for _, e := range b.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Reset drops all recorded events.
func (b *RecordingBroadcaster) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}

// Delivery is one frame handed to a RecordingSink.
type Delivery struct {
	Audience ports.Audience
	Frame    []byte
}

// RecordingSink is a ports.Sink that keeps every delivery.
type RecordingSink struct {
	mu         sync.Mutex
	deliveries []Delivery
}

func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

func (s *RecordingSink) Deliver(audience ports.Audience, frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries = append(s.deliveries, Delivery{Audience: audience, Frame: frame})
}

// Deliveries returns a copy of the recorded deliveries.
func (s *RecordingSink) Deliveries() []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Delivery(nil), s.deliveries...)
}
