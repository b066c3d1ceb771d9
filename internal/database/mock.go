package database

import (
	"github.com/stretchr/testify/mock"
)

type MockTchatRepository struct {
	mock.Mock
}

func (m *MockTchatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockTchatRepository) CreateAccount(params CreateAccountParams) (Account, error) {
	args := m.Called(params)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockTchatRepository) GetAccountById(id string) (Account, error) {
	args := m.Called(id)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockTchatRepository) GetAccountByEmail(email string) (Account, error) {
	args := m.Called(email)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockTchatRepository) DeleteAccount(id string) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockTchatRepository) GetProfile(id string) (Profile, error) {
	args := m.Called(id)
	return args.Get(0).(Profile), args.Error(1)
}
func (m *MockTchatRepository) UpdateProfile(params UpdateProfileParams) (Profile, error) {
	args := m.Called(params)
	return args.Get(0).(Profile), args.Error(1)
}
func (m *MockTchatRepository) ListProfiles(excludeId string) ([]Profile, error) {
	args := m.Called(excludeId)
	return args.Get(0).([]Profile), args.Error(1)
}
func (m *MockTchatRepository) CreateGroup(params CreateGroupParams) (Group, error) {
	args := m.Called(params)
	return args.Get(0).(Group), args.Error(1)
}
func (m *MockTchatRepository) GetGroup(id string) (Group, error) {
	args := m.Called(id)
	return args.Get(0).(Group), args.Error(1)
}
func (m *MockTchatRepository) ListGroupsForUser(userId string) ([]Group, error) {
	args := m.Called(userId)
	return args.Get(0).([]Group), args.Error(1)
}
func (m *MockTchatRepository) DeleteGroup(id string) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockTchatRepository) AddGroupMember(groupId, userId string) error {
	args := m.Called(groupId, userId)
	return args.Error(0)
}
func (m *MockTchatRepository) RemoveGroupMember(groupId, userId string) error {
	args := m.Called(groupId, userId)
	return args.Error(0)
}
func (m *MockTchatRepository) IsGroupMember(groupId, userId string) (bool, error) {
	args := m.Called(groupId, userId)
	return args.Bool(0), args.Error(1)
}
func (m *MockTchatRepository) CountGroupMembers(groupId string) (int, error) {
	args := m.Called(groupId)
	return args.Int(0), args.Error(1)
}
func (m *MockTchatRepository) ListGroupMembers(groupId string) ([]Profile, error) {
	args := m.Called(groupId)
	return args.Get(0).([]Profile), args.Error(1)
}
func (m *MockTchatRepository) ListGroupNonMembers(groupId string) ([]Profile, error) {
	args := m.Called(groupId)
	return args.Get(0).([]Profile), args.Error(1)
}
func (m *MockTchatRepository) CreateMessage(msg Message) (Message, error) {
	args := m.Called(msg)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockTchatRepository) GetMessages(roomKey string, after, before int64, limit int) ([]Message, error) {
	args := m.Called(roomKey, after, before, limit)
	return args.Get(0).([]Message), args.Error(1)
}
