package database

import "errors"

// ErrDuplicateEmail is returned by CreateAccount when the email address is
// already registered.
var ErrDuplicateEmail = errors.New("email address already in use")

type TchatRepository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (Account, error)
	GetAccountById(id string) (Account, error)
	GetAccountByEmail(email string) (Account, error)
	DeleteAccount(id string) error
	GetProfile(id string) (Profile, error)
	UpdateProfile(params UpdateProfileParams) (Profile, error)
	ListProfiles(excludeId string) ([]Profile, error)
	CreateGroup(params CreateGroupParams) (Group, error)
	GetGroup(id string) (Group, error)
	ListGroupsForUser(userId string) ([]Group, error)
	DeleteGroup(id string) error
	AddGroupMember(groupId, userId string) error
	RemoveGroupMember(groupId, userId string) error
	IsGroupMember(groupId, userId string) (bool, error)
	CountGroupMembers(groupId string) (int, error)
	ListGroupMembers(groupId string) ([]Profile, error)
	ListGroupNonMembers(groupId string) ([]Profile, error)
	CreateMessage(msg Message) (Message, error)
	GetMessages(roomKey string, after, before int64, limit int) ([]Message, error)
}
