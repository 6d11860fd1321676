// Package protocol defines the commands exchanged between chat clients and the
// relay server and their framing on the wire.
package protocol

import "chatrelay/models"

// Tag discriminates a command.
type Tag string

// Client to server.
const (
	TagLoginRequest         Tag = "LOGIN_REQUEST"
	TagRegistrationRequest  Tag = "REGISTRATION_REQUEST"
	TagChatRequest          Tag = "CHAT_REQUEST"
	TagSendMessageRequest   Tag = "SEND_MESSAGE_REQUEST"
	TagAddToContactsRequest Tag = "ADD_TO_CONTACTS_REQUEST"
	TagLogoutRequest        Tag = "LOGOUT_REQUEST"
	TagCloseChatViewRequest Tag = "CLOSE_CHAT_VIEW_REQUEST"
)

// Server to client.
const (
	TagLoginSuccessful          Tag = "LOGIN_SUCCESSFUL"
	TagLoginUnsuccessful        Tag = "LOGIN_UNSUCCESSFUL"
	TagRegistrationSuccessful   Tag = "REGISTRATION_SUCCESSFUL"
	TagRegistrationUnsuccessful Tag = "REGISTRATION_UNSUCCESSFUL"
	TagConnectedUser            Tag = "CONNECTED_USER"
	TagStartChatting            Tag = "START_CHATTING"
	TagShowMessage              Tag = "SHOW_MESSAGE"
	TagShowContacts             Tag = "SHOW_CONTACTS"
	TagRemoveActiveUser         Tag = "REMOVE_ACTIVE_USER"
	TagShowStoredMessages       Tag = "SHOW_STORED_MESSAGES"
	TagCloseChatView            Tag = "CLOSE_CHAT_VIEW"
)

// Command is one of the concrete command types below. The set is closed:
// isCommand is unexported so no other package can add members.
type Command interface {
	Tag() Tag
	isCommand()
}

type LoginRequest struct {
	Credential models.Credential `json:"credential"`
}

type RegistrationRequest struct {
	Registration models.Registration `json:"profile"`
}

type ChatRequest struct {
	Members []string `json:"memberList"`
}

type SendMessageRequest struct {
	Message models.Message `json:"message"`
}

type AddToContactsRequest struct {
	Owner   string `json:"ownerUsername"`
	Contact string `json:"contactUsername"`
}

type LogoutRequest struct {
	Username string `json:"username"`
}

type CloseChatViewRequest struct {
	Members []string `json:"memberList"`
}

type LoginSuccessful struct {
	Profile models.Profile `json:"profile"`
}

type LoginUnsuccessful struct {
	Reason string `json:"reason"`
}

type RegistrationSuccessful struct {
	Profile models.Profile `json:"profile"`
}

type RegistrationUnsuccessful struct {
	Profile models.Profile `json:"profile"`
}

type ConnectedUser struct {
	Usernames []string `json:"usernameList"`
}

type StartChatting struct {
	Members []string `json:"memberList"`
}

type ShowMessage struct {
	Message models.Message `json:"message"`
}

type ShowContacts struct {
	Username string   `json:"username"`
	Contacts []string `json:"contactList"`
}

type RemoveActiveUser struct {
	Username string `json:"username"`
}

type ShowStoredMessages struct {
	Messages []models.Message `json:"messageList"`
}

type CloseChatView struct {
	Members []string `json:"memberList"`
}

func (LoginRequest) Tag() Tag             { return TagLoginRequest }
func (RegistrationRequest) Tag() Tag      { return TagRegistrationRequest }
func (ChatRequest) Tag() Tag              { return TagChatRequest }
func (SendMessageRequest) Tag() Tag       { return TagSendMessageRequest }
func (AddToContactsRequest) Tag() Tag     { return TagAddToContactsRequest }
func (LogoutRequest) Tag() Tag            { return TagLogoutRequest }
func (CloseChatViewRequest) Tag() Tag     { return TagCloseChatViewRequest }
func (LoginSuccessful) Tag() Tag          { return TagLoginSuccessful }
func (LoginUnsuccessful) Tag() Tag        { return TagLoginUnsuccessful }
func (RegistrationSuccessful) Tag() Tag   { return TagRegistrationSuccessful }
func (RegistrationUnsuccessful) Tag() Tag { return TagRegistrationUnsuccessful }
func (ConnectedUser) Tag() Tag            { return TagConnectedUser }
func (StartChatting) Tag() Tag            { return TagStartChatting }
func (ShowMessage) Tag() Tag              { return TagShowMessage }
func (ShowContacts) Tag() Tag             { return TagShowContacts }
func (RemoveActiveUser) Tag() Tag         { return TagRemoveActiveUser }
func (ShowStoredMessages) Tag() Tag       { return TagShowStoredMessages }
func (CloseChatView) Tag() Tag            { return TagCloseChatView }

func (LoginRequest) isCommand()             {}
func (RegistrationRequest) isCommand()      {}
func (ChatRequest) isCommand()              {}
func (SendMessageRequest) isCommand()       {}
func (AddToContactsRequest) isCommand()     {}
func (LogoutRequest) isCommand()            {}
func (CloseChatViewRequest) isCommand()     {}
func (LoginSuccessful) isCommand()          {}
func (LoginUnsuccessful) isCommand()        {}
func (RegistrationSuccessful) isCommand()   {}
func (RegistrationUnsuccessful) isCommand() {}
func (ConnectedUser) isCommand()            {}
func (StartChatting) isCommand()            {}
func (ShowMessage) isCommand()              {}
func (ShowContacts) isCommand()             {}
func (RemoveActiveUser) isCommand()         {}
func (ShowStoredMessages) isCommand()       {}
func (CloseChatView) isCommand()            {}

var decoders = map[Tag]func(payload []byte) (Command, error){
	TagLoginRequest:             decodeAs[LoginRequest],
	TagRegistrationRequest:      decodeAs[RegistrationRequest],
	TagChatRequest:              decodeAs[ChatRequest],
	TagSendMessageRequest:       decodeAs[SendMessageRequest],
	TagAddToContactsRequest:     decodeAs[AddToContactsRequest],
	TagLogoutRequest:            decodeAs[LogoutRequest],
	TagCloseChatViewRequest:     decodeAs[CloseChatViewRequest],
	TagLoginSuccessful:          decodeAs[LoginSuccessful],
	TagLoginUnsuccessful:        decodeAs[LoginUnsuccessful],
	TagRegistrationSuccessful:   decodeAs[RegistrationSuccessful],
	TagRegistrationUnsuccessful: decodeAs[RegistrationUnsuccessful],
	TagConnectedUser:            decodeAs[ConnectedUser],
	TagStartChatting:            decodeAs[StartChatting],
	TagShowMessage:              decodeAs[ShowMessage],
	TagShowContacts:             decodeAs[ShowContacts],
	TagRemoveActiveUser:         decodeAs[RemoveActiveUser],
	TagShowStoredMessages:       decodeAs[ShowStoredMessages],
	TagCloseChatView:            decodeAs[CloseChatView],
}
