package models

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"
)

// SendTimeLayout is the display format of Message.SendTime.
const SendTimeLayout = "2006-01-02 15:04"

var (
	ErrNoSender     = errors.New("message has no sender")
	ErrNoRecipients = errors.New("message has no recipients")
	ErrEmptyMessage = errors.New("message has neither text nor image")
)

// Profile is the public part of a user record.
type Profile struct {
	Username  string `json:"username"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Avatar    []byte `json:"avatar,omitempty"`
}

// Registration is what a client submits to create an account.
type Registration struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Avatar    []byte `json:"avatar,omitempty"`
}

// Profile drops the password.
func (r Registration) Profile() Profile {
	return Profile{
		Username:  r.Username,
		FirstName: r.FirstName,
		LastName:  r.LastName,
		Avatar:    r.Avatar,
	}
}

type Credential struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// MessageParams holds the fields accepted by NewMessage.
type MessageParams struct {
	Text       string
	Image      []byte
	ImagePath  string
	SentBy     string
	Recipients []string
	SendTime   string
}

// Message is an immutable chat message. The zero value is not a valid message;
// build one with NewMessage.
type Message struct {
	text       string
	image      []byte
	imagePath  string
	sentBy     string
	recipients []string
	sendTime   string
}

// NewMessage validates p and returns a message that owns copies of its slices.
// An empty SendTime is stamped with the current local time.
func NewMessage(p MessageParams) (Message, error) {
	if p.SentBy == "" {
		return Message{}, ErrNoSender
	}
	if len(p.Recipients) == 0 {
		return Message{}, ErrNoRecipients
	}
	for _, r := range p.Recipients {
		if r == "" {
			return Message{}, ErrNoRecipients
		}
	}
	if p.Text == "" && len(p.Image) == 0 {
		return Message{}, ErrEmptyMessage
	}

	sendTime := p.SendTime
	if sendTime == "" {
		sendTime = time.Now().Format(SendTimeLayout)
	}

	return Message{
		text:       p.Text,
		image:      cloneBytes(p.Image),
		imagePath:  p.ImagePath,
		sentBy:     p.SentBy,
		recipients: append([]string(nil), p.Recipients...),
		sendTime:   sendTime,
	}, nil
}

func (m Message) Text() string      { return m.text }
func (m Message) ImagePath() string { return m.imagePath }
func (m Message) SentBy() string    { return m.sentBy }
func (m Message) SendTime() string  { return m.sendTime }
func (m Message) HasImage() bool    { return len(m.image) > 0 }

func (m Message) Image() []byte { return cloneBytes(m.image) }

func (m Message) Recipients() []string {
	return append([]string(nil), m.recipients...)
}

// Params returns the fields of m, e.g. to derive a stamped copy.
func (m Message) Params() MessageParams {
	return MessageParams{
		Text:       m.text,
		Image:      m.Image(),
		ImagePath:  m.imagePath,
		SentBy:     m.sentBy,
		Recipients: m.Recipients(),
		SendTime:   m.sendTime,
	}
}

type messageJSON struct {
	Text       string   `json:"text,omitempty"`
	Image      []byte   `json:"image,omitempty"`
	ImagePath  string   `json:"imagePath,omitempty"`
	SentBy     string   `json:"sentBy"`
	Recipients []string `json:"recipients"`
	SendTime   string   `json:"sendTime"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(messageJSON{
		Text:       m.text,
		Image:      m.image,
		ImagePath:  m.imagePath,
		SentBy:     m.sentBy,
		Recipients: m.recipients,
		SendTime:   m.sendTime,
	})
}

// UnmarshalJSON runs the decoded fields through NewMessage, so a decoded
// message is always valid.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw messageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	msg, err := NewMessage(MessageParams{
		Text:       raw.Text,
		Image:      raw.Image,
		ImagePath:  raw.ImagePath,
		SentBy:     raw.SentBy,
		Recipients: raw.Recipients,
		SendTime:   raw.SendTime,
	})
	if err != nil {
		return err
	}
	*m = msg
	return nil
}

// GroupKey returns the identity of a chat group. Member order and duplicates
// do not matter: [alice bob] and [bob alice alice] share a key.
func GroupKey(members []string) string {
	set := make(map[string]struct{}, len(members))
	uniq := make([]string, 0, len(members))
	for _, m := range members {
		if _, ok := set[m]; ok {
			continue
		}
		set[m] = struct{}{}
		uniq = append(uniq, m)
	}
	sort.Strings(uniq)
	return strings.Join(uniq, "\x00")
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}
