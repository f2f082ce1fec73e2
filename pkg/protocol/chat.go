package protocol

import (
	"strconv"
	"time"
)

// ChatID is the numeric Telegram chat identifier. It addresses both the
// conversation partner and the owner of the tickets created from it.
type ChatID int64

func (c ChatID) String() string { return strconv.FormatInt(int64(c), 10) }

// ParseChatID parses a decimal chat identifier.
func ParseChatID(s string) (ChatID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return ChatID(n), nil
}

// PhotoRef points at an image the user attached during ticket creation.
// URL is a direct download link resolved by the chat transport.
type PhotoRef struct {
	FileID string `json:"file_id"`
	URL    string `json:"url"`
}

// User is an authenticated chat.
type User struct {
	ChatID ChatID `json:"chat_id"`
	Handle string `json:"handle"`
}

// BlockEntry denies all further interaction for a chat until an
// administrator removes it.
type BlockEntry struct {
	ChatID    ChatID    `json:"chat_id"`
	Reason    string    `json:"reason"`
	Handle    string    `json:"handle"`
	CreatedAt time.Time `json:"created_at"`
}
