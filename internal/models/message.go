package models

// Message is one stored chat entry. Everything except ID, Room and
// Timestamp is client ciphertext and is returned verbatim.
type Message struct {
	ID        uint64 `json:"id"`
	Room      string `json:"room"`
	User      string `json:"user"`
	UserIV    string `json:"user_iv"`
	Content   string `json:"content"`
	IV        string `json:"iv"`
	Timestamp string `json:"timestamp"` // RFC 3339, UTC
}

// NewMessage is the body accepted when posting to a room.
type NewMessage struct {
	User    string `json:"user"`
	UserIV  string `json:"user_iv"`
	Content string `json:"content"`
	IV      string `json:"iv"`
}
