package session

// Level is the severity of a queued message.
type Level uint8

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelSuccess:
		return "success"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// Message is a flash message queued for display.
type Message struct {
	Level Level
	Text  string
}

// Session is an authenticated browser session.
type Session struct {
	ID        string
	UserID    int64
	Username  string
	CreatedAt int64
	ExpiresAt int64
	Messages  []Message
}
