package workflow

// Level is the severity of a Notice.
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Notice is a user-facing message about a finished command.
type Notice struct {
	Level     Level  `json:"level"`
	Operation Op     `json:"operation"`
	Message   string `json:"message"`
}

// Notifier receives a Notice after every command completes.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

type nopNotifier struct{}

func (nopNotifier) Notify(Notice) {}
