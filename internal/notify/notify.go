package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/farxc/tramitacao/internal/apperr"
	"github.com/farxc/tramitacao/internal/logger"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Outcome is a user-facing message about an operation on a process.
type Outcome struct {
	Level    Level       `json:"level"`
	Title    string      `json:"title"`
	Message  string      `json:"message"`
	RecordID string      `json:"record_id,omitempty"`
	Protocol string      `json:"protocol,omitempty"`
	Kind     apperr.Kind `json:"kind,omitempty"`
	At       time.Time   `json:"at"`
}

// Sink receives outcomes. Implementations must not block the caller for long
// and never report failures back.
type Sink interface {
	Notify(ctx context.Context, o Outcome)
}

func Success(title, message string) Outcome {
	return Outcome{Level: LevelSuccess, Title: title, Message: message, At: time.Now()}
}

// FromError turns a failed operation into an error outcome carrying the
// error's own title and message.
func FromError(err error) Outcome {
	o := Outcome{Level: LevelError, Title: "Erro", Message: err.Error(), At: time.Now()}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		o.Title = appErr.Title
		o.Message = appErr.Message
		o.Kind = appErr.Kind
	}
	return o
}

type Nop struct{}

func (Nop) Notify(context.Context, Outcome) {}

// LogSink writes outcomes to the application log.
type LogSink struct {
	appLogger *logger.Logger
}

func NewLogSink(appLogger *logger.Logger) *LogSink {
	return &LogSink{appLogger: appLogger}
}

func (s *LogSink) Notify(_ context.Context, o Outcome) {
	const component = "Notify"
	switch o.Level {
	case LevelError:
		s.appLogger.Error(component, "%s: %s protocol=%s kind=%s", o.Title, o.Message, o.Protocol, o.Kind)
	case LevelWarning:
		s.appLogger.Warn(component, "%s: %s protocol=%s", o.Title, o.Message, o.Protocol)
	default:
		s.appLogger.Info(component, "%s: %s protocol=%s", o.Title, o.Message, o.Protocol)
	}
}

// Recorder keeps every outcome in memory.
type Recorder struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (r *Recorder) Notify(_ context.Context, o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *Recorder) Outcomes() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Outcome(nil), r.outcomes...)
}
