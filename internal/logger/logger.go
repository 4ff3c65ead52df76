// Package logger provides component-tagged structured logging for the
// preparation pipeline.
package logger

// Fields carries structured key/value context for one event.
type Fields map[string]interface{}

// Logger is the logging surface used by the pipeline and the CLI. The
// component names the stage that emits the event, e.g. "threshold".
type Logger interface {
	Debug(component, message string, fields Fields)
	Info(component, message string, fields Fields)
	Warning(component, message string, fields Fields)
	Error(component string, err error, fields Fields)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Debug(string, string, Fields)   {}
func (Nop) Info(string, string, Fields)    {}
func (Nop) Warning(string, string, Fields) {}
func (Nop) Error(string, error, Fields)    {}
