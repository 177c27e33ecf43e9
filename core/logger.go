package core

// Logger is any service that can report messages and errors.
// expected args: error, map[string]interface{}, identity.Identity (set as the reported person)
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}
