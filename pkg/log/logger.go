// Package log is the logging facade used by every pirobot component. Loggers
// are injected through constructors; NewNopLogger stands in when none is
// given.
package log

// Logger is implemented on logrus by NewLogrusLogger.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})

	// WithField returns a Logger that appends key=value to every entry.
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
}
