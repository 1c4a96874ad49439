package logging

// NopLogger is a no-op implementation of the logging interface.
type NopLogger struct{}

// NewNopLogger creates a new no-op logger.
func NewNopLogger() Interface {
	return &NopLogger{}
}

func (n *NopLogger) WithField(key string, value interface{}) Interface { return n }
func (n *NopLogger) WithError(err error) Interface                     { return n }

func (n *NopLogger) Debug(msg string) {}
func (n *NopLogger) Info(msg string)  {}
func (n *NopLogger) Warn(msg string)  {}
func (n *NopLogger) Error(msg string) {}
func (n *NopLogger) Fatal(msg string) {}

func (n *NopLogger) Debugf(format string, args ...interface{}) {}
func (n *NopLogger) Infof(format string, args ...interface{})  {}
func (n *NopLogger) Warnf(format string, args ...interface{})  {}
func (n *NopLogger) Errorf(format string, args ...interface{}) {}
func (n *NopLogger) Fatalf(format string, args ...interface{}) {}
