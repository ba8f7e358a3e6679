package utils

import (
	"github.com/sirupsen/logrus"
)

// Logger is the minimal logging surface the recipes need. Any leveled,
// printf-style logger can satisfy it.
type Logger interface {
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
}

var _ Logger = (*logrus.Logger)(nil)
var _ Logger = (*logrus.Entry)(nil)

// DefaultLogger returns a logrus entry tagged with the component name.
func DefaultLogger(component string) Logger {
	return logrus.WithField("component", component)
}
