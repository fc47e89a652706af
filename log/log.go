package log

import (
	log "github.com/sirupsen/logrus"
)

func Debug(format string, args ...any) {
	log.Debugf(format, args...)
}

func Info(format string, args ...any) {
	log.Infof(format, args...)
}

func Warn(format string, args ...any) {
	log.Warnf(format, args...)
}

func Error(format string, args ...any) {
	log.Errorf(format, args...)
}

func Fatal(format string, args ...any) {
	log.Fatalf(format, args...)
}

// Tenant returns an entry bound to a tenant id for call sites that emit
// several lines about the same tenant.
func Tenant(id string) *log.Entry {
	return log.WithField("tenant", id)
}
