// Package xlog is the logging facade shared by every engine. It wraps
// logrus the way dsmmcken-dh-cli's internal packages do: callers ask for a
// component-scoped entry instead of reaching for a package-global logger.
package xlog

import "github.com/sirupsen/logrus"

var base = logrus.StandardLogger()

// SetOutput is used by cmd/sakuraedl to route logs per --verbose/--quiet.
func SetOutput(level logrus.Level) {
	base.SetLevel(level)
}

// For returns a logger scoped to component, e.g. "sahara", "firehose".
func For(component string) *logrus.Entry {
	return base.WithField("component", component)
}
