// Package logging constructs the zap.Logger every component receives
// at construction, per the ambient-stack design note: no package-level
// loggers, everything injected.
package logging

import "go.uber.org/zap"

// New builds a production zap logger for normal operation, or a
// development logger (human-readable console encoding) when dev is
// true.
func New(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
