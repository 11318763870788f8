package logger

import (
	"go.uber.org/zap"
)

// New builds the production logger. Components derive their own loggers
// with Named so every entry carries its component.
func New() *zap.Logger {
	l, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	return l
}
