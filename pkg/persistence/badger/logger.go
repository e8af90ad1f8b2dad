package badger

import (
	"fmt"
	"strings"

	badgerdb "github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

// badgerLoggerAdapter routes badger's printf-style logging into zap
type badgerLoggerAdapter struct {
	logger *zap.SugaredLogger
}

var _ badgerdb.Logger = (*badgerLoggerAdapter)(nil)

func newBadgerLoggerAdapter(logger *zap.Logger) *badgerLoggerAdapter {
	return &badgerLoggerAdapter{logger: logger.Named("badger").Sugar()}
}

// badger terminates most messages with a newline
func message(format string, args ...interface{}) string {
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}

func (b *badgerLoggerAdapter) Errorf(format string, args ...interface{}) {
	b.logger.Error(message(format, args...))
}

func (b *badgerLoggerAdapter) Warningf(format string, args ...interface{}) {
	b.logger.Warn(message(format, args...))
}

// Infof is demoted to debug: badger reports every compaction and flush at info.
func (b *badgerLoggerAdapter) Infof(format string, args ...interface{}) {
	b.logger.Debug(message(format, args...))
}

func (b *badgerLoggerAdapter) Debugf(format string, args ...interface{}) {
	b.logger.Debug(message(format, args...))
}
