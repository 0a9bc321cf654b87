package gc

import (
	"io"

	"github.com/sirupsen/logrus"
)

// logrusNop returns a logger that discards all output, for tests that only
// care about return values and side effects.
func logrusNop() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
