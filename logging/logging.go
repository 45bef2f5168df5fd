// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"time"

	nested "github.com/antonfisher/nested-logrus-formatter"
	log "github.com/sirupsen/logrus"
)

// FieldsOrder keeps the common fields at the front of every line.
var FieldsOrder = []string{"module", "guild_id", "command", "user_id"}

func NewFormatter() *nested.Formatter {
	return &nested.Formatter{
		FieldsOrder:     FieldsOrder,
		TimestampFormat: time.RFC3339,
		HideKeys:        false,
		ShowFullLevel:   true,
	}
}

// Setup installs the nested formatter and parses level into the standard logger.
func Setup(level string) error {
	log.SetFormatter(NewFormatter())

	parsed, err := log.ParseLevel(level)
	if err != nil {
		log.SetLevel(log.InfoLevel)
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log.SetLevel(parsed)
	return nil
}
