package sentry

import (
	"time"

	sentry "github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Init configures the global hub. An empty dsn leaves reporting disabled.
func Init(dsn string, release string) error {
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Release:          release,
		TracesSampleRate: 1.0,
	}); err != nil {
		return err
	}
	if dsn == "" {
		log.Debug("sentry disabled, SENTRY_DSN is empty")
	}
	return nil
}

func Flush(timeout time.Duration) {
	if sentry.CurrentHub().Client() == nil {
		return
	}
	if !sentry.Flush(timeout) {
		log.Warn("sentry flush timed out")
	}
}

func GetSentryGin() gin.HandlerFunc {
	return sentrygin.New(sentrygin.Options{Repanic: true})
}

func ReportError(err error) {
	sentry.CaptureException(err)
}
