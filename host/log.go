package host

import "github.com/sirupsen/logrus"

// newDefaultLogger mirrors the teacher's JSON-structured logrus setup:
// info level by default, JSON formatting so lifecycle/poller events are
// machine-parseable when the Host runs headless.
func newDefaultLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetLevel(logrus.InfoLevel)
	return log
}
