package config

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/cardinv_backend/appctx"
)

var (
	logg *logrus.Logger
)

func GetLogger() *logrus.Logger {
	return logg
}

func init() {
	logg = logrus.New()
	logg.SetFormatter(&logrus.JSONFormatter{})
	logg.SetLevel(logrus.ErrorLevel)
	logg.SetOutput(os.Stdout)
}

// LogError emits one structured error entry. The correlation id, when
// present on ctx, is attached so log lines can be matched to the
// request that produced them.
func LogError(ctx context.Context, logger *logrus.Logger, moduleName string, funcName string, contextName string, data any, err error) {
	fields := logrus.Fields{
		"module":   moduleName,
		"funcName": funcName,
		"context":  contextName,
	}
	if data != nil {
		fields["data"] = data
	}
	if cid, ok := appctx.GetString(ctx, appctx.ContextKeyCorrelationId); ok && cid != "" {
		fields["correlation_id"] = cid
	}
	logger.WithFields(fields).Error(err.Error())
}
