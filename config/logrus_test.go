package config

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/cardinv_backend/appctx"
)

func newBufferedLogger(buf *bytes.Buffer) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetLevel(logrus.ErrorLevel)
	l.SetOutput(buf)
	return l
}

func TestLogErrorIncludesCorrelationId(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferedLogger(&buf)

	const cid = "9f1c2a6e-req-42"
	ctx := appctx.Set(context.Background(), appctx.ContextKeyCorrelationId, cid)

	LogError(ctx, l, "inventory", "OpenCycle", "1412", nil, errors.New("boom"))

	out := buf.String()
	if !strings.Contains(out, `"correlation_id":"`+cid+`"`) {
		t.Fatalf("log entry missing correlation id: %s", out)
	}
	if !strings.Contains(out, `"module":"inventory"`) || !strings.Contains(out, `"funcName":"OpenCycle"`) {
		t.Fatalf("log entry missing module fields: %s", out)
	}
}

func TestLogErrorWithoutCorrelationId(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferedLogger(&buf)

	LogError(context.Background(), l, "inventory", "RecordScan", "1412", "A0001", errors.New("boom"))

	out := buf.String()
	if strings.Contains(out, "correlation_id") {
		t.Fatalf("unexpected correlation field without one on ctx: %s", out)
	}
	if !strings.Contains(out, `"data":"A0001"`) {
		t.Fatalf("log entry missing data field: %s", out)
	}
}
