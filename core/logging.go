package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// ProductionLogger is the default Logger implementation: JSON lines or
// human-readable text, chosen by the format argument (NewConfig passes
// Config.Logging.Format, which XRAYFLOW_LOG_FORMAT overrides).
type ProductionLogger struct {
	level       string
	debug       bool
	serviceName string
	component   string
	format      string
	output      io.Writer
}

// NewProductionLogger builds a logger for serviceName using format ("json"
// or "text") and level ("debug", "info", "warn", "error").
func NewProductionLogger(serviceName, level, format string) Logger {
	return &ProductionLogger{
		level:       strings.ToLower(level),
		debug:       strings.ToLower(level) == "debug",
		serviceName: serviceName,
		component:   "engine",
		format:      format,
		output:      os.Stdout,
	}
}

// WithComponent returns a logger tagging every line with component, so logs
// from the executor, safety monitor, and journal can be told apart.
func (p *ProductionLogger) WithComponent(component string) Logger {
	clone := *p
	clone.component = component
	return &clone
}

func (p *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields, nil)
}

func (p *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields, ctx)
}

func (p *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields, nil)
}

func (p *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields, ctx)
}

func (p *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields, nil)
}

func (p *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields, ctx)
}

func (p *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields, nil)
	}
}

func (p *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields, ctx)
	}
}

func (p *ProductionLogger) logEvent(level, msg string, fields map[string]interface{}, ctx context.Context) {
	if p.format == "json" {
		entry := map[string]interface{}{
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
			"level":     level,
			"service":   p.serviceName,
			"component": p.component,
			"message":   msg,
		}
		for k, v := range fields {
			entry[k] = v
		}
		if data, err := json.Marshal(entry); err == nil {
			fmt.Fprintln(p.output, string(data))
		}
		return
	}

	var fieldStr strings.Builder
	for k, v := range fields {
		fieldStr.WriteString(fmt.Sprintf(" %s=%v", k, v))
	}
	fmt.Fprintf(p.output, "%s [%s] [%s/%s] %s%s\n",
		time.Now().UTC().Format(time.RFC3339), level, p.serviceName, p.component, msg, fieldStr.String())
}
