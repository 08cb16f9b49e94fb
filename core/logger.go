package core

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// LogLevel orders log severities.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

// ParseLogLevel maps a level name to a LogLevel, defaulting to info.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return LogLevelDebug
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// ProductionLogger writes structured logs as JSON (production) or text
// (development). Child loggers created with WithComponent share the parent's
// output and mutex.
type ProductionLogger struct {
	level          LogLevel
	serviceName    string
	component      string
	format         string
	pretty         bool
	timeFormat     string
	output         io.Writer
	metricsEnabled bool
	mu             *sync.Mutex
}

// NewProductionLogger creates a logger from the logging and development
// configuration. Debug logging in development mode overrides the level.
func NewProductionLogger(logging LoggingConfig, dev DevelopmentConfig, serviceName string) Logger {
	level := ParseLogLevel(logging.Level)
	if dev.DebugLogging {
		level = LogLevelDebug
	}

	format := logging.Format
	if format == "" {
		format = "json"
	}

	var output io.Writer = os.Stdout
	if strings.EqualFold(logging.Output, "stderr") {
		output = os.Stderr
	}

	timeFormat := logging.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339Nano
	}

	return &ProductionLogger{
		level:       level,
		serviceName: serviceName,
		component:   "framework/core",
		format:      format,
		pretty:      dev.PrettyLogs,
		timeFormat:  timeFormat,
		output:      output,
		mu:          &sync.Mutex{},
	}
}

// WithComponent returns a child logger that tags every entry with component.
func (p *ProductionLogger) WithComponent(component string) Logger {
	child := *p
	child.component = component
	return &child
}

func (p *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	p.log(LogLevelInfo, msg, fields)
}

func (p *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	p.log(LogLevelWarn, msg, fields)
}

func (p *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	p.log(LogLevelError, msg, fields)
}

func (p *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	p.log(LogLevelDebug, msg, fields)
}

func (p *ProductionLogger) log(level LogLevel, msg string, fields map[string]interface{}) {
	if level < p.level {
		return
	}
	if p.mu != nil {
		p.mu.Lock()
		defer p.mu.Unlock()
	}

	timeFormat := p.timeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339Nano
	}
	timestamp := time.Now().UTC().Format(timeFormat)

	if p.format == "json" {
		p.logJSON(timestamp, level, msg, fields)
		return
	}
	p.logText(timestamp, level, msg, fields)
}

func (p *ProductionLogger) logJSON(timestamp string, level LogLevel, msg string, fields map[string]interface{}) {
	entry := map[string]interface{}{
		"timestamp": timestamp,
		"level":     level.String(),
		"service":   p.serviceName,
		"component": p.component,
		"message":   msg,
	}
	for k, v := range fields {
		switch k {
		case "timestamp", "level", "service", "component", "message":
			continue
		}
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		entry[k] = v
	}

	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(p.output, `{"level":"ERROR","message":"failed to encode log entry","error":%q}`+"\n", err.Error())
		return
	}
	fmt.Fprintln(p.output, string(data))
}

func (p *ProductionLogger) logText(timestamp string, level LogLevel, msg string, fields map[string]interface{}) {
	var b strings.Builder
	b.WriteString(timestamp)
	b.WriteString(" [")
	b.WriteString(p.levelLabel(level))
	b.WriteString("] [")
	b.WriteString(p.serviceName)
	b.WriteString("] ")
	b.WriteString(msg)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}

	fmt.Fprintln(p.output, b.String())
}

func (p *ProductionLogger) levelLabel(level LogLevel) string {
	label := level.String()
	if !p.pretty {
		return label
	}
	switch level {
	case LogLevelDebug:
		return color.MagentaString(label)
	case LogLevelInfo:
		return color.CyanString(label)
	case LogLevelWarn:
		return color.YellowString(label)
	default:
		return color.New(color.FgRed, color.Bold).Sprint(label)
	}
}
