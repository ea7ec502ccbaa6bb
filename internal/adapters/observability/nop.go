package observability

import (
	"log/slog"

	"github.com/industry40tv/opc-ua-pub-sub/internal/ports"
)

// LogObs logs through slog and discards metrics. It is used when no
// Prometheus registry is configured.
type LogObs struct {
	logger *slog.Logger
}

func NewLogObs(logger *slog.Logger) *LogObs {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObs{logger: logger}
}

func (l *LogObs) LogInfo(msg string, fields ...ports.Field) { l.logger.Info(msg, attrs(fields)...) }

func (l *LogObs) LogWarn(msg string, err error, fields ...ports.Field) {
	l.logger.Warn(msg, append(attrs(fields), slog.Any("err", err))...)
}

func (l *LogObs) LogError(msg string, err error, fields ...ports.Field) {
	if err != nil {
		l.logger.Error(msg, append(attrs(fields), slog.Any("err", err))...)
	}
}

func (l *LogObs) LogCritical(msg string, err error, fields ...ports.Field) {
	if err != nil {
		l.logger.Error(msg, append(attrs(fields), slog.Any("err", err), slog.Bool("critical", true))...)
	}
}

func (l *LogObs) IncCounter(string, float64, ...string)     {}
func (l *LogObs) ObserveLatency(string, float64, ...string) {}
func (l *LogObs) SetGauge(string, float64, ...string)       {}

var _ ports.Observability = (*LogObs)(nil)
