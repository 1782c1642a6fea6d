package projection

import (
	"context"

	"github.com/rs/zerolog"

	"SpotLedger/internal/core"
	"SpotLedger/internal/observability"
)

// HistoryWriter applies history rows.
type HistoryWriter interface {
	Apply(ctx context.Context, row HistoryRow) error
}

// HistoryWorker feeds engine outputs into the market history projection.
// Its input channel is fed without blocking, so the projection may miss
// events under load; it is rebuilt from the event log on restart.
type HistoryWorker struct {
	writer    HistoryWriter
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewHistoryWorker(writer HistoryWriter, inputChan <-chan core.CoreOutput, metrics *observability.Metrics, logger zerolog.Logger) *HistoryWorker {
	return &HistoryWorker{
		writer:    writer,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run applies outputs until inputChan is closed. Failed rows are logged and
// skipped.
func (w *HistoryWorker) Run(ctx context.Context) error {
	for output := range w.inputChan {
		w.Apply(ctx, output)
	}
	return nil
}

// Apply writes one output, logging failures.
func (w *HistoryWorker) Apply(ctx context.Context, output core.CoreOutput) {
	row := NewHistoryRow(output)
	if err := w.writer.Apply(ctx, row); err != nil {
		w.logger.Warn().Err(err).Int64("sequence", row.Sequence).Msg("history projection update failed")
		if w.metrics != nil {
			w.metrics.ProjectionErrors.Inc()
		}
		return
	}
	if w.metrics != nil {
		w.metrics.ProjectionLastSeq.Set(float64(row.Sequence))
	}
}
