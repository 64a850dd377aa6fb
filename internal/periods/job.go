package periods

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
)

// OpenEditableJob handles the monthly task that creates the period whose edit
// window has just opened.
func OpenEditableJob(service *Service, logger *slog.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, _ *asynq.Task) error {
		p, ok, err := service.OpenEditable(ctx)
		if err != nil {
			return err
		}
		if !ok {
			logger.Info("no edit window open")
			return nil
		}
		logger.Info("editable period ready", slog.String("period", p.Code.String()), slog.String("status", string(p.Status)))
		return nil
	}
}
