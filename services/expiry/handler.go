package expiry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"misp-controlplane/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// HandleLicenseExpiring logs the warning for operators.
func HandleLicenseExpiring(ctx context.Context, t *asynq.Task) error {
	var p Payload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		zap.L().Error("invalid license expiry payload", zap.Error(err))
		return fmt.Errorf("decode %s payload: %v: %w", taskname.LicenseExpiring, err, asynq.SkipRetry)
	}
	if p.MispID == "" {
		return fmt.Errorf("%s payload without misp_id: %w", taskname.LicenseExpiring, asynq.SkipRetry)
	}

	remaining := time.Until(p.ExpiresAt).Round(time.Hour)
	zap.L().Warn("license key approaching expiry",
		zap.String("misp_id", p.MispID),
		zap.String("key_hint", p.KeyHint),
		zap.Time("expires_at", p.ExpiresAt),
		zap.Duration("remaining", remaining),
	)
	return nil
}

func registerHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(taskname.LicenseExpiring, HandleLicenseExpiring)
}
