package expiry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"misp-controlplane/pkg/config"
	"misp-controlplane/pkg/rediskey"
	"misp-controlplane/pkg/task"
	"misp-controlplane/pkg/taskname"
	"misp-controlplane/services/misp"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBatchSize = 500
	enqueueWorkers   = 8
)

// KeyStore is the slice of the license engine the notifier depends on.
type KeyStore interface {
	FindExpiringKeys(ctx context.Context, within time.Duration, limit int) ([]*misp.LicenseKey, error)
	MarkExpiryNotified(ctx context.Context, licenseKey string) error
}

// Payload is the body of a license:expiring task. The key itself is not sent,
// only a hint for operators.
type Payload struct {
	MispID    string    `json:"misp_id"`
	KeyHint   string    `json:"key_hint"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Service struct {
	store     KeyStore
	asynq     task.Enqueuer
	window    time.Duration
	batchSize int
}

type Params struct {
	fx.In
	Store    KeyStore
	Enqueuer task.Enqueuer
	Config   *config.Config
}

func NewService(p Params) *Service {
	return &Service{
		store:     p.Store,
		asynq:     p.Enqueuer,
		window:    p.Config.License.ExpiryWarningWindow,
		batchSize: defaultBatchSize,
	}
}

// EnqueueExpiringKeys enqueues one warning task per active key inside the
// warning window and stamps each key so it is only warned about once. Key
// status is never changed here. Pages of batchSize are drained until a short
// page comes back; a page with failed enqueues ends the scan since those keys
// would be returned again.
func (s *Service) EnqueueExpiringKeys(ctx context.Context) (int, error) {
	window := s.window
	if live := config.Current(); live != nil && live.License.ExpiryWarningWindow > 0 {
		window = live.License.ExpiryWarningWindow
	}

	total := 0
	for page := 1; ; page++ {
		keys, err := s.store.FindExpiringKeys(ctx, window, s.batchSize)
		if err != nil {
			return total, err
		}
		if len(keys) == 0 {
			return total, nil
		}

		zap.L().Info("[Expiry] found license keys approaching expiry",
			zap.Int("count", len(keys)),
			zap.Int("page", page),
		)

		n, err := s.enqueueBatch(ctx, keys)
		total += n
		if err != nil {
			return total, err
		}
		if len(keys) < s.batchSize {
			return total, nil
		}
	}
}

// enqueueBatch notifies every key in the batch. A failed key does not stop the
// others; failures are joined into the returned error.
func (s *Service) enqueueBatch(ctx context.Context, keys []*misp.LicenseKey) (int, error) {
	var (
		enqueued atomic.Int64
		mu       sync.Mutex
		errs     []error
	)

	var g errgroup.Group
	g.SetLimit(enqueueWorkers)
	for _, key := range keys {
		g.Go(func() error {
			if err := s.notify(ctx, key); err != nil {
				zap.L().Error("[Expiry] failed to enqueue expiry warning",
					zap.String("misp_id", key.MispID),
					zap.Error(err),
				)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}
			enqueued.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	return int(enqueued.Load()), errors.Join(errs...)
}

func (s *Service) notify(ctx context.Context, key *misp.LicenseKey) error {
	payload, err := json.Marshal(Payload{
		MispID:    key.MispID,
		KeyHint:   hint(key.Key),
		ExpiresAt: key.ExpiresAt,
	})
	if err != nil {
		return err
	}

	_, err = s.asynq.Enqueue(ctx, asynq.NewTask(taskname.LicenseExpiring, payload),
		asynq.TaskID(rediskey.BuildExpiryNoticeKey(key.Key)),
		asynq.Queue(task.QueueLow),
		asynq.MaxRetry(3),
	)
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return err
	}

	return s.store.MarkExpiryNotified(ctx, key.Key)
}

func hint(key string) string {
	if len(key) <= 4 {
		return key
	}
	return "****" + key[len(key)-4:]
}
