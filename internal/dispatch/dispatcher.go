package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"program-trader/internal/decision"
	"program-trader/internal/state"

	"go.uber.org/zap"
)

// Placer is the external execution layer: it receives a validated decision
// and returns an order reference. Everything behind it (exchange adapters,
// account mutation) lives outside this core.
type Placer interface {
	Submit(ctx context.Context, account string, d decision.Decision) (string, error)
}

// Dispatcher forwards validated decisions to the placer exactly once per
// invocation. The invocation ID is the idempotency key: a crash between
// submit and ack cannot double-place an order after restart.
type Dispatcher struct {
	placer Placer
	store  state.Store
	log    *zap.Logger

	mu    sync.Mutex
	cache map[string]string
}

func New(placer Placer, store state.Store, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		placer: placer,
		store:  store,
		log:    log,
		cache:  make(map[string]string),
	}
}

// Dispatch hands one validated decision to the placer. Hold decisions are
// never forwarded; they resolve the trigger locally.
func (d *Dispatcher) Dispatch(ctx context.Context, account, invocationID string, dec decision.Decision) (string, error) {
	if dec.IsHold() {
		return "", nil
	}
	if invocationID == "" {
		return d.submitWithRetry(ctx, account, dec)
	}
	cacheKey := "dispatch:" + invocationID
	d.mu.Lock()
	if ref, ok := d.cache[cacheKey]; ok {
		d.mu.Unlock()
		return ref, nil
	}
	d.mu.Unlock()
	if d.store != nil {
		if ref, ok, err := d.store.Get(ctx, cacheKey); err != nil {
			return "", err
		} else if ok {
			d.remember(cacheKey, ref)
			return ref, nil
		}
	}
	ref, err := d.submitWithRetry(ctx, account, dec)
	if err != nil {
		return "", err
	}
	if d.store != nil {
		if err := d.store.Set(ctx, cacheKey, ref); err != nil {
			d.log.Warn("failed to persist dispatch ref", zap.Error(err))
		}
	}
	d.remember(cacheKey, ref)
	return ref, nil
}

func (d *Dispatcher) remember(key, ref string) {
	d.mu.Lock()
	d.cache[key] = ref
	d.mu.Unlock()
}

func (d *Dispatcher) submitWithRetry(ctx context.Context, account string, dec decision.Decision) (string, error) {
	var ref string
	err := d.retry(ctx, func() error {
		var err error
		ref, err = d.placer.Submit(ctx, account, dec)
		return err
	})
	if err != nil {
		return "", err
	}
	if ref == "" {
		return "", errors.New("empty order reference")
	}
	return ref, nil
}

func (d *Dispatcher) retry(ctx context.Context, fn func() error) error {
	backoff := 200 * time.Millisecond
	for attempt := 0; attempt < 5; attempt++ {
		if err := fn(); err != nil {
			if attempt == 4 {
				return fmt.Errorf("retry failed: %w", err)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
			continue
		}
		return nil
	}
	return nil
}
