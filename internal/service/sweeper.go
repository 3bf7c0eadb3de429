package service

import (
	"context"
	"sync"
	"time"

	"anti-spam/internal/domain"
)

// cleaner é a parte do serviço usada pela limpeza periódica
type cleaner interface {
	CleanupOldEntries(ctx context.Context) (*domain.SweepResult, error)
}

// Sweeper executa CleanupOldEntries num intervalo fixo.
// Start e Stop são idempotentes; depois de Stop o Sweeper pode ser reiniciado.
type Sweeper struct {
	target   cleaner
	interval time.Duration
	logger   domain.Logger

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewSweeper cria o agendador de limpeza
func NewSweeper(target cleaner, interval time.Duration, logger domain.Logger) *Sweeper {
	return &Sweeper{
		target:   target,
		interval: interval,
		logger:   logger,
	}
}

// Start inicia a goroutine de limpeza
func (w *Sweeper) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return
	}
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.running = true

	go w.loop(w.stopCh, w.doneCh)

	w.logger.Info("Cleanup sweeper started", map[string]interface{}{
		"interval_ms": w.interval.Milliseconds(),
	})
}

// Stop sinaliza a goroutine e espera ela terminar
func (w *Sweeper) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stopCh)
	done := w.doneCh
	w.running = false
	w.mu.Unlock()

	<-done
	w.logger.Info("Cleanup sweeper stopped", nil)
}

// Running indica se a limpeza periódica está ativa
func (w *Sweeper) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Sweeper) loop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), w.interval)
			if _, err := w.target.CleanupOldEntries(ctx); err != nil {
				w.logger.Error("Periodic cleanup failed", err, nil)
			}
			cancel()
		case <-stopCh:
			return
		}
	}
}
