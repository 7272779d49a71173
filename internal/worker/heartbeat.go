package worker

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"
)

// HeartbeatInterval is how often a registered worker refreshes its row.
const HeartbeatInterval = 10 * time.Second

// Heartbeat registers a worker process in the workers table and keeps
// its last_heartbeat_at fresh while running, so operators can see which
// workers are alive.
type Heartbeat struct {
	db         *sql.DB
	workerID   string
	workerType string

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

func NewHeartbeat(db *sql.DB, workerType string) *Heartbeat {
	return &Heartbeat{
		db:         db,
		workerID:   fmt.Sprintf("%s-%s-%d", workerType, getHostname(), time.Now().UnixNano()%10000),
		workerType: workerType,
	}
}

// Start registers the worker and begins the heartbeat loop.
func (h *Heartbeat) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.ctx, h.cancel = context.WithCancel(context.Background())
	h.mu.Unlock()

	_, err := h.db.Exec(`
		INSERT INTO workers (id, worker_type, hostname, status, started_at, last_heartbeat_at)
		VALUES ($1, $2, $3, 'running', NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET status = 'running', last_heartbeat_at = NOW()
	`, h.workerID, h.workerType, getHostname())
	if err != nil {
		log.Printf("[Heartbeat] Warning: Failed to register worker %s: %v", h.workerID, err)
	}

	h.wg.Add(1)
	go h.loop()
}

// Stop marks the worker stopped and halts the loop.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	h.cancel()
	h.wg.Wait()

	_, err := h.db.Exec(`UPDATE workers SET status = 'stopped' WHERE id = $1`, h.workerID)
	if err != nil {
		log.Printf("[Heartbeat] Warning: Failed to deregister worker %s: %v", h.workerID, err)
	}
}

func (h *Heartbeat) loop() {
	defer h.wg.Done()

	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.db.Exec(`UPDATE workers SET last_heartbeat_at = NOW() WHERE id = $1`, h.workerID)
		}
	}
}
