// workers/custody_audit_worker.go
package workers

import (
	"context"
	"log"
	"sync"
	"time"

	"xp-tournaments/services"
)

// CustodyAuditor is the audit the worker runs on every tick.
type CustodyAuditor interface {
	Audit(ctx context.Context) ([]services.CustodyDiscrepancy, error)
}

// CustodyAuditWorker re-checks every tournament's custody balance on an
// interval and logs what does not add up.
type CustodyAuditWorker struct {
	auditor  CustodyAuditor
	interval time.Duration

	mu      sync.Mutex
	last    []services.CustodyDiscrepancy
	lastRun time.Time
}

func NewCustodyAuditWorker(auditor CustodyAuditor, interval time.Duration) *CustodyAuditWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &CustodyAuditWorker{auditor: auditor, interval: interval}
}

func (w *CustodyAuditWorker) Start(ctx context.Context) {
	log.Printf("🔁 Starting Custody Audit Worker (every %s)…", w.interval)
	go w.Run(ctx)
}

// Run audits once right away, then on every tick until ctx is done.
func (w *CustodyAuditWorker) Run(ctx context.Context) {
	w.auditOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.auditOnce(ctx)
		case <-ctx.Done():
			log.Println("⏹️ Custody Audit Worker stopped")
			return
		}
	}
}

// LastDiscrepancies returns what the latest successful audit found.
func (w *CustodyAuditWorker) LastDiscrepancies() []services.CustodyDiscrepancy {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]services.CustodyDiscrepancy(nil), w.last...)
}

// LastRun is when the latest successful audit finished, zero before the first.
func (w *CustodyAuditWorker) LastRun() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastRun
}

func (w *CustodyAuditWorker) auditOnce(ctx context.Context) {
	found, err := w.auditor.Audit(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("❌ [AUDIT] custody audit failed: %v", err)
		}
		return
	}

	w.mu.Lock()
	w.last = found
	w.lastRun = time.Now().UTC()
	w.mu.Unlock()

	for _, d := range found {
		log.Printf("🚨 [AUDIT] tournament %d custody %s holds %d %s, expected %d",
			d.TournamentID, d.Account, d.Actual, d.Token, d.Expected)
	}
}
