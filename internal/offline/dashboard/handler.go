package dashboard

import (
	"log"
	"sync"
	"time"

	"github.com/taskmasterpro/tm/internal/offline/cache"
	"github.com/taskmasterpro/tm/internal/offline/notify"
)

// Handler turns offline-subsystem events into dashboard messages. It
// implements notify.Notifier and remembers the latest values for /status.
type Handler struct {
	server *Server
	logger *log.Logger

	mu       sync.Mutex
	pending  int
	online   bool
	lastSync *notify.SyncSummary
	syncedAt time.Time
	stats    StatsData
}

// Status is the /status document.
type Status struct {
	Online   bool                `json:"online"`
	Pending  int                 `json:"pending"`
	Clients  int                 `json:"clients"`
	LastSync *notify.SyncSummary `json:"last_sync,omitempty"`
	SyncedAt *time.Time          `json:"synced_at,omitempty"`
	Stats    StatsData           `json:"stats"`
}

// NewHandler creates a handler broadcasting through server.
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{server: server, logger: logger}
}

func (h *Handler) Toast(level notify.Level, message string) {
	h.server.Publish(MessageTypeToast, ToastData{Level: string(level), Message: message})
}

func (h *Handler) PendingChanged(n int) {
	h.mu.Lock()
	h.pending = n
	h.mu.Unlock()
	h.server.Publish(MessageTypePendingCount, PendingData{Count: n})
}

func (h *Handler) ConnectivityChanged(online bool) {
	h.mu.Lock()
	h.online = online
	h.mu.Unlock()
	h.server.Publish(MessageTypeConnectivity, ConnectivityData{Online: online})
}

func (h *Handler) SyncCompleted(s notify.SyncSummary) {
	h.mu.Lock()
	h.lastSync = &s
	h.syncedAt = time.Now()
	h.mu.Unlock()
	h.server.Publish(MessageTypeSyncComplete, s)
}

// UpdateStats broadcasts task counts computed from the local cache.
func (h *Handler) UpdateStats(s cache.Stats) {
	data := StatsData{
		Total:      s.Total,
		Pending:    s.Pending,
		InProgress: s.InProgress,
		Completed:  s.Completed,
		Overdue:    s.Overdue,
	}
	h.mu.Lock()
	h.stats = data
	h.mu.Unlock()
	h.server.Publish(MessageTypeStats, data)
}

// SetInitial seeds the indicator values without broadcasting.
func (h *Handler) SetInitial(online bool, pending int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.online = online
	h.pending = pending
}

// Status returns the current indicator values.
func (h *Handler) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := Status{
		Online:  h.online,
		Pending: h.pending,
		Clients: h.server.ClientCount(),
		Stats:   h.stats,
	}
	if h.lastSync != nil {
		s := *h.lastSync
		at := h.syncedAt
		st.LastSync = &s
		st.SyncedAt = &at
	}
	return st
}
