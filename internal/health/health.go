package health

import (
	"encoding/json"
	"net/http"

	"github.com/austindbirch/harbor_pulse/internal/telemetry"
)

type Status struct {
	OK         bool   `json:"ok"`
	Message    string `json:"message,omitempty"`
	Telemetry  string `json:"telemetry,omitempty"`
	QueueDepth int    `json:"queue_depth"`
}

// StateReporter exposes the telemetry lifecycle state
type StateReporter interface {
	State() telemetry.State
}

// DepthReporter exposes how many events are waiting to be published
type DepthReporter interface {
	Len() int
}

// HTTPHandler returns an HTTP handler that reports the health status of the
// service. Telemetry problems never make the service unhealthy, so the
// handler always answers 200.
func HTTPHandler(state StateReporter, queue DepthReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := Status{OK: true, Message: "ok"}

		if state != nil {
			s := state.State()
			st.Telemetry = s.String()
			if s == telemetry.StateDisabled {
				st.Message = "telemetry disabled"
			}
		}
		if queue != nil {
			st.QueueDepth = queue.Len()
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(st)
	}
}
