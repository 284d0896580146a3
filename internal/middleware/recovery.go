package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	log "github.com/sirupsen/logrus"

	"github.com/robkhoughton/trainingmonkey/internal/telemetry/metrics"
	"github.com/robkhoughton/trainingmonkey/pkg"
)

type panicResponse struct {
	Error string `json:"error"`
	Route string `json:"route"`
}

// PanicRecovery turns a handler panic into a 500. A panic inside a
// migration batch never reaches here, the engine recovers those itself.
func PanicRecovery(metricsManager *metrics.Manager) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}
				route := routeName(req)
				log.WithField("route", route).WithError(fmt.Errorf("panic: %v", r)).Errorf("handler panic\n%s", debug.Stack())
				if metricsManager != nil {
					metricsManager.CounterHandleRequestPanic.Inc()
				}
				pkg.WriteJSON(w, panicResponse{Error: "internal error", Route: route}, http.StatusInternalServerError)
			}()

			next.ServeHTTP(w, req)
		})
	}
}
