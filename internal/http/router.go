package http

import (
	"net/http"
)

type RouterConfig struct {
	Auth         *AuthHandler
	Rules        *RuleHandler
	Exceptions   *ExceptionHandler
	Appointments *AppointmentHandler
	Availability *AvailabilityHandler
	// Authenticate guards every route except /healthz and /auth/token.
	Authenticate func(http.Handler) http.Handler
	// Health reports readiness; nil means always healthy.
	Health     func(r *http.Request) error
	Middleware []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	protected := func(h http.HandlerFunc) http.Handler {
		if cfg.Authenticate == nil {
			return h
		}
		return cfg.Authenticate(h)
	}

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Health != nil {
			if err := cfg.Health(r); err != nil {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.Auth != nil {
		mux.HandleFunc("POST /auth/token", cfg.Auth.IssueToken)
	}

	if h := cfg.Rules; h != nil {
		mux.Handle("POST /schedule-rules", protected(h.Create))
		mux.Handle("GET /schedule-rules", protected(h.List))
		mux.Handle("GET /schedule-rules/{id}", protected(h.Get))
		mux.Handle("PUT /schedule-rules/{id}", protected(h.Update))
		mux.Handle("DELETE /schedule-rules/{id}", protected(h.Delete))
		mux.Handle("POST /schedule-rules/{id}/activate", protected(h.Activate))
		mux.Handle("POST /schedule-rules/{id}/deactivate", protected(h.Deactivate))
		mux.Handle("GET /doctors/{doctorId}/schedule-rules", protected(h.ListForDoctor))
	}

	if h := cfg.Exceptions; h != nil {
		mux.Handle("POST /schedule-exceptions", protected(h.Create))
		mux.Handle("GET /schedule-exceptions/{id}", protected(h.Get))
		mux.Handle("PUT /schedule-exceptions/{id}", protected(h.Update))
		mux.Handle("DELETE /schedule-exceptions/{id}", protected(h.Delete))
		mux.Handle("GET /doctors/{doctorId}/schedule-exceptions", protected(h.ListForDoctor))
	}

	if h := cfg.Appointments; h != nil {
		mux.Handle("POST /appointments", protected(h.Create))
		mux.Handle("GET /appointments", protected(h.List))
		mux.Handle("GET /appointments/pending", protected(h.Pending))
		mux.Handle("GET /appointments/{id}", protected(h.Get))
		mux.Handle("PUT /appointments/{id}", protected(h.Update))
		mux.Handle("DELETE /appointments/{id}", protected(h.Delete))
		mux.Handle("POST /appointments/{id}/confirm", protected(h.Confirm))
		mux.Handle("POST /appointments/{id}/cancel", protected(h.Cancel))
		mux.Handle("POST /appointments/{id}/start", protected(h.Start))
		mux.Handle("POST /appointments/{id}/complete", protected(h.Complete))
		mux.Handle("POST /appointments/{id}/no-show", protected(h.MarkNoShow))
		mux.Handle("POST /appointments/{id}/reschedule", protected(h.Reschedule))
		mux.Handle("POST /appointments/{id}/symptoms", protected(h.AddSymptoms))
		mux.Handle("PUT /appointments/{id}/location", protected(h.UpdateLocation))
		mux.Handle("GET /doctors/{doctorId}/appointments/upcoming", protected(h.UpcomingForDoctor))
		mux.Handle("GET /doctors/{doctorId}/appointments/today", protected(h.TodayForDoctor))
		mux.Handle("GET /patients/{patientId}/appointments/upcoming", protected(h.UpcomingForPatient))
	}

	if h := cfg.Availability; h != nil {
		mux.Handle("GET /doctors/{doctorId}/available-slots", protected(h.Slots))
		mux.Handle("GET /doctors/{doctorId}/availability", protected(h.Calendar))
	}

	var handler http.Handler = mux
	for i := len(cfg.Middleware) - 1; i >= 0; i-- {
		if cfg.Middleware[i] != nil {
			handler = cfg.Middleware[i](handler)
		}
	}
	return handler
}
