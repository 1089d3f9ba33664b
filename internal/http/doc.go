// Package http exposes the scheduling services over a JSON API.
//
// Routes are registered on a net/http ServeMux with method patterns:
//   - POST /auth/token: exchanges {"actor_id","secret"} for
//     {"token","token_type","expires_at"}. Every other route except
//     GET /healthz requires "Authorization: Bearer <token>".
//   - /schedule-rules and /schedule-rules/{id}, plus activate and deactivate
//     actions, exchanging the ruleDTO payload from rule_handler.go. Responses
//     carry total_slots_per_day.
//   - /schedule-exceptions and /schedule-exceptions/{id} exchanging
//     exceptionDTO from exception_handler.go.
//   - /appointments, /appointments/{id} and the lifecycle actions confirm,
//     cancel, start, complete, no-show, reschedule, symptoms and location,
//     exchanging appointmentDTO from appointment_handler.go.
//   - /doctors/{doctorId}/... and /patients/{patientId}/... queries for rules,
//     exceptions, upcoming and today's appointments, available slots and the
//     availability calendar.
//
// Times of day use HH:MM, dates YYYY-MM-DD and instants RFC 3339. Failures are
// answered with {"error_code","message","errors"}, where errors maps field
// names to messages for validation failures.
package http
