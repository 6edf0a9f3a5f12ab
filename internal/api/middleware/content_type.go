package middleware

import (
	"mime"
	"net/http"

	"github.com/watermonitor/watermonitor/internal/api/models"
)

// ContentTypeJSON defaults the response Content-Type to application/json.
// Handlers that write problem+json override it.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "application/json")
		}
		next.ServeHTTP(w, r)
	})
}

// RequireJSON rejects POST and PUT requests whose body is declared as
// anything other than JSON. Bodiless control requests without a
// Content-Type pass through.
func RequireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodPut {
			next.ServeHTTP(w, r)
			return
		}
		contentType := r.Header.Get("Content-Type")
		if contentType == "" {
			next.ServeHTTP(w, r)
			return
		}
		if mediaType, _, err := mime.ParseMediaType(contentType); err != nil || mediaType != "application/json" {
			models.NewProblem(
				models.ProblemTypeUnsupportedType,
				"Unsupported Media Type",
				http.StatusUnsupportedMediaType,
				GetRequestID(r.Context()),
			).WithDetail("Content-Type must be application/json").WithInstance(r.URL.Path).Write(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}
