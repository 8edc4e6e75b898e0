package handlers

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORSMiddleware adds the required CORS headers to every response so a frontend hosted on
// a different origin (eg Vercel/Netlify) can make fetch() requests to this API, including
// the Authorization header every authenticated preview-management call carries. the
// teacher's original hand-rolled version only ever allowed Content-Type and never handled
// credentialed requests or a configurable allowed-methods list; go-chi/cors generalizes
// both, and is already the allowed-origin-and-preflight library the rest of the pack
// reaches for rather than re-deriving OPTIONS handling by hand.
func CORSMiddleware(allowedOrigin string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   []string{allowedOrigin},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Hub-Signature-256"},
		AllowCredentials: false,
		MaxAge:           300,
	})
}
