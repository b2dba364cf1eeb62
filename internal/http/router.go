package httpserver

import (
	"log"
	"net/http"

	"github.com/rfalcao/conceptminer/internal/http/handlers"
	"github.com/rfalcao/conceptminer/internal/http/middleware"
)

type RouterDependencies struct {
	API            *handlers.API
	Logger         *log.Logger
	AuthToken      string
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(deps RouterDependencies) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", deps.API.Health)
	mux.HandleFunc("/v1/documents", deps.API.SubmitDocument)
	mux.HandleFunc("/v1/jobs/", deps.API.JobStatus)

	// CORS sits outside auth so preflight requests answer without a token.
	handler := http.Handler(mux)
	handler = middleware.Auth(deps.AuthToken)(handler)
	handler = middleware.CORS(deps.AllowedOrigins)(handler)
	handler = middleware.RateLimit(deps.RateLimitRPS, deps.RateLimitBurst)(handler)
	handler = middleware.Trace(deps.Logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}
