package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Daskott/deadman/server/logger"
)

type ResponseWriterWithStatus struct {
	http.ResponseWriter
	Status int
}

func (r *ResponseWriterWithStatus) WriteHeader(status int) {
	r.Status = status
	r.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		responseWriter := &ResponseWriterWithStatus{
			ResponseWriter: w,
			Status:         200,
		}

		defer func() {
			if rec := recover(); rec != nil {
				logg.Errorf("panic serving %v %v: %v", r.Method, r.RequestURI, rec)
				writeResponse(responseWriter, ResponsePayload{Errors: []string{"internal server error"}}, http.StatusInternalServerError)
			}

			responseStatus := logger.Green(responseWriter.Status)
			if responseWriter.Status >= 400 {
				responseStatus = logger.Red(responseWriter.Status)
			}

			logg.Info(
				r.Method, " ",
				r.RequestURI, " ",
				responseStatus, " ",
				logger.Yellow(fmt.Sprintf("[%v]", time.Since(start))))
		}()

		next.ServeHTTP(responseWriter, r)
	})
}

func jsonContentMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
