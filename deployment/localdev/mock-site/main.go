package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"
)

// mock-site serves a few endpoints and writes an Apache access log with a
// trailing response time, the apache/combined_with_time variant.
func main() {
	addr := flag.String("addr", ":8080", "listen address")
	logPath := flag.String("log", "access.log", "access log to append to")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil)).With(slog.String("component", "mock-site"))

	f, err := os.OpenFile(*logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		logger.Error("open access log", slog.Any("error", err))
		os.Exit(1)
	}
	defer f.Close()

	srv := &http.Server{
		Addr:    *addr,
		Handler: logRequests(newAccessLog(f), routes()),
	}
	logger.Info("listening", slog.String("address", *addr), slog.String("log", *logPath))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}
}

func routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/api/items", func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(time.Duration(20+rand.IntN(80)) * time.Millisecond)
		_, _ = w.Write([]byte(`{"items":[]}`))
	})
	// /api/report is slow and fails about one request in ten.
	mux.HandleFunc("/api/report", func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(time.Duration(800+rand.IntN(1500)) * time.Millisecond)
		if rand.IntN(10) == 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"done"}`))
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.FormValue("password") != "letmein" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("welcome"))
	})
	return mux
}

type accessLog struct {
	mu sync.Mutex
	w  io.Writer
}

func newAccessLog(w io.Writer) *accessLog {
	return &accessLog{w: w}
}

func (l *accessLog) write(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.w, line+"\n")
}

func logRequests(log *accessLog, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		log.write(formatLine(r, rw.status, rw.bytes, start, time.Since(start)))
	})
}

// formatLine renders one combined log line followed by the duration in seconds.
func formatLine(r *http.Request, status int, bytes int64, start time.Time, elapsed time.Duration) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	size := "-"
	if bytes > 0 {
		size = strconv.FormatInt(bytes, 10)
	}
	return fmt.Sprintf(`%s - - [%s] "%s %s %s" %d %s "%s" "%s" %.3f`,
		host,
		start.Format("02/Jan/2006:15:04:05 -0700"),
		r.Method, r.URL.RequestURI(), r.Proto,
		status, size,
		orDash(r.Referer()), orDash(r.UserAgent()),
		elapsed.Seconds())
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

type responseWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(p []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(p)
	rw.bytes += int64(n)
	return n, err
}
