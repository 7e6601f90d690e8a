package handler

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"golang.org/x/text/unicode/norm"

	"zonemarket/internal/apperr"
	"zonemarket/internal/logger"
	"zonemarket/internal/store"
)

// リクエストボディサイズの上限 (1MB)
const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps err onto the {"message","code"} error body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ae := apperr.As(err)
	if ae.Code == apperr.CodeInternal {
		logger.Errorf("[%s %s] ❌ %v", r.Method, r.URL.Path, err)
	} else {
		logger.Warnf("[%s %s] ❌ %s: %s", r.Method, r.URL.Path, ae.Code, ae.Message)
	}
	writeJSON(w, ae.Status(), map[string]string{"message": ae.Message, "code": string(ae.Code)})
}

// writeMessage writes a {"message": msg} body.
func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Wrap(apperr.CodeBadRequest, apperr.ErrInvalidBody.Error(), err)
	}
	return nil
}

// pathID returns the numeric {id} route variable.
func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}

func queryBool(r *http.Request, key string) *bool {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil
	}
	return &b
}

func listParams(r *http.Request) store.ListParams {
	return store.ListParams{Page: queryInt(r, "page"), PerPage: queryInt(r, "per_page")}
}

// clean trims s and normalizes it to NFC so that visually equal input
// compares and stores equal.
func clean(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func cleanPtr(s *string) *string {
	if s == nil {
		return nil
	}
	c := clean(*s)
	if c == "" {
		return nil
	}
	return &c
}

// clientIP returns the caller address without the port.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
