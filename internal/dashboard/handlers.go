package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/CZERTAINLY/port-lens/internal/dashboard/store"
	"github.com/CZERTAINLY/port-lens/internal/policy"
	"github.com/CZERTAINLY/port-lens/internal/ports"
	"github.com/CZERTAINLY/port-lens/internal/probe"

	uuidpkg "github.com/google/uuid"
	"github.com/gorilla/mux"
)

const recentScansLimit = 20

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s.render(ctx, w, indexData{Recent: s.recentScans(ctx)})
}

func (s *Server) scanForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		slog.DebugContext(ctx, "Calling `r.ParseForm()` failed.", slog.String("error", err.Error()))
		http.Error(w, "Bad request.", http.StatusBadRequest)
		return
	}

	host := strings.TrimSpace(r.PostFormValue("host"))
	portSpec := strings.TrimSpace(r.PostFormValue("ports"))
	timeoutSpec := strings.TrimSpace(r.PostFormValue("timeout"))
	data := indexData{Host: host, Ports: portSpec, Timeout: timeoutSpec}

	if host == "" {
		data.Message = "Please provide a host to scan."
		data.MessageKind = "warning"
		data.Recent = s.recentScans(ctx)
		s.render(ctx, w, data)
		return
	}

	portList := ports.Parse(portSpec)
	if portList == nil {
		data.Message = "No valid ports to scan."
		data.MessageKind = "warning"
		data.Recent = s.recentScans(ctx)
		s.render(ctx, w, data)
		return
	}

	if err := s.pol.Authorize(ctx, host); err != nil {
		switch {
		case errors.Is(err, policy.ErrResolve):
			data.Message = fmt.Sprintf("Unable to resolve host: %s", host)
		default:
			data.Message = fmt.Sprintf("Scanning %q is denied by policy (%s).", host, s.pol.Networks())
		}
		data.MessageKind = "error"
		data.Recent = s.recentScans(ctx)
		s.render(ctx, w, data)
		return
	}

	_, report, err := s.runScan(ctx, host, portList, s.parseTimeout(timeoutSpec))
	if err != nil {
		slog.ErrorContext(ctx, "Scan failed.", slog.String("host", host), slog.String("error", err.Error()))
		data.Message = fmt.Sprintf("Scan of %q failed: %s", host, err)
		data.MessageKind = "error"
		data.Recent = s.recentScans(ctx)
		s.render(ctx, w, data)
		return
	}

	data.Report = report
	data.OpenCount = report.OpenCount()
	data.Message = fmt.Sprintf("Scanned %d ports on %q, %d open.", len(report), host, report.OpenCount())
	data.MessageKind = "success"
	data.Recent = s.recentScans(ctx)
	s.render(ctx, w, data)
}

func (s *Server) apiScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var request scanRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		slog.DebugContext(ctx, "Calling `json.Decode()` failed.", slog.String("error", err.Error()))
		toJsonErr(ctx, w, generalErrMsgResp{Message: fmt.Sprintf("Failed to unmarshal request: %s", err)}, http.StatusBadRequest)
		return
	}

	host := strings.TrimSpace(request.Host)
	if host == "" {
		toJsonErr(ctx, w, generalErrMsgResp{Message: "Missing host."}, http.StatusUnprocessableEntity)
		return
	}

	portList := ports.Parse(request.Ports)
	if portList == nil {
		toJsonErr(ctx, w, generalErrMsgResp{Message: "No valid ports to scan."}, http.StatusUnprocessableEntity)
		return
	}

	if err := s.pol.Authorize(ctx, host); err != nil {
		switch {
		case errors.Is(err, policy.ErrResolve):
			toJsonErr(ctx, w, generalErrMsgResp{Message: fmt.Sprintf("Unable to resolve host: %s", host)}, http.StatusBadRequest)
		default:
			toJsonErr(ctx, w, generalErrMsgResp{Message: fmt.Sprintf("Scanning %q is denied by policy (%s).", host, s.pol.Networks())}, http.StatusForbidden)
		}
		return
	}

	timeout := time.Duration(request.TimeoutSeconds * float64(time.Second))
	if timeout <= 0 {
		timeout = s.parseTimeout("")
	}

	scanUUID, report, err := s.runScan(ctx, host, portList, timeout)
	switch {
	case errors.Is(err, probe.ErrNotPermitted):
		toJsonErr(ctx, w, generalErrMsgResp{Message: err.Error()}, http.StatusForbidden)
		return
	case err != nil:
		slog.ErrorContext(ctx, "Scan failed.", slog.String("host", host), slog.String("error", err.Error()))
		http.Error(w, "Internal server error.", http.StatusInternalServerError)
		return
	}

	toJson(ctx, w, scanResponse{
		UUID:      scanUUID,
		Host:      host,
		Results:   report,
		OpenCount: report.OpenCount(),
		Total:     len(report),
	})
}

func (s *Server) apiListScans(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rows, err := store.List(ctx, s.db, recentScansLimit)
	if err != nil {
		slog.ErrorContext(ctx, "Calling `store.List()` failed.", slog.String("error", err.Error()))
		http.Error(w, "Internal server error.", http.StatusInternalServerError)
		return
	}

	resp := listScansResponse{Scans: make([]scanInfo, 0, len(rows))}
	for _, row := range rows {
		resp.Scans = append(resp.Scans, scanInfoFromRow(row))
	}
	toJson(ctx, w, resp)
}

func (s *Server) apiGetScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uuid := mux.Vars(r)["uuid"]

	if uuid == "" {
		toJsonErr(ctx, w, generalErrMsgResp{Message: "Missing uuid variable."}, http.StatusBadRequest)
		return
	}

	row, err := store.Get(ctx, s.db, uuid)
	switch {
	case errors.Is(err, store.ErrNotFound):
		slog.DebugContext(ctx, "UUID not found.", slog.String("uuid", uuid))
		toJsonErr(ctx, w, generalErrMsgResp{Message: fmt.Sprintf("UUID %q not found.", uuid)}, http.StatusNotFound)
		return
	case err != nil:
		slog.ErrorContext(ctx, "Calling `store.Get()` failed.", slog.String("error", err.Error()))
		http.Error(w, "Internal server error.", http.StatusInternalServerError)
		return
	}

	toJson(ctx, w, scanInfoFromRow(row))
}

func (s *Server) apiDeleteScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uuid := mux.Vars(r)["uuid"]

	if uuid == "" {
		toJsonErr(ctx, w, generalErrMsgResp{Message: "Missing uuid variable."}, http.StatusBadRequest)
		return
	}

	err := store.Delete(ctx, s.db, uuid)
	switch {
	case errors.Is(err, store.ErrNotFound):
		toJsonErr(ctx, w, generalErrMsgResp{Message: fmt.Sprintf("UUID %q not found.", uuid)}, http.StatusNotFound)
		return
	case err != nil:
		slog.ErrorContext(ctx, "Calling `store.Delete()` failed.", slog.String("error", err.Error()))
		http.Error(w, "Internal server error.", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) checkHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.db.PingContext(ctx); err != nil {
		slog.ErrorContext(ctx, "Sqlite ping failed.", slog.String("error", err.Error()))
		description := err.Error()
		toJsonErr(ctx, w, checkHealthResponse{
			Status:      "failing",
			Description: &description,
		}, http.StatusServiceUnavailable)
		return
	}

	toJson(ctx, w, checkHealthResponse{
		Status: "ok",
	})
}

// parseTimeout turns the user supplied timeout in seconds into the per
// probe connect timeout. Absent, unparseable or non-positive values
// fall back to the configured default.
func (s *Server) parseTimeout(spec string) time.Duration {
	if spec != "" {
		if seconds, err := strconv.ParseFloat(spec, 64); err == nil && seconds > 0 {
			return time.Duration(seconds * float64(time.Second))
		}
	}
	return time.Duration(s.cfg.Scan.TimeoutSeconds * float64(time.Second))
}

// runScan journals the scan in sqlite, runs the engine and records the
// outcome. The report itself is not persisted.
func (s *Server) runScan(ctx context.Context, host string, portList []int, timeout time.Duration) (string, probe.Report, error) {
	scanUUID := uuidpkg.NewString()

	if err := store.Start(ctx, s.db, scanUUID, host, len(portList)); err != nil {
		return "", nil, fmt.Errorf("journaling scan start failed: %w", err)
	}

	report, err := s.prober.Scan(ctx, host, portList, timeout)
	if err != nil {
		if storeErr := store.FinishErr(ctx, s.db, scanUUID, err.Error()); storeErr != nil {
			slog.ErrorContext(ctx, "Calling `store.FinishErr()` failed.", slog.String("error", storeErr.Error()))
		}
		return scanUUID, nil, err
	}

	if storeErr := store.FinishOK(ctx, s.db, scanUUID, report.OpenCount()); storeErr != nil {
		slog.ErrorContext(ctx, "Calling `store.FinishOK()` failed.", slog.String("error", storeErr.Error()))
	}
	return scanUUID, report, nil
}

func (s *Server) recentScans(ctx context.Context) []scanInfo {
	rows, err := store.List(ctx, s.db, recentScansLimit)
	if err != nil {
		slog.ErrorContext(ctx, "Calling `store.List()` failed.", slog.String("error", err.Error()))
		return nil
	}
	ret := make([]scanInfo, 0, len(rows))
	for _, row := range rows {
		ret = append(ret, scanInfoFromRow(row))
	}
	return ret
}

func (s *Server) render(ctx context.Context, w http.ResponseWriter, data indexData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.Execute(w, data); err != nil {
		slog.ErrorContext(ctx, "Executing template failed.", slog.String("error", err.Error()))
	}
}

func toJson(ctx context.Context, w http.ResponseWriter, resp any) {
	b, err := json.Marshal(resp)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to marshal structure to json.", slog.String("error", err.Error()))
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error."))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func toJsonErr(ctx context.Context, w http.ResponseWriter, resp any, statusCode int) {
	b, err := json.Marshal(resp)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to marshal structure to json.", slog.String("error", err.Error()))
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error."))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(b)
}
