package dashboard

import (
	"time"

	"github.com/CZERTAINLY/port-lens/internal/dashboard/store"
	"github.com/CZERTAINLY/port-lens/internal/probe"
)

type checkHealthResponse struct {
	Status      string  `json:"status"`
	Description *string `json:"description,omitempty"`
}

type scanRequest struct {
	Host           string  `json:"host"`
	Ports          string  `json:"ports"`
	TimeoutSeconds float64 `json:"timeout_seconds,omitempty"`
}

type scanResponse struct {
	UUID      string       `json:"uuid"`
	Host      string       `json:"host"`
	Results   probe.Report `json:"results"`
	OpenCount int          `json:"openCount"`
	Total     int          `json:"total"`
}

type scanInfo struct {
	UUID          string    `json:"uuid"`
	Host          string    `json:"host"`
	Requested     int       `json:"requested"`
	StartedAt     time.Time `json:"startedAt"`
	Status        string    `json:"status"`
	OpenCount     *int      `json:"openCount,omitempty"`
	FailureReason *string   `json:"failureReason,omitempty"`
}

type listScansResponse struct {
	Scans []scanInfo `json:"scans"`
}

type generalErrMsgResp struct {
	Message string `json:"message"`
}

func scanInfoFromRow(row store.ScanRow) scanInfo {
	info := scanInfo{
		UUID:          row.UUID,
		Host:          row.Host,
		Requested:     row.Requested,
		StartedAt:     row.StartedAt,
		OpenCount:     row.OpenCount,
		FailureReason: row.FailureReason,
	}
	switch {
	case row.InProgress:
		info.Status = "inProgress"
	case row.Success != nil && *row.Success:
		info.Status = "completed"
	default:
		info.Status = "failed"
	}
	return info
}

// indexData feeds the embedded html template.
type indexData struct {
	Host        string
	Ports       string
	Timeout     string
	Message     string
	MessageKind string
	Report      probe.Report
	OpenCount   int
	Recent      []scanInfo
}
