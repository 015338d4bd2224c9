package services

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"net/url"
	"strconv"
	"time"

	"escrow-backend/core/escrow"

	"github.com/skip2/go-qrcode"
)

// QRCodeService renders payment QR codes for task custody.
type QRCodeService struct {
	size int
}

// NewQRCodeService creates a new QR code service
func NewQRCodeService() *QRCodeService {
	return &QRCodeService{size: 256}
}

// PaymentURI encodes the custody account, amount and task as an escrow: URI.
func PaymentURI(account escrow.Identity, amount escrow.Amount, id escrow.TaskID) string {
	q := url.Values{}
	q.Set("amount", strconv.FormatInt(int64(amount), 10))
	q.Set("task", strconv.FormatInt(int64(id), 10))
	return "escrow:" + url.PathEscape(string(account)) + "?" + q.Encode()
}

// GenerateQRCode generates a PNG QR code for the given content.
func (s *QRCodeService) GenerateQRCode(content string) ([]byte, error) {
	if content == "" {
		return nil, fmt.Errorf("empty QR content")
	}
	qr, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to generate QR code: %w", err)
	}

	buf := new(bytes.Buffer)
	if err := png.Encode(buf, qr.Image(s.size)); err != nil {
		return nil, fmt.Errorf("failed to encode QR code to PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// TaskQRCode renders the custody QR for a live task.
func (s *QRCodeService) TaskQRCode(t escrow.Task, custody escrow.Identity) ([]byte, error) {
	return s.GenerateQRCode(PaymentURI(custody, t.Deposit, t.ID))
}

// Auditor is the part of the ledger the health check needs.
type Auditor interface {
	Audit(ctx context.Context) (escrow.AuditReport, error)
}

// HealthResponse is served on /healthz.
type HealthResponse struct {
	Status    string              `json:"status"`
	Message   string              `json:"message,omitempty"`
	Audit     *escrow.AuditReport `json:"audit,omitempty"`
	Timestamp int64               `json:"timestamp"`
}

// HealthService reports whether the ledger can read its store and substrate
// and whether custody matches live deposits.
type HealthService struct {
	ledger Auditor
}

// NewHealthService creates a new health service
func NewHealthService(ledger Auditor) *HealthService {
	return &HealthService{ledger: ledger}
}

// GetHealthStatus returns current health status
func (s *HealthService) GetHealthStatus(ctx context.Context) HealthResponse {
	resp := HealthResponse{Status: "healthy", Timestamp: time.Now().Unix()}
	report, err := s.ledger.Audit(ctx)
	if report.CheckedAt.IsZero() && err != nil {
		resp.Status = "unavailable"
		resp.Message = err.Error()
		return resp
	}
	resp.Audit = &report
	if err != nil {
		resp.Status = "degraded"
		resp.Message = err.Error()
	}
	return resp
}
