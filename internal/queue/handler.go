// ABOUTME: Scan request handler shared by the NATS responder
// ABOUTME: Turns queue messages into engine scans and engine results into replies

package queue

import (
	"context"
	"time"

	"github.com/hikmaai-io/hikmaai-lens/internal/types"
)

// VerdictError is the Verdict of a failed request.
const VerdictError = "error"

// Scanner classifies one request. *engine.Engine satisfies it.
type Scanner interface {
	Scan(ctx context.Context, req types.ScanRequest) (types.ScanResult, error)
}

// Handler processes scan requests.
type Handler struct {
	scanner Scanner
}

// NewHandler creates a new message handler.
func NewHandler(scanner Scanner) *Handler {
	return &Handler{scanner: scanner}
}

// ProcessRequest scans one request. Failures are reported in the response.
func (h *Handler) ProcessRequest(ctx context.Context, req ScanRequest) ScanResponse {
	content, err := req.Payload()
	if err != nil {
		return errorResponse(req.RequestID, err.Error())
	}

	result, err := h.scanner.Scan(ctx, types.ScanRequest{
		Content:     content,
		ContentName: req.ContentName,
		AppName:     req.AppName,
		Channel:     "nats",
	})
	if err != nil {
		return errorResponse(req.RequestID, err.Error())
	}

	return ResultToResponse(result, req.RequestID)
}

// ProcessBatch scans reqs in order. A canceled context ends the batch with
// error responses for the requests that did not run.
func (h *Handler) ProcessBatch(ctx context.Context, reqs []ScanRequest) []ScanResponse {
	responses := make([]ScanResponse, 0, len(reqs))

	for _, req := range reqs {
		if err := ctx.Err(); err != nil {
			responses = append(responses, errorResponse(req.RequestID, err.Error()))
			continue
		}
		responses = append(responses, h.ProcessRequest(ctx, req))
	}

	return responses
}

// ResultToResponse converts an engine result to a reply.
func ResultToResponse(result types.ScanResult, requestID string) ScanResponse {
	return ScanResponse{
		RequestID:     requestID,
		Verdict:       result.Verdict.String(),
		Strength:      result.Strength,
		IsMalware:     result.IsMalware(),
		SignatureName: result.SignatureName,
		ContentHash:   result.ContentHash,
		BytesExamined: result.BytesExamined,
		Truncated:     result.Truncated,
		CacheHit:      result.CacheHit,
		ScanTimeMs:    result.ScanTimeMs,
		ScannedAt:     result.ScannedAt,
	}
}

func errorResponse(requestID, msg string) ScanResponse {
	return ScanResponse{
		RequestID: requestID,
		Verdict:   VerdictError,
		Error:     msg,
		ScannedAt: time.Now().UTC(),
	}
}
