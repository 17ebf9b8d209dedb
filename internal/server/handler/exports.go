package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"

	"github.com/google/uuid"

	s3blob "github.com/alanyoungcy/syport/internal/blob/s3"
	"github.com/alanyoungcy/syport/internal/domain"
)

// StatementExporter writes an account statement to object storage.
type StatementExporter interface {
	Export(ctx context.Context, q domain.RedeemQuery) (s3blob.Export, error)
}

// ExportHandler serves statement exports.
type ExportHandler struct {
	exporter StatementExporter
	reader   domain.BlobReader
	logger   *slog.Logger
}

// NewExportHandler creates an ExportHandler.
func NewExportHandler(exporter StatementExporter, reader domain.BlobReader, logger *slog.Logger) *ExportHandler {
	return &ExportHandler{exporter: exporter, reader: reader, logger: logHandler(logger, "exports")}
}

// CreateExport writes every redemption of the account matching the
// originator and token filters to a JSONL statement.
// POST /api/portfolio/{account}/senior/redeems/export
func (h *ExportHandler) CreateExport(w http.ResponseWriter, r *http.Request) {
	q, err := parseRedeemQuery(r, 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	exp, err := h.exporter.Export(r.Context(), q)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "statement export failed",
			slog.String("account", q.Account),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "statement export failed")
		return
	}

	h.logger.InfoContext(r.Context(), "statement exported",
		slog.String("account", q.Account),
		slog.String("path", exp.Path),
		slog.Int("records", exp.Records),
	)
	writeJSON(w, http.StatusCreated, exp)
}

// exportInfo is one entry of the export listing.
type exportInfo struct {
	ID string `json:"id"`
	domain.BlobInfo
}

// ListExports returns the account's stored statements, newest first.
// GET /api/portfolio/{account}/senior/redeems/exports
func (h *ExportHandler) ListExports(w http.ResponseWriter, r *http.Request) {
	account, err := domain.NormalizeAddress(pathParam(r, "account"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	infos, err := h.reader.List(r.Context(), s3blob.ExportPrefix(account))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list exports failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "list exports failed")
		return
	}

	out := make([]exportInfo, 0, len(infos))
	for _, info := range infos {
		if id := s3blob.ExportID(info.Path); id != "" {
			out = append(out, exportInfo{ID: id, BlobInfo: info})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastModified.After(out[j].LastModified) })

	writeJSON(w, http.StatusOK, map[string]any{"data": out, "count": len(out)})
}

// GetExport streams one stored statement.
// GET /api/portfolio/{account}/senior/redeems/exports/{id}
func (h *ExportHandler) GetExport(w http.ResponseWriter, r *http.Request) {
	account, err := domain.NormalizeAddress(pathParam(r, "account"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := pathParam(r, "id")
	if err := validExportID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	body, err := h.reader.Get(r.Context(), s3blob.ExportPath(account, id))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "export not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get export failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "get export failed")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", s3blob.ContentTypeJSONL)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "stream export interrupted", slog.String("error", err.Error()))
	}
}

// validExportID accepts the ids the exporter generates: uuids in their
// canonical lower-case hyphenated form.
func validExportID(id string) error {
	parsed, err := uuid.Parse(id)
	if err != nil || parsed.String() != id {
		return errors.New("invalid export id")
	}
	return nil
}
