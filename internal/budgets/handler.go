package budgets

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-quotes/internal/export"
	"github.com/odyssey-erp/odyssey-quotes/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-quotes/internal/pricing"
)

// Handler serves the budget HTTP API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	editors  *Registry
	validate *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, editors *Registry) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		service:  service,
		editors:  editors,
		validate: newValidator(),
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateBudgetRequest
	if !h.decode(w, r, &req) {
		return
	}
	b, err := h.service.Create(r.Context(), req)
	if err != nil {
		h.fail(w, r, "create budget", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, b)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.budgetID(w, r)
	if !ok {
		return
	}
	b, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get budget", err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	id, ok := h.budgetID(w, r)
	if !ok {
		return
	}
	s, err := h.service.Summary(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, s)
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.budgetID(w, r); !ok {
		return
	}
	var req PreviewRequest
	if !h.decode(w, r, &req) {
		return
	}
	httpx.JSON(w, http.StatusOK, h.service.Preview(req))
}

func (h *Handler) recalculate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.budgetID(w, r)
	if !ok {
		return
	}
	res, err := h.service.Recalculate(r.Context(), id)
	if err != nil {
		h.fail(w, r, "recalculate budget", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	id, ok := h.budgetID(w, r)
	if !ok {
		return
	}
	format, err := export.ParseFormat(chi.URLParam(r, "format"))
	if err != nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		return
	}
	var req ExportRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	file, err := h.service.Export(r.Context(), id, format, req.Options())
	if err != nil {
		h.fail(w, r, "export budget", err)
		return
	}
	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	w.Header().Set("Content-Length", strconv.Itoa(len(file.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(file.Data)
}

func (h *Handler) email(w http.ResponseWriter, r *http.Request) {
	id, ok := h.budgetID(w, r)
	if !ok {
		return
	}
	var req EmailRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.EnqueueEmail(r.Context(), id, req)
	if err != nil {
		h.fail(w, r, "queue budget email", err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, res)
}

func (h *Handler) openEditor(w http.ResponseWriter, r *http.Request) {
	id, ok := h.budgetID(w, r)
	if !ok {
		return
	}
	reload, _ := strconv.ParseBool(r.URL.Query().Get("reload"))
	st, err := h.editors.Open(r.Context(), id, reload)
	if err != nil {
		h.fail(w, r, "open editor", err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) editorState(w http.ResponseWriter, r *http.Request) {
	h.withEditor(w, r, "editor state", func(ed *Editor) (State, error) {
		return ed.State(), nil
	})
}

func (h *Handler) patchSection(w http.ResponseWriter, r *http.Request) {
	kind := pricing.SectionKind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		httpx.RespondError(w, ErrUnknownKind)
		return
	}
	var req SectionPatch
	if !h.decode(w, r, &req) {
		return
	}
	h.withEditor(w, r, "update section", func(ed *Editor) (State, error) {
		return ed.SetSection(kind, req.RawTotal, req.Visible)
	})
}

func (h *Handler) setVAT(w http.ResponseWriter, r *http.Request) {
	var req VATRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.withEditor(w, r, "set vat", func(ed *Editor) (State, error) {
		return ed.SetVAT(*req.VATPercentage)
	})
}

func (h *Handler) addLine(w http.ResponseWriter, r *http.Request) {
	var req LineRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.withEditor(w, r, "add line", func(ed *Editor) (State, error) {
		return ed.AddLine(req.raw(0))
	})
}

func (h *Handler) updateLine(w http.ResponseWriter, r *http.Request) {
	lineID, err := strconv.ParseInt(chi.URLParam(r, "lineID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid line id")
		return
	}
	var req LineRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.withEditor(w, r, "update line", func(ed *Editor) (State, error) {
		return ed.UpdateLine(lineID, req.raw(lineID))
	})
}

func (h *Handler) removeLine(w http.ResponseWriter, r *http.Request) {
	lineID, err := strconv.ParseInt(chi.URLParam(r, "lineID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid line id")
		return
	}
	h.withEditor(w, r, "remove line", func(ed *Editor) (State, error) {
		return ed.RemoveLine(lineID)
	})
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request) {
	h.withEditor(w, r, "save editor", func(ed *Editor) (State, error) {
		return ed.Save()
	})
}

func (h *Handler) discard(w http.ResponseWriter, r *http.Request) {
	h.withEditor(w, r, "discard editor", func(ed *Editor) (State, error) {
		return ed.Discard()
	})
}

func (h *Handler) closeEditor(w http.ResponseWriter, r *http.Request) {
	id, ok := h.budgetID(w, r)
	if !ok {
		return
	}
	if err := h.editors.Close(id); err != nil {
		h.fail(w, r, "close editor", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) withEditor(w http.ResponseWriter, r *http.Request, op string, fn func(*Editor) (State, error)) {
	id, ok := h.budgetID(w, r)
	if !ok {
		return
	}
	ed, err := h.editors.Editor(id)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	st, err := fn(ed)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) budgetID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid budget id")
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(w, r, dst); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		httpx.ValidationProblem(w, err)
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if isClientError(err) {
		h.logger.Debug(op+" rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
	} else {
		h.logger.Error(op+" failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func isClientError(err error) bool {
	return errors.Is(err, httpx.ErrNotFound) ||
		errors.Is(err, httpx.ErrValidation) ||
		errors.Is(err, httpx.ErrConflict)
}
