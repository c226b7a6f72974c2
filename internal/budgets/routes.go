package budgets

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the budget API under r.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/budgets", h.create)
	r.Route("/budgets/{id}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Get("/summary", h.summary)
		r.Put("/summary", h.recalculate)
		r.Post("/preview", h.preview)
		r.Post("/export/{format}", h.export)
		r.Post("/email", h.email)

		r.Route("/editor", func(r chi.Router) {
			r.Post("/", h.openEditor)
			r.Get("/", h.editorState)
			r.Delete("/", h.closeEditor)
			r.Patch("/sections/{kind}", h.patchSection)
			r.Put("/vat", h.setVAT)
			r.Post("/lines", h.addLine)
			r.Patch("/lines/{lineID}", h.updateLine)
			r.Delete("/lines/{lineID}", h.removeLine)
			r.Post("/save", h.save)
			r.Post("/discard", h.discard)
		})
	})
}
