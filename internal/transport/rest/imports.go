package rest

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"coop-settlement/internal/domain"
	"coop-settlement/internal/service"
	"coop-settlement/internal/transport/auth"
)

const importKeyPrefix = "imports:"

func (h *Handler) startImport(w http.ResponseWriter, r *http.Request) {
	data, err := readUpload(w, r)
	if err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}

	userRef, _ := auth.GetUserRef(r.Context())

	key, err := h.svc.Imports.StartImport(r.Context(), userRef, data)
	if errors.Is(err, service.ErrInvalidImport) {
		ErrorUnprocessable(w, err.Error())
		return
	}
	if err != nil {
		log.Printf("[HTTP] startImport error: %v", err)
		ErrorInternal(w, "failed to start import")
		return
	}

	SuccessAccepted(w, "import queued", map[string]interface{}{
		"import_id": strings.TrimPrefix(key, importKeyPrefix),
	})
}

func (h *Handler) listImports(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Imports.ListImports(r.Context(), importOwner(r))
	if err != nil {
		log.Printf("[HTTP] listImports error: %v", err)
		ErrorInternal(w, "failed to get imports")
		return
	}
	Success(w, "", list)
}

func (h *Handler) getImport(w http.ResponseWriter, r *http.Request) {
	id, err := pathRef(r, "import_id")
	if err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}

	st, err := h.svc.Imports.GetImport(r.Context(), importKeyPrefix+id, importOwner(r))
	if errors.Is(err, domain.ErrNotFound) {
		ErrorNotFound(w, "import not found")
		return
	}
	if err != nil {
		log.Printf("[HTTP] getImport %s error: %v", id, err)
		ErrorInternal(w, "failed to get import")
		return
	}

	Success(w, "", st)
}

// importOwner scopes import lookups to the caller. The service principal
// sees every import.
func importOwner(r *http.Request) string {
	userRef, _ := auth.GetUserRef(r.Context())
	if userRef == auth.ServiceRef {
		return ""
	}
	return userRef
}
