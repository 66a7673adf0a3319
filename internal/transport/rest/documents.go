package rest

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"coop-settlement/internal/transport/auth"
)

func serveFile(files FileLocator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serveLocal(w, r, files)
	}
}

func serveLocal(w http.ResponseWriter, r *http.Request, files FileLocator) {
	file, err := pathRef(r, "file")
	if err != nil {
		http.NotFound(w, r)
		return
	}

	path, err := files.Path(file)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "failed to access file", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file))
	http.ServeFile(w, r, path)
}

func (h *Handler) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	userRef, err := auth.GetUserRef(r.Context())
	if err != nil {
		// unauthenticated router: allow ?user= for local testing
		userRef = r.URL.Query().Get("user")
		if userRef == "" {
			ErrorUnauthorized(w, "Unauthorized")
			return
		}
	}

	log.Printf("[WS] connected: user_ref=%s", userRef)
	h.svc.WebSocket(w, r, userRef)
}
