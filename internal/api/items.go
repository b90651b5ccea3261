package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/FairForge/tierbank/internal/bank"
	"github.com/FairForge/tierbank/internal/tier"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// handleListItems lists items, optionally only those under ?prefix=
func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 1000
	}

	items := make([]bank.ItemInfo, 0)
	s.bank.IterateUnder(prefix, func(path string, _ bank.Source) bool {
		info, err := s.bank.Info(path)
		if err == nil {
			items = append(items, info)
		}
		return len(items) < limit
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	info, err := s.bank.Info(chi.URLParam(r, "*"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleItemAction serves POST /items/{path}/load and
// POST /items/{path}/unload?level=hot|cold
func (s *Server) handleItemAction(w http.ResponseWriter, r *http.Request) {
	rest := chi.URLParam(r, "*")
	importance := bank.RunNow
	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		importance = bank.BeforeQueued
	}

	var (
		path string
		err  error
	)
	if p, ok := strings.CutSuffix(rest, "/load"); ok {
		path = p
		err = s.bank.Load(path, importance)
	} else if p, ok := strings.CutSuffix(rest, "/unload"); ok {
		path = p
		level := tier.Hot
		if q := r.URL.Query().Get("level"); q != "" {
			level, err = tier.ParseLevel(q)
			if err == nil && level == tier.Memory {
				err = fmt.Errorf("cannot unload to %s", level)
			}
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
				return
			}
		}
		err = s.bank.Unload(path, level, importance)
	} else {
		http.NotFound(w, r)
		return
	}

	if err != nil {
		s.logger.Warn("item action failed", zap.String("path", rest), zap.Error(err))
		writeError(w, err)
		return
	}

	if importance != bank.RunNow && s.bank.Async() {
		writeJSON(w, http.StatusAccepted, map[string]string{"path": path, "status": "queued"})
		return
	}
	info, err := s.bank.Info(path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
