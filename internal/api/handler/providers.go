package handler

import (
	"net/http"

	"github.com/kiranshivaraju/ocrflow/internal/api/response"
	"github.com/kiranshivaraju/ocrflow/internal/breaker"
	"github.com/kiranshivaraju/ocrflow/internal/provider"
)

// NewProvidersHandler returns GET /api/v1/providers: every provider with its
// availability and, once it has been called, its circuit state.
func NewProvidersHandler(reg *provider.Registry, breakers *breaker.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		circuits := make(map[string]breaker.State)
		if breakers != nil {
			for _, s := range breakers.Snapshots() {
				circuits[s.Provider] = s.State
			}
		}

		list := reg.List()
		for i := range list {
			if st, ok := circuits[list[i].Name]; ok {
				list[i].Circuit = string(st)
			}
		}
		response.JSON(w, list)
	}
}
