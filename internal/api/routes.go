package api

import (
	"github.com/gorilla/mux"
)

// NewRouter registers every endpoint of s.
func NewRouter(s *Server) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ad_server", s.AdServerHandler).Methods("GET")
	r.HandleFunc("/click_counter", s.ClickCounterHandler).Methods("GET")
	r.HandleFunc("/impression", s.ImpressionHandler).Methods("GET")
	r.HandleFunc("/creative", s.CreativeHandler).Methods("GET")
	r.HandleFunc("/inventory", s.InventoryHandler).Methods("GET")
	r.HandleFunc("/health", s.HealthHandler).Methods("GET")
	r.HandleFunc("/reload", s.ReloadHandler).Methods("POST")

	admin := r.PathPrefix("/api").Subrouter()
	admin.HandleFunc("/templates/{template}/components", s.PutComponentsHandler).Methods("POST")
	admin.HandleFunc("/templates/{template}/markup", s.PutMarkupHandler).Methods("PUT")
	admin.HandleFunc("/campaigns", s.CreateCampaignHandler).Methods("POST")
	admin.HandleFunc("/campaigns/{campaign}/templates/{template}/events", s.ListEventsHandler).Methods("GET")
	return r
}
