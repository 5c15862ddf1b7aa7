package rewards

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/tourcoin/tourcoin/monitor"
)

const timeout = 15

// Server exposes the rewards client and the monitor service over a RESTful API.
type Server struct {
	c   *Client
	mon *monitor.Service
	s   *http.Server  // http server
	ss  *http.Server  // https server
	sc  chan struct{} // server channel used for graceful shutdowns
}

// NewServer wraps the client and monitor into an API server.
func NewServer(c *Client, mon *monitor.Service) *Server {
	return &Server{c: c, mon: mon}
}

// Init sets up and starts the http/https server to service the RESTful API. If sslPort, sslCert and sslKey
// are informed, it will start an https (TLS) server on the specified endpoint. Init blocks until Stop.
func (s *Server) Init(endpoint, port, sslPort, sslCert, sslKey string) string {
	var err, errTLS error

	// API definition
	r := mux.NewRouter()
	r.HandleFunc("/", s.homeHandler)
	r.HandleFunc("/tourists", s.registerTouristHandler).Methods("POST")
	r.HandleFunc("/tourists/{id}/issue", s.issueHandler).Methods("POST")
	r.HandleFunc("/restaurants", s.registerRestaurantHandler).Methods("POST")
	r.HandleFunc("/transfers", s.transferHandler).Methods("POST")
	r.HandleFunc("/balance/{id}", s.balanceHandler).Methods("GET")
	r.HandleFunc("/tx/{hash}", s.txHandler).Methods("GET")
	r.HandleFunc("/tx/{hash}/wait", s.waitTxHandler).Methods("GET")
	r.HandleFunc("/participants/{id}/txs", s.listTxsHandler).Methods("GET")
	r.HandleFunc("/estimate", s.estimateHandler).Methods("GET")
	r.HandleFunc("/network", s.networkHandler).Methods("GET")
	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.HandleFunc("/monitor/start", s.monitorStartHandler).Methods("POST")
	r.HandleFunc("/monitor/stop", s.monitorStopHandler).Methods("POST")
	r.HandleFunc("/monitor/status", s.monitorStatusHandler).Methods("GET")
	r.HandleFunc("/metrics/system", s.systemMetricsHandler).Methods("GET")
	r.HandleFunc("/insights/tourists", s.touristInsightsHandler).Methods("GET")
	r.HandleFunc("/rankings/restaurants", s.rankingsHandler).Methods("GET")
	r.HandleFunc("/backfill", s.backfillHandler).Methods("POST")

	// setup shutdown channel
	s.sc = make(chan struct{})

	// start http server
	if port != "" {
		s.s = &http.Server{
			Handler:      r,
			Addr:         endpoint + ":" + port,
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			err = s.s.ListenAndServe()
		}()

		log.Printf("Listening to API http requests on %s:%s", endpoint, port)
	}
	// start https server
	if sslPort != "" && sslCert != "" && sslKey != "" {
		s.ss = &http.Server{
			Handler:      r,
			Addr:         endpoint + ":" + sslPort,
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			errTLS = s.ss.ListenAndServeTLS(sslCert, sslKey)
		}()

		log.Printf("Listening to API https requests on %s:%s", endpoint, sslPort)
	}
	// wait for servers to be shutdown
	<-s.sc

	return fmt.Sprintf("shutdown http server:%e, https server:%e", err, errTLS)
}

// Stop shuts down the http servers and the monitor service.
func (s *Server) Stop() {
	if s.s != nil {
		if err := s.s.Shutdown(context.Background()); err != nil {
			log.Printf("Error in http server shutdown:%e", err)
		}
	}
	if s.ss != nil {
		if err := s.ss.Shutdown(context.Background()); err != nil {
			log.Printf("Error in https server shutdown:%e", err)
		}
	}
	close(s.sc)
	s.mon.Stop()
}
