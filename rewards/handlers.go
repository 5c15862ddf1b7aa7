package rewards

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

// dateLayout is the wire format for arrival and departure dates.
const dateLayout = "2006-01-02"

// Response defines the data structure returned to the client making the http request.
type Response struct {
	Body  string `json:"body"`
	Error string `json:"error,omitempty"`
	Kind  string `json:"kind,omitempty"` // error kind, see errors.go
	Code  string `json:"code,omitempty"` // machine-readable error code
}

// reply marshals pl into the response body or maps err to its status and taxonomy fields, then writes the
// reply. Every handler defers it.
func reply(rw http.ResponseWriter, r *http.Request, pl interface{}, err error) {
	var res Response

	if err != nil {
		res.Error = err.Error()
		res.Kind = ErrKind(err)
		res.Code = ErrCode(err)
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		rw.WriteHeader(StatusFor(err))
	} else {
		tmp, _ := json.Marshal(pl)
		res.Body = string(tmp)
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		rw.WriteHeader(http.StatusOK)
	}
	// log request and outcome
	log.Printf("httpreq from %v %s err:%v\n", r.RemoteAddr, r.RequestURI, err)
	_ = json.NewEncoder(rw).Encode(&res)
}

// homeHandler just replies a welcome message to the client.
func (s *Server) homeHandler(rw http.ResponseWriter, r *http.Request) {
	log.Printf("httpreq from %v %s\n", r.RemoteAddr, r.RequestURI)
	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	_ = json.NewEncoder(rw).Encode(Response{Body: "Hello, this is your travel rewards service!"})
}

type touristReq struct {
	ID            string `json:"id"`
	Country       string `json:"country"`
	ArrivalDate   string `json:"arrivalDate"`
	DepartureDate string `json:"departureDate"`
}

// registerTouristHandler registers a tourist and replies the stored profile with its ledger address.
func (s *Server) registerTouristHandler(rw http.ResponseWriter, r *http.Request) {
	var err error
	var pl interface{}
	defer func() { reply(rw, r, pl, err) }()

	var req touristReq
	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		err = errValidation(CodeInvalidRequest, "invalid JSON body: %v", err)
		return
	}
	arrival, errA := time.Parse(dateLayout, req.ArrivalDate)
	departure, errD := time.Parse(dateLayout, req.DepartureDate)
	if errA != nil || errD != nil {
		err = errValidation(CodeInvalidDates, "dates must use the %s layout", dateLayout)
		return
	}
	pl, err = s.c.RegisterTourist(r.Context(), req.ID, req.Country, arrival, departure)
}

type restaurantReq struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// registerRestaurantHandler registers a restaurant and replies the stored profile.
func (s *Server) registerRestaurantHandler(rw http.ResponseWriter, r *http.Request) {
	var err error
	var pl interface{}
	defer func() { reply(rw, r, pl, err) }()

	var req restaurantReq
	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		err = errValidation(CodeInvalidRequest, "invalid JSON body: %v", err)
		return
	}
	pl, err = s.c.RegisterRestaurant(r.Context(), req.ID, req.Name)
}

// issueHandler mints the daily coins to the tourist in the uri.
func (s *Server) issueHandler(rw http.ResponseWriter, r *http.Request) {
	var err error
	var pl interface{}
	defer func() { reply(rw, r, pl, err) }()

	pl, err = s.c.IssueDailyCoins(r.Context(), mux.Vars(r)["id"])
}

type transferReq struct {
	TouristID    string `json:"touristId"`
	RestaurantID string `json:"restaurantId"`
	Amount       uint64 `json:"amount"`
}

// transferHandler submits a coin transfer and replies the transaction hash.
func (s *Server) transferHandler(rw http.ResponseWriter, r *http.Request) {
	var err error
	var pl interface{}
	defer func() { reply(rw, r, pl, err) }()

	var req transferReq
	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		err = errValidation(CodeInvalidRequest, "invalid JSON body: %v", err)
		return
	}
	var hash string
	if hash, err = s.c.Transfer(r.Context(), req.TouristID, req.RestaurantID, req.Amount); err == nil {
		pl = map[string]string{"txHash": hash}
	}
}

// balanceHandler replies the balance of the participant in the uri.
func (s *Server) balanceHandler(rw http.ResponseWriter, r *http.Request) {
	var err error
	var pl interface{}
	defer func() { reply(rw, r, pl, err) }()

	pl, err = s.c.Balance(r.Context(), mux.Vars(r)["id"])
}

// txHandler replies the indexed transaction details for the hash in the uri.
func (s *Server) txHandler(rw http.ResponseWriter, r *http.Request) {
	var err error
	var pl interface{}
	defer func() { reply(rw, r, pl, err) }()

	pl, err = s.c.GetTransaction(r.Context(), mux.Vars(r)["hash"])
}

// waitTxHandler blocks until the transaction turns terminal or the timeout elapses.
func (s *Server) waitTxHandler(rw http.ResponseWriter, r *http.Request) {
	var err error
	var pl interface{}
	defer func() { reply(rw, r, pl, err) }()

	timeoutMs := queryInt64(r, "timeout", 30000)
	pollMs := queryInt64(r, "poll", 2000)
	pl, err = s.c.WaitForTransaction(r.Context(), mux.Vars(r)["hash"], timeoutMs, pollMs)
}

// listTxsHandler replies the participant's transaction history, paginated.
func (s *Server) listTxsHandler(rw http.ResponseWriter, r *http.Request) {
	var err error
	var pl interface{}
	defer func() { reply(rw, r, pl, err) }()

	limit := int(queryInt64(r, "limit", 20))
	offset := int(queryInt64(r, "offset", 0))
	pl, err = s.c.ListTransactions(mux.Vars(r)["id"], limit, offset)
}

// estimateHandler replies a gas estimate for ?op=<operation>&amount=<n>.
func (s *Server) estimateHandler(rw http.ResponseWriter, r *http.Request) {
	var err error
	var pl interface{}
	defer func() { reply(rw, r, pl, err) }()

	amount := uint64(queryInt64(r, "amount", 0))
	pl, err = s.c.EstimateGas(r.Context(), r.URL.Query().Get("op"), amount)
}

// networkHandler replies the current network status.
func (s *Server) networkHandler(rw http.ResponseWriter, r *http.Request) {
	var err error
	var pl interface{}
	defer func() { reply(rw, r, pl, err) }()

	pl, err = s.c.NetworkStatus(r.Context())
}

// healthHandler replies 200 when the last probe was healthy and 503 otherwise, probing on demand when the
// monitor has no sample yet.
func (s *Server) healthHandler(rw http.ResponseWriter, r *http.Request) {
	sample, ok := s.mon.Monitor().LastSample()
	if !ok {
		sample = s.mon.Monitor().Probe(r.Context())
	}

	var res Response
	tmp, _ := json.Marshal(map[string]interface{}{
		"healthy": sample.Healthy,
		"monitor": s.mon.Status(),
		"block":   sample.Status.BlockNumber,
		"error":   sample.Err,
	})
	res.Body = string(tmp)

	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	if sample.Healthy {
		rw.WriteHeader(http.StatusOK)
	} else {
		rw.WriteHeader(http.StatusServiceUnavailable)
	}
	log.Printf("httpreq from %v %s healthy:%v\n", r.RemoteAddr, r.RequestURI, sample.Healthy)
	_ = json.NewEncoder(rw).Encode(&res)
}

// monitorStartHandler starts the monitor service.
func (s *Server) monitorStartHandler(rw http.ResponseWriter, r *http.Request) {
	var err error
	var pl interface{}
	defer func() { reply(rw, r, pl, err) }()

	if err = s.mon.Start(); err != nil {
		err = errBusinessRule(CodeInvalidRequest, "%v", err)
		return
	}
	pl = map[string]string{"status": s.mon.Status()}
}

// monitorStopHandler stops the monitor service.
func (s *Server) monitorStopHandler(rw http.ResponseWriter, r *http.Request) {
	var err error
	var pl interface{}
	defer func() { reply(rw, r, pl, err) }()

	s.mon.Stop()
	pl = map[string]string{"status": s.mon.Status()}
}

// monitorStatusHandler replies the monitor lifecycle state and its configuration.
func (s *Server) monitorStatusHandler(rw http.ResponseWriter, r *http.Request) {
	var err error
	var pl interface{}
	defer func() { reply(rw, r, pl, err) }()

	pl = s.mon.StatusInfo()
}

// systemMetricsHandler replies aggregated system metrics for ?hours=<n>.
func (s *Server) systemMetricsHandler(rw http.ResponseWriter, r *http.Request) {
	var err error
	var pl interface{}
	defer func() { reply(rw, r, pl, err) }()

	pl, err = s.mon.SystemMetrics(int(queryInt64(r, "hours", 24)))
}

// touristInsightsHandler replies tourist aggregates for ?days=<n>.
func (s *Server) touristInsightsHandler(rw http.ResponseWriter, r *http.Request) {
	var err error
	var pl interface{}
	defer func() { reply(rw, r, pl, err) }()

	pl, err = s.mon.TouristInsights(int(queryInt64(r, "days", 7)))
}

// rankingsHandler replies the restaurant earnings ranking for ?limit=<n>.
func (s *Server) rankingsHandler(rw http.ResponseWriter, r *http.Request) {
	var err error
	var pl interface{}
	defer func() { reply(rw, r, pl, err) }()

	pl, err = s.mon.RestaurantRankings(int(queryInt64(r, "limit", 0)))
}

type backfillReq struct {
	FromBlock uint64 `json:"fromBlock"`
	ToBlock   uint64 `json:"toBlock"` // zero means the current head
}

// backfillHandler indexes a historical block range and replies the number of records written.
func (s *Server) backfillHandler(rw http.ResponseWriter, r *http.Request) {
	var err error
	var pl interface{}
	defer func() { reply(rw, r, pl, err) }()

	var req backfillReq
	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		err = errValidation(CodeInvalidRequest, "invalid JSON body: %v", err)
		return
	}
	var indexed int
	if indexed, err = s.mon.Backfill(r.Context(), req.FromBlock, req.ToBlock); err != nil {
		err = errValidation(CodeInvalidRequest, "backfill failed: %v", err)
		return
	}
	pl = map[string]int{"indexed": indexed}
}

// queryInt64 parses an integer query parameter, falling back to def when absent or malformed.
func queryInt64(r *http.Request, key string, def int64) int64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return v
}
