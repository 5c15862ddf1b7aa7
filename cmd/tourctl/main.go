// package main: tourctl
//
// tourctl is the operational command line for a running rewards daemon. It talks to the daemon's RESTful API
// and exits non-zero when the daemon is unreachable, the command fails or the network is unhealthy.
//
// Usage:
//
//	tourctl [-s http://localhost:3030] <command> [flags]
//
// Commands: start [-daemon], stop, status, health, metrics [-hours n], insights [-days n],
// rankings [-limit n], backfill -from-block n [-to-block n], transaction <hash> [-wait] [-timeout ms].
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// response mirrors the daemon's reply envelope.
type response struct {
	Body  string `json:"body"`
	Error string `json:"error,omitempty"`
	Kind  string `json:"kind,omitempty"`
	Code  string `json:"code,omitempty"`
}

func main() {
	server := flag.String("s", envOr("TRC_SERVER", "http://localhost:3030"), "rewards daemon base URL")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	cli := &client{base: *server, httpc: &http.Client{Timeout: 60 * time.Second}, sigc: make(chan os.Signal, 1)}
	signal.Notify(cli.sigc, os.Interrupt, syscall.SIGTERM)

	var err error
	switch cmd := args[0]; cmd {
	case "start":
		fs := flag.NewFlagSet("start", flag.ExitOnError)
		daemon := fs.Bool("daemon", false, "return immediately, leaving the monitor running")
		_ = fs.Parse(args[1:])
		err = cli.start(*daemon)
	case "stop":
		err = cli.simple(http.MethodPost, "/monitor/stop", nil)
	case "status":
		err = cli.simple(http.MethodGet, "/monitor/status", nil)
	case "health":
		err = cli.health()
	case "metrics":
		fs := flag.NewFlagSet("metrics", flag.ExitOnError)
		hours := fs.Int("hours", 24, "aggregation window in hours")
		_ = fs.Parse(args[1:])
		err = cli.simple(http.MethodGet, fmt.Sprintf("/metrics/system?hours=%d", *hours), nil)
	case "insights":
		fs := flag.NewFlagSet("insights", flag.ExitOnError)
		days := fs.Int("days", 7, "aggregation window in days")
		_ = fs.Parse(args[1:])
		err = cli.simple(http.MethodGet, fmt.Sprintf("/insights/tourists?days=%d", *days), nil)
	case "rankings":
		fs := flag.NewFlagSet("rankings", flag.ExitOnError)
		limit := fs.Int("limit", 10, "number of restaurants to list, 0 for all")
		_ = fs.Parse(args[1:])
		err = cli.simple(http.MethodGet, fmt.Sprintf("/rankings/restaurants?limit=%d", *limit), nil)
	case "backfill":
		fs := flag.NewFlagSet("backfill", flag.ExitOnError)
		from := fs.Uint64("from-block", 0, "first block to scan (required)")
		to := fs.Uint64("to-block", 0, "last block to scan, 0 for the current head")
		_ = fs.Parse(args[1:])
		if *from == 0 {
			err = fmt.Errorf("backfill requires -from-block")
			break
		}
		err = cli.simple(http.MethodPost, "/backfill",
			map[string]uint64{"fromBlock": *from, "toBlock": *to})
	case "transaction":
		fs := flag.NewFlagSet("transaction", flag.ExitOnError)
		wait := fs.Bool("wait", false, "block until the transaction turns terminal")
		timeoutMs := fs.Int64("timeout", 30000, "wait timeout in milliseconds")
		_ = fs.Parse(args[1:])
		if fs.NArg() != 1 {
			err = fmt.Errorf("transaction requires exactly one hash")
			break
		}
		uri := "/tx/" + fs.Arg(0)
		if *wait {
			uri += fmt.Sprintf("/wait?timeout=%d", *timeoutMs)
		}
		err = cli.simple(http.MethodGet, uri, nil)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: tourctl [-s server] <command> [flags]

commands:
  start [-daemon]            start the monitoring service; without -daemon, stay in the
                             foreground until interrupted and stop it again
  stop                       stop the monitoring service
  status                     monitoring service state
  health                     network health, exits 1 when unhealthy
  metrics [-hours n]         aggregated system metrics
  insights [-days n]         tourist activity insights
  rankings [-limit n]        restaurant earnings ranking
  backfill -from-block n [-to-block n]
                             index a historical block range
  transaction <hash> [-wait] [-timeout ms]
                             show (or wait for) a transaction
`)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

type client struct {
	base  string
	httpc *http.Client
	sigc  chan os.Signal
}

// start turns the monitoring service on. Without daemon it stays in the foreground until interrupted and then
// stops the monitor again on the way out.
func (c *client) start(daemon bool) error {
	if err := c.simple(http.MethodPost, "/monitor/start", nil); err != nil {
		return err
	}
	if daemon {
		return nil
	}
	<-c.sigc
	return c.simple(http.MethodPost, "/monitor/stop", nil)
}

// call performs one API request and returns the decoded envelope with its HTTP status.
func (c *client) call(method, uri string, obj interface{}) (response, int, error) {
	var body bytes.Reader
	if obj != nil {
		tmp, err := json.Marshal(obj)
		if err != nil {
			return response{}, 0, err
		}
		body = *bytes.NewReader(tmp)
	}

	req, err := http.NewRequest(method, c.base+uri, &body)
	if err != nil {
		return response{}, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return response{}, 0, fmt.Errorf("cannot reach the rewards daemon at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	raw, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return response{}, resp.StatusCode, err
	}
	var res response
	if err = json.Unmarshal(raw, &res); err != nil {
		return response{}, resp.StatusCode, fmt.Errorf("invalid reply: %s", raw)
	}
	return res, resp.StatusCode, nil
}

// simple runs a command that prints the reply body and fails on any API error.
func (c *client) simple(method, uri string, obj interface{}) error {
	res, status, err := c.call(method, uri, obj)
	if err != nil {
		return err
	}
	if res.Error != "" || status >= 300 {
		return fmt.Errorf("%s (%s %s)", res.Error, res.Kind, res.Code)
	}
	fmt.Println(prettify(res.Body))
	return nil
}

// health prints the health reply and exits 1 through its error when the network is unhealthy.
func (c *client) health() error {
	res, status, err := c.call(http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	fmt.Println(prettify(res.Body))
	if status != http.StatusOK {
		return fmt.Errorf("network unhealthy")
	}
	return nil
}

// prettify re-indents the JSON body for terminal output, returning it untouched when it is not JSON.
func prettify(body string) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(body), "", "  "); err != nil {
		return body
	}
	return buf.String()
}
