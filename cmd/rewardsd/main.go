// package main: rewards daemon
//
// rewardsd serves the travel rewards RESTful API and runs the network monitoring service.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tourcoin/tourcoin/indexer"
	"github.com/tourcoin/tourcoin/lib/config"
	"github.com/tourcoin/tourcoin/lib/ledger"
	"github.com/tourcoin/tourcoin/lib/ledger/ethereum"
	"github.com/tourcoin/tourcoin/lib/msg"
	"github.com/tourcoin/tourcoin/lib/msg/amqp"
	"github.com/tourcoin/tourcoin/lib/store/db"
	"github.com/tourcoin/tourcoin/lib/util"
	"github.com/tourcoin/tourcoin/monitor"
	"github.com/tourcoin/tourcoin/rewards"
)

func main() {
	// get command line flags
	confPath := flag.String("c", "", "flag to get configuration from json file")
	promFlag := flag.Bool("m", false, "flag to expose Prometheus metrics at http://localhost:9100/metrics")
	flag.Parse()

	// extract configuration
	var err error
	var conf config.ServiceConfig
	if conf, err = config.ExtractConfiguration(*confPath); err != nil {
		panic(err)
	}
	log.Printf("Configuration:%+v", conf)

	// connect to database
	dbConn, err := db.New(conf.DBType, conf.DBConn)
	if err != nil {
		panic(err)
	}

	// connect to the ledger node
	var lg ledger.Client
	if conf.Node == "mock" {
		// development mode, no node required
		ml := ledger.NewMockLedger()
		ml.DailyAmount = conf.DailyAmount
		lg = ml
	} else {
		if lg, err = ethereum.New(context.Background(), conf.Node, conf.Contract, conf.Network); err != nil {
			panic(err)
		}
	}
	log.Printf("Ledger client connected to %s", conf.Node)

	// load Prometheus metrics endpoint
	metrics := monitor.NewMetrics(prometheus.DefaultRegisterer)
	if *promFlag {
		go func() {
			log.Println("Serving metrics API")
			h := http.NewServeMux()
			h.Handle("/metrics", promhttp.Handler())
			_ = http.ListenAndServe(":9100", h)
		}()
	}

	// load message broker
	var mb msg.MsgBroker
	switch conf.MbType {
	case "amqp":
		if mb, err = amqp.New(conf.MbConn); err != nil {
			time.Sleep(10 * time.Second) // wait 10s for AMQP to be ready and try to reconnect
			if mb, err = amqp.New(conf.MbConn); err != nil {
				panic(err)
			}
		}
		if err = mb.Setup(); err != nil {
			panic(err)
		}
		defer func() {
			err := mb.Close()
			log.Printf("Closing messageBroker: %e", err)
		}()
	case "":
		log.Print("No message broker configured, alerts go to the log, the webhook and the DB only")
	default:
		log.Printf("Unknown message broker type: %s\n", conf.MbType)
	}

	// assemble the services
	ix := indexer.New(dbConn, lg, conf.Network, conf.BackfillChunk)
	mon := monitor.New(dbConn, lg, ix, mb, monitor.Config{
		Network:        conf.Network,
		WebhookURL:     conf.WebhookURL,
		GasAlertWei:    util.GweiToWei(conf.GasAlertGwei),
		HealthInterval: time.Duration(conf.HealthIntervalMs) * time.Millisecond,
		ResponseBudget: time.Duration(conf.ResponseBudgetMs) * time.Millisecond,
		UnhealthyAfter: conf.UnhealthyAfter,
	}, metrics)
	if err = mon.Start(); err != nil {
		panic(err)
	}

	c := rewards.NewClient(dbConn, lg, ix, conf.DailyAmount, conf.DailyCap)
	s := rewards.NewServer(c, mon)

	// capture CTRL+C or docker's SIGTERM for gracious exit
	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		log.Println("Program killed !")
		s.Stop()
	}()

	// serve the API, blocking until shutdown
	log.Printf("%s", s.Init(conf.RestfulEndpoint, conf.Port, conf.SSLPort, conf.SSLCert, conf.SSLKey))

	lg.Close()
	if err = db.Close(conf.DBType, dbConn); err != nil {
		log.Printf("Disconnecting %v database, err:%e\n", conf.DBType, err)
	}
}
