package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clustermesh/groupcache"
	"github.com/clustermesh/groupcache/event"
	"github.com/clustermesh/groupcache/topology"
	"github.com/clustermesh/groupcache/transport/zmq"
)

// peerList is a flag.Value collecting "globalID=tcp://host:port" pairs, the
// same repeated-flag shape the teacher's endpoints type uses for
// -gossip-connect in cmd/monitor.
type peerList map[uint64]string

func (p peerList) String() string {
	return fmt.Sprint(map[uint64]string(p))
}

func (p peerList) Set(value string) error {
	for _, pair := range strings.Split(value, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return fmt.Errorf("peer %q: want globalID=endpoint", pair)
		}
		id, err := strconv.ParseUint(kv[0], 10, 64)
		if err != nil {
			return fmt.Errorf("peer %q: %w", pair, err)
		}
		p[id] = kv[1]
	}
	return nil
}

var (
	listen       = flag.String("listen", "tcp://*:5670", "ROUTER bind address for the event channel")
	metricsAddr  = flag.String("metrics", ":9090", "address to serve /metrics on")
	hostUID      = flag.Uint64("host-uid", 0, "this process's host UID (§6.3)")
	spGlobalID   = flag.Uint64("sp-global-id", 0, "this process's SP global ID, when acting as an SP")
	worldGroup   = flag.Uint("world-group", 0, "the distinguished world group UID")
	hostsList    = flag.String("hosts", "", "comma-separated host UIDs, in config_idx order")
	fallback     = flag.Bool("fallback-lookup", false, "enable the SP-side cache-entry-request fallback path")
	peers        = make(peerList)
	pollInterval = flag.Duration("poll-interval", 2*time.Millisecond, "how often to drive the transport and in-flight event queues")
)

func parseHosts(raw string) ([]uint64, error) {
	if raw == "" {
		return nil, errors.New("-hosts is required")
	}
	fields := strings.Split(raw, ",")
	uids := make([]uint64, len(fields))
	for i, f := range fields {
		id, err := strconv.ParseUint(strings.TrimSpace(f), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("host %d (%q): %w", i, f, err)
		}
		uids[i] = id
	}
	return uids, nil
}

func run() error {
	hostUIDs, err := parseHosts(*hostsList)
	if err != nil {
		return err
	}
	hostsConfig := topology.NewStaticHostsConfig(hostUIDs)

	conn, err := zmq.NewRouter(*hostUID, *listen)
	if err != nil {
		return fmt.Errorf("bind router: %w", err)
	}
	defer conn.Close()

	for id, addr := range peers {
		if err := conn.Connect(id, addr); err != nil {
			return fmt.Errorf("connect to peer %d at %s: %w", id, addr, err)
		}
	}

	groupcache.EnableFallbackLookup = *fallback

	ch := event.NewChannel(conn)
	conn.SetReceiveFunc(func(sourceID, typ uint64, header, payload []byte) {
		ch.Deliver(sourceID, event.Type(typ), header, payload)
	})

	eng := groupcache.NewEngine().
		SetHostUID(*hostUID).
		SetSPGlobalID(*spGlobalID).
		SetHostsConfig(hostsConfig).
		SetWorldGroup(uint32(*worldGroup))
	if err := eng.RegisterDefaults(ch); err != nil {
		return fmt.Errorf("register event handlers: %w", err)
	}

	prometheus.MustRegister(eng.MetricsCollector("groupcache"))
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
			log.Printf("W: metrics server stopped: %v", err)
		}
	}()

	log.Printf("groupcached: host_uid=%d sp_global_id=%d listening on %s, %d hosts configured",
		*hostUID, *spGlobalID, *listen, len(hostUIDs))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticker := time.NewTicker(*pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sig:
			log.Println("groupcached: shutting down")
			return nil
		case <-ticker.C:
			if err := conn.Progress(ctx); err != nil {
				log.Printf("W: transport progress: %v", err)
			}
			ch.Progress()
		}
	}
}

func main() {
	flag.Var(peers, "peer", "a peer SP as globalID=endpoint; repeatable or comma-separated")
	flag.Parse()

	if err := run(); err != nil {
		log.Fatalln(err)
	}
}
