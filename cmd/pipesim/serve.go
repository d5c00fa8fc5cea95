package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	persistlog "voxelpipes.ai/internal/persistence/log"
	"voxelpipes.ai/internal/sim/grid"
	"voxelpipes.ai/internal/sim/grid/memgrid"
	"voxelpipes.ai/internal/sim/pipeworld"
	"voxelpipes.ai/internal/sim/tuning"
	"voxelpipes.ai/internal/transport/observer"
	"voxelpipes.ai/internal/transport/ws"
)

var (
	addr       string   // HTTP listen address
	tuningPath string   // tuning.yaml, watched for changes
	scenePaths []string // Scene files, one world each
	dataDir    string   // Runtime data directory
	disableDB  bool     // Skip the sqlite/remote index
	instanceID string   // Identifies this process to a remote index
)

// serveCmd runs the pipe runtime with its HTTP surface
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipe simulation and serve observers",
	Run: func(cmd *cobra.Command, args []string) {
		log := logrus.StandardLogger()

		tune, err := tuning.Load(tuningPath)
		if err != nil {
			logrus.Fatalf("load tuning: %v", err)
		}

		host, err := loadScenes(scenePaths)
		if err != nil {
			logrus.Fatalf("load scenes: %v", err)
		}

		promReg := prometheus.NewRegistry()
		promReg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		archive, err := openArchive(dataDir, instanceID, log.WithField("component", "archive"))
		if err != nil {
			logrus.Fatalf("open archive: %v", err)
		}
		auditLog := persistlog.NewAuditLogger(dataDir)
		if archive != nil {
			// Closed after the audit log so the last hour is uploaded too.
			defer archive.Close()
			archive.RegisterMetrics(promReg)
			auditLog.OnRotate(archive.Enqueue)
		}
		defer auditLog.Close()

		idx, err := openRuntimeIndex(dataDir, instanceID, disableDB, tune, log.WithField("component", "index"))
		if err != nil {
			logrus.Fatalf("open index backend: %v", err)
		}
		if idx != nil {
			defer idx.Close()
		}

		rt, err := pipeworld.New(tune, host,
			pipeworld.WithLogger(log.WithField("component", "pipeworld")),
			pipeworld.WithMetrics(promReg),
			pipeworld.WithAuditLogger(auditLog),
		)
		if err != nil {
			logrus.Fatalf("pipe runtime: %v", err)
		}
		defer rt.Close()
		if idx != nil {
			rt.AddAuditLogger(idx)
		}

		obs := observer.NewServer(rt.Registry(), rt, log.WithField("component", "observer"))
		obs.RegisterMetrics(promReg)
		rt.AddAuditLogger(obs)
		admin := ws.NewServer(rt, host, log.WithField("component", "admin"))

		// Loaded chunks announce their networks the way a host does at startup.
		for _, id := range host.IDs() {
			n := 0
			for _, k := range host.Grid(id).LoadedChunkKeys() {
				n += rt.HandleEvent(pipeworld.ChunkLoaded(id, k.CX, k.CZ))
			}
			log.WithFields(logrus.Fields{"world": id, "rescans": n}).Info("world loaded")
		}

		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
			rw.WriteHeader(200)
			_, _ = rw.Write([]byte("ok"))
		})
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		mux.HandleFunc("/v1/networks", obs.NetworksHandler())
		mux.HandleFunc("/v1/observe", obs.WSHandler())
		mux.HandleFunc("/v1/admin", admin.Handler())
		mux.HandleFunc("/admin/v1/unload", unloadHandler(rt, host, log))
		mux.HandleFunc("/admin/v1/rescan", rescanHandler(rt))

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return rt.Run(gctx) })
		g.Go(func() error {
			log.WithField("addr", addr).Info("listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		if tuningPath != "" {
			g.Go(func() error {
				return tuning.Watch(gctx, tuningPath, func(t tuning.Tuning, err error) {
					if err != nil {
						log.WithError(err).Warn("tuning reload rejected")
						return
					}
					if err := rt.UpdateTuning(t); err != nil {
						log.WithError(err).Warn("tuning reload rejected")
					}
				})
			})
		}

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			logrus.Fatalf("serve: %v", err)
		}
		log.Info("stopped")
	},
}

func init() {
	serveCmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "HTTP listen address")
	serveCmd.Flags().StringVar(&tuningPath, "tuning", "", "Path to tuning.yaml (defaults when empty)")
	serveCmd.Flags().StringSliceVar(&scenePaths, "scene", nil, "Scene yaml to load as a world (repeatable)")
	serveCmd.Flags().StringVar(&dataDir, "data", "./data", "Runtime data directory")
	serveCmd.Flags().BoolVar(&disableDB, "disable-db", false, "Disable the transfer/rescan index")
	serveCmd.Flags().StringVar(&instanceID, "instance", hostnameOr("pipesim"), "Instance id reported to a remote index")
}

// loadScenes builds one world per scene file. With no scenes an empty
// "overworld" is loaded so admin edits have somewhere to go.
func loadScenes(paths []string) (*memgrid.Host, error) {
	host := memgrid.NewHost()
	for _, p := range paths {
		sc, err := memgrid.LoadScene(p)
		if err != nil {
			return nil, err
		}
		g, err := sc.Build(nil)
		if err != nil {
			return nil, err
		}
		if host.Grid(g.ID()) != nil {
			return nil, errors.New("duplicate world id " + g.ID() + " in " + p)
		}
		host.Load(g)
	}
	if len(host.IDs()) == 0 {
		host.Load(memgrid.New("overworld", nil))
	}
	return host, nil
}

func unloadHandler(rt *pipeworld.Runtime, host *memgrid.Host, log logrus.FieldLogger) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		id := strings.TrimSpace(r.URL.Query().Get("world"))
		found := false
		if err := rt.Exec(r.Context(), func(grid.Host) {
			if found = host.Grid(id) != nil; found {
				host.Unload(id)
			}
		}); err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
		if !found {
			http.Error(rw, "world not loaded", http.StatusNotFound)
			return
		}
		rt.Shutdown(id)
		log.WithField("world", id).Info("world unloaded")
		rw.WriteHeader(http.StatusNoContent)
	}
}

func rescanHandler(rt *pipeworld.Runtime) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		var body struct {
			WorldID string `json:"world_id"`
			Pos     [3]int `json:"pos"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(rw, "bad json", http.StatusBadRequest)
			return
		}
		if !rt.RescanAt(grid.At(body.WorldID, body.Pos[0], body.Pos[1], body.Pos[2])) {
			http.Error(rw, "world not loaded", http.StatusNotFound)
			return
		}
		rw.WriteHeader(http.StatusAccepted)
	}
}

func hostnameOr(def string) string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return def
	}
	return h
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
