package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/dataplane/pkg/catalogue"
	"github.com/cuemby/dataplane/pkg/catalogue/boltcat"
	"github.com/cuemby/dataplane/pkg/codec"
	"github.com/cuemby/dataplane/pkg/codec/arrowcodec"
	"github.com/cuemby/dataplane/pkg/codec/csvcodec"
	"github.com/cuemby/dataplane/pkg/codec/jsoncodec"
	"github.com/cuemby/dataplane/pkg/config"
	"github.com/cuemby/dataplane/pkg/dataplane"
	"github.com/cuemby/dataplane/pkg/health"
	"github.com/cuemby/dataplane/pkg/log"
	"github.com/cuemby/dataplane/pkg/metrics"
	"github.com/cuemby/dataplane/pkg/orphan"
	"github.com/cuemby/dataplane/pkg/registry"
	"github.com/cuemby/dataplane/pkg/security"
	"github.com/cuemby/dataplane/pkg/storagebackend"
	"github.com/cuemby/dataplane/pkg/storagebackend/localfs"
	"github.com/cuemby/dataplane/pkg/types"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the data-plane server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if level, _ := cmd.Flags().GetString("log-level"); level == "" {
		logJSON, _ := cmd.Flags().GetBool("log-json")
		log.Init(log.Config{Level: cfg.LogLevel, JSONOutput: logJSON})
	}

	cat, err := boltcat.Open(cfg.CataloguePath)
	if err != nil {
		return fmt.Errorf("open catalogue: %w", err)
	}
	defer cat.Close()

	instrumented := catalogue.Instrumented{Client: cat, Observe: metrics.ObserveCatalogue}

	backendFactory := func(tenant, key string, rc registry.ResourceConfig) (storagebackend.Backend, error) {
		switch rc.Kind {
		case "localfs", "":
			dir := rc.Options["base_dir"]
			if dir == "" {
				dir = fmt.Sprintf("data/%s/%s", tenant, key)
			}
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create storage dir %s: %w", dir, err)
			}
			return localfs.New(dir), nil
		default:
			return nil, fmt.Errorf("unknown storage backend kind %q", rc.Kind)
		}
	}

	reg := registry.New(backendFactory, log.WithComponent("registry"))

	tenantCfg, err := registry.LoadFileConfig(cfg.TenantConfigPath)
	if err != nil {
		return fmt.Errorf("load tenant config: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := reg.Bootstrap(ctx, tenantCfg); err != nil {
		return fmt.Errorf("bootstrap registry: %w", err)
	}
	metrics.RegistryTenants.Set(float64(len(tenantCfg.Tenants)))

	codecs := codec.NewRegistry(csvcodec.New(), jsoncodec.New(), arrowcodec.New())

	orphans := orphan.NewBroker()
	orphans.Start()
	defer orphans.Stop()

	svc := dataplane.New(instrumented, reg, codecs, orphans, log.WithComponent("dataplane"))

	auth := security.NewTokenAuthenticator()
	go runTokenExpirySweep(ctx, auth)

	monitor := buildHealthMonitor(cat, tenantCfg)
	monitor.Start()
	defer monitor.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", healthzHandler(monitor))
	mux.HandleFunc("/admin/tokens", issueTokenHandler(auth, time.Duration(cfg.TokenTTLSeconds)*time.Second))

	httpServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	log.Info(fmt.Sprintf("dataplaned listening: metrics/health on %s, data-plane service ready at %s", cfg.MetricsAddr, cfg.ListenAddr))
	// The RPC transport that would accept create/update/read requests on
	// ListenAddr and drive svc is out of scope for this module (§1); svc is
	// fully wired and ready for one to be attached.
	_ = svc

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.Info("shutting down")
	case err := <-errCh:
		log.Errorf("http server error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	reg.Shutdown(shutdownCtx)
	return nil
}

// runTokenExpirySweep periodically drops expired grants so the in-memory
// table never grows unbounded across a long-lived process.
func runTokenExpirySweep(ctx context.Context, auth *security.TokenAuthenticator) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			auth.CleanupExpired()
		case <-ctx.Done():
			return
		}
	}
}

// issueTokenHandler mints a bearer token for a tenant, for operator
// bootstrap use; the data-plane transport itself authenticates every
// subsequent request via auth.Authenticate.
func issueTokenHandler(auth *security.TokenAuthenticator, ttl time.Duration) http.HandlerFunc {
	type request struct {
		Tenant string   `json:"tenant"`
		Scopes []string `json:"scopes"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		grant, err := auth.IssueToken(types.Principal{Tenant: req.Tenant, Scopes: req.Scopes}, ttl)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"token":      grant.Token,
			"expires_at": grant.ExpiresAt.Format(time.RFC3339),
		})
	}
}

// catalogueChecker adapts a single cheap catalogue lookup into a
// health.Checker: PreallocateBatch with a nil batch touches bbolt's write
// path without creating anything, so a healthy result means the catalogue
// can actually take writes, not just that the process is up.
type catalogueChecker struct {
	cat *boltcat.Catalogue
}

func (c catalogueChecker) Type() health.CheckType { return health.CheckTypeTCP }

func (c catalogueChecker) Check(ctx context.Context) health.Result {
	start := time.Now()
	_, err := c.cat.PreallocateBatch(ctx, "__healthz__", nil)
	result := health.Result{CheckedAt: start, Duration: time.Since(start)}
	if err != nil {
		result.Healthy = false
		result.Message = err.Error()
		return result
	}
	result.Healthy = true
	return result
}

// buildHealthMonitor registers the catalogue plus one HTTP or TCP checker
// per tenant storage resource that declares a health_check block in the
// static tenant config (e.g. the NFS server or object store a localfs
// mount is backed by). The catalogue is always checked; resource checks
// are opt-in since most localfs dirs are local disk with nothing to probe.
func buildHealthMonitor(cat *boltcat.Catalogue, tenantCfg *registry.FileConfig) *health.Monitor {
	monitor := health.NewMonitor()
	monitor.Add("catalogue", catalogueChecker{cat: cat}, health.DefaultConfig())

	for tenantCode, tc := range tenantCfg.Tenants {
		for resourceKey, rc := range tc.Resources {
			if rc.HealthCheck == nil {
				continue
			}
			checker, err := buildResourceChecker(*rc.HealthCheck)
			if err != nil {
				log.Errorf(fmt.Sprintf("skipping health check for %s/%s", tenantCode, resourceKey), err)
				continue
			}
			name := fmt.Sprintf("%s/%s", tenantCode, resourceKey)
			monitor.Add(name, checker, resourceHealthConfig(rc.HealthCheck))
		}
	}
	return monitor
}

func buildResourceChecker(hc registry.HealthCheckConfig) (health.Checker, error) {
	switch hc.Type {
	case "http":
		return health.NewHTTPChecker(hc.Target), nil
	case "tcp":
		return health.NewTCPChecker(hc.Target), nil
	default:
		return nil, fmt.Errorf("unsupported health_check type %q", hc.Type)
	}
}

func resourceHealthConfig(hc *registry.HealthCheckConfig) health.Config {
	cfg := health.DefaultConfig()
	if hc.IntervalSeconds > 0 {
		cfg.Interval = time.Duration(hc.IntervalSeconds) * time.Second
	}
	if hc.TimeoutSeconds > 0 {
		cfg.Timeout = time.Duration(hc.TimeoutSeconds) * time.Second
	}
	if hc.Retries > 0 {
		cfg.Retries = hc.Retries
	}
	return cfg
}

func healthzHandler(monitor *health.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := monitor.Snapshot()
		dependencies := make(map[string]interface{}, len(snapshot))
		for name, status := range snapshot {
			dependencies[name] = map[string]interface{}{
				"healthy":              status.Healthy,
				"consecutive_failures": status.ConsecutiveFailures,
				"last_check":           status.LastCheck,
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if !monitor.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"healthy":      monitor.Healthy(),
			"dependencies": dependencies,
		})
	}
}
