// Command smoke probes a running deployment: liveness, readiness, one public
// data route and the gRPC health service. It stops at the first failure.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"ecompulse.app/internal/obs"
)

type check struct {
	name string
	run  func(ctx context.Context) error
}

func main() {
	var (
		baseURL  = flag.String("url", envOr("ECOMPULSE_SMOKE_URL", "http://localhost:8080"), "HTTP base URL")
		grpcAddr = flag.String("grpc", envOr("ECOMPULSE_SMOKE_GRPC", "localhost:9090"), "gRPC address, empty to skip")
		data     = flag.Bool("data", true, "Also query /api/taxonomy-tree")
		timeout  = flag.Duration("timeout", 10*time.Second, "Per-check deadline")
	)
	flag.Parse()

	checks := httpChecks(http.DefaultClient, strings.TrimRight(*baseURL, "/"), *data)
	if *grpcAddr != "" {
		checks = append(checks, grpcCheck(*grpcAddr))
	}
	if err := runChecks(context.Background(), checks, *timeout); err != nil {
		obs.Logger().Fatal("smoke failed", zap.Error(err))
	}
	fmt.Printf("smoke passed: %d checks against %s\n", len(checks), *baseURL)
}

func runChecks(ctx context.Context, checks []check, timeout time.Duration) error {
	for _, c := range checks {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		err := c.run(cctx)
		cancel()
		if err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
		obs.Logger().Info("check passed", zap.String("check", c.name), zap.Duration("took", time.Since(start)))
	}
	return nil
}

func httpChecks(hc *http.Client, base string, data bool) []check {
	checks := []check{
		{"healthz", expectJSON(hc, base+"/healthz", func(body map[string]any) error {
			if body["status"] != "ok" {
				return fmt.Errorf("status %v", body["status"])
			}
			return nil
		})},
		{"readyz", expectJSON(hc, base+"/readyz", nil)},
	}
	if data {
		checks = append(checks, check{"taxonomy-tree", expectJSON(hc, base+"/api/taxonomy-tree", nil)})
	}
	return checks
}

// expectJSON requires a 200 answer with a JSON object or array body.
func expectJSON(hc *http.Client, url string, verify func(map[string]any) error) func(context.Context) error {
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := hc.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		var v any
		if err := json.Unmarshal(body, &v); err != nil {
			return fmt.Errorf("decode body: %w", err)
		}
		if verify == nil {
			return nil
		}
		obj, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("expected a JSON object")
		}
		return verify(obj)
	}
}

func grpcCheck(addr string) check {
	return check{"grpc-health", func(ctx context.Context) error {
		conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return err
		}
		defer conn.Close()
		resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
		if err != nil {
			return err
		}
		if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			return fmt.Errorf("status %s", resp.GetStatus())
		}
		return nil
	}}
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
