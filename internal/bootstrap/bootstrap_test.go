package bootstrap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adverant/nexus/voterroll-worker/internal/cells"
	"github.com/adverant/nexus/voterroll-worker/internal/config"
	"github.com/adverant/nexus/voterroll-worker/internal/grid"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("OCR_ENGINE", config.EngineTesseract)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	cfg, err := config.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	return cfg
}

func TestDefaultCalibration(t *testing.T) {
	cfg := testConfig(t)

	if got := GridParams(cfg); got != grid.DefaultParams() {
		t.Errorf("GridParams() = %+v, want %+v", got, grid.DefaultParams())
	}
	if got := CellParams(cfg); got != cells.DefaultParams() {
		t.Errorf("CellParams() = %+v, want %+v", got, cells.DefaultParams())
	}

	g := GuardConfig(cfg)
	if g.Timeout != 30*time.Second || g.MaxRetries != 3 {
		t.Errorf("GuardConfig() = %+v", g)
	}
}

func TestCalibrationOverrides(t *testing.T) {
	t.Setenv("BINARY_THRESHOLD", "180")
	t.Setenv("LINE_KERNEL_LENGTH", "60")
	t.Setenv("DEDUP_RADIUS", "20")
	cfg := testConfig(t)

	if g := GridParams(cfg); g.Threshold != 180 || g.KernelLength != 60 {
		t.Errorf("GridParams() = %+v", g)
	}
	if c := CellParams(cfg); c.DedupRadius != 20 || c.MinWidth != 200 {
		t.Errorf("CellParams() = %+v", c)
	}
}

func TestNewEngine(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		mutate   func(*config.Config)
		wantName string
		wantErr  bool
	}{
		{
			name:     "tesseract",
			mutate:   func(c *config.Config) {},
			wantName: "tesseract",
		},
		{
			name: "remote",
			mutate: func(c *config.Config) {
				c.OCREngine = config.EngineRemote
				c.OCRServiceURL = "http://localhost:9099"
			},
			wantName: "remote",
		},
		{
			name: "google without credentials",
			mutate: func(c *config.Config) {
				c.OCREngine = config.EngineGoogle
				c.GoogleCredentialsJSON = ""
			},
			wantErr: true,
		},
		{
			name:    "unknown",
			mutate:  func(c *config.Config) { c.OCREngine = "abbyy" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)

			engine, closeFn, err := NewEngine(ctx, cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("NewEngine() expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewEngine() error = %v", err)
			}
			if closeFn != nil {
				defer closeFn()
			}
			if engine.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", engine.Name(), tt.wantName)
			}
		})
	}
}

func TestNewEngineChecksRemoteService(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusServiceUnavailable} {
		var hits int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/health" {
				atomic.AddInt32(&hits, 1)
			}
			w.WriteHeader(status)
		}))

		cfg := testConfig(t)
		cfg.OCREngine = config.EngineRemote
		cfg.OCRServiceURL = srv.URL

		engine, _, err := NewEngine(context.Background(), cfg)
		srv.Close()
		if err != nil {
			t.Fatalf("NewEngine() with health status %d error = %v", status, err)
		}
		if engine.Name() != "remote" {
			t.Errorf("Name() = %q", engine.Name())
		}
		if atomic.LoadInt32(&hits) != 1 {
			t.Errorf("health endpoint hit %d times, want 1", hits)
		}
	}
}

func TestBuildWithoutStore(t *testing.T) {
	cfg := testConfig(t)

	p, err := Build(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer p.Close()

	if p.Processor == nil {
		t.Fatal("Processor is nil")
	}
	if p.Store != nil {
		t.Error("Store should be nil without DATABASE_URL")
	}
}
