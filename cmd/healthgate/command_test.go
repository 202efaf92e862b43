package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	healthgate "github.com/JohnPlummer/jp-go-healthgate"
	"github.com/JohnPlummer/jp-go-healthgate/config"
)

var _ = Describe("healthgate command", func() {
	var defaultLogger *slog.Logger

	BeforeEach(func() {
		defaultLogger = slog.Default()
		DeferCleanup(func() { slog.SetDefault(defaultLogger) })
	})

	writeConfig := func(v any) string {
		data, err := json.Marshal(v)
		Expect(err).NotTo(HaveOccurred())
		path := filepath.Join(GinkgoT().TempDir(), "healthgate.json")
		Expect(os.WriteFile(path, data, 0o600)).To(Succeed())
		return path
	}

	Describe("newLogger", func() {
		It("should write JSON at the configured level", func() {
			var out bytes.Buffer
			logger, closeLog, err := newLogger(config.LogConfig{Level: "warn"}, &out)
			Expect(err).NotTo(HaveOccurred())
			defer closeLog()

			logger.Info("hidden")
			logger.Warn("shown", "service", "auth")

			Expect(out.String()).NotTo(ContainSubstring("hidden"))
			var line map[string]any
			Expect(json.Unmarshal(out.Bytes(), &line)).To(Succeed())
			Expect(line).To(HaveKeyWithValue("msg", "shown"))
			Expect(line).To(HaveKeyWithValue("service", "auth"))
		})

		It("should copy output to a rotating log file", func() {
			file := filepath.Join(GinkgoT().TempDir(), "healthgate.log")
			var out bytes.Buffer

			logger, closeLog, err := newLogger(config.LogConfig{
				Level:      "info",
				File:       file,
				MaxSizeMB:  1,
				MaxBackups: 1,
			}, &out)
			Expect(err).NotTo(HaveOccurred())

			logger.Info("written to both")
			closeLog()

			data, err := os.ReadFile(file)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring("written to both"))
			Expect(out.String()).To(ContainSubstring("written to both"))
		})
	})

	Describe("check", func() {
		It("should print the aggregate document for static services", func() {
			server := ghttp.NewServer()
			defer server.Close()
			server.RouteToHandler(http.MethodGet, "/health", ghttp.RespondWith(http.StatusOK, `{"status":"ok"}`))

			path := writeConfig(map[string]any{
				"services": map[string]string{"auth": server.URL()},
				"log":      map[string]any{"level": "error"},
			})

			var out bytes.Buffer
			cmd := newRootCmd()
			cmd.SetOut(&out)
			cmd.SetErr(&bytes.Buffer{})
			cmd.SetArgs([]string{"check", "--config", path})

			Expect(cmd.ExecuteContext(context.Background())).To(Succeed())

			var response healthgate.AggregateHealthResponse
			Expect(json.Unmarshal(out.Bytes(), &response)).To(Succeed())
			Expect(response.Status).To(Equal(healthgate.OverallHealthy))
			Expect(response.Services).To(HaveKey("auth"))
		})

		It("should fail with --exit-code when the group is not healthy", func() {
			path := writeConfig(map[string]any{
				"log": map[string]any{"level": "error"},
			})

			cmd := newRootCmd()
			cmd.SetOut(&bytes.Buffer{})
			cmd.SetErr(&bytes.Buffer{})
			cmd.SetArgs([]string{"check", "--config", path, "--exit-code"})

			Expect(cmd.ExecuteContext(context.Background())).To(MatchError("service group is degraded"))
		})
	})

	Describe("build", func() {
		It("should resolve services from Redis instead of the static map", func() {
			mr, err := miniredis.Run()
			Expect(err).NotTo(HaveOccurred())
			defer mr.Close()
			Expect(mr.Set("edge/services/auth/full_url", "https://auth.dynamic")).To(Succeed())

			cfg := config.Default()
			cfg.Services = map[string]string{"auth": "http://auth.static", "billing": "http://billing.static"}
			cfg.Source.Kind = config.SourceRedis
			cfg.Source.Prefix = "edge/services"
			cfg.Source.RedisURL = "redis://" + mr.Addr()

			gw, err := build(context.Background(), &cfg, slog.New(slog.DiscardHandler))
			Expect(err).NotTo(HaveOccurred())
			defer gw.Close()

			Expect(healthgate.URLs(gw.resolver.ResolveAll(context.Background()))).To(Equal(map[string]string{
				"auth": "https://auth.dynamic",
			}))
		})

		It("should fall back to the static map when Consul is unreachable", func() {
			cfg := config.Default()
			cfg.Services = map[string]string{"auth": "http://auth.static"}
			cfg.Source.Kind = config.SourceConsul
			cfg.Source.Prefix = "edge/services"
			cfg.Source.ConsulAddr = "http://127.0.0.1:1"
			cfg.Source.MaxAttempts = 1

			gw, err := build(context.Background(), &cfg, slog.New(slog.DiscardHandler))
			Expect(err).NotTo(HaveOccurred())
			defer gw.Close()

			Expect(healthgate.URLs(gw.resolver.ResolveAll(context.Background()))).To(Equal(map[string]string{
				"auth": "http://auth.static",
			}))
		})
	})
})
