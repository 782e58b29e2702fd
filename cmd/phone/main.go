// Бинарник phone поднимает клиентское ядро звонков: регистрируется
// на регистраторе, принимает входящие вызовы и по флагу набирает номер.
// Принятое аудио пишется PCM кадрами в файл или пайп.
package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arzzra/phone/pkg/mediabridge"
	"github.com/arzzra/phone/pkg/phone"
	"github.com/arzzra/phone/pkg/sipstack"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "Путь к конфигурации")
		call       = flag.String("call", "", "Номер для исходящего вызова")
		debug      = flag.Bool("debug", false, "Отладочный лог и трассировка SIP")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("config load failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	level := slog.LevelInfo
	if *debug || cfg.Debug {
		level = slog.LevelDebug
		sip.SIPDebug = true
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	metrics := phone.NewMetrics(reg)
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, reg, logger)
	}

	audioOut, closeAudio, err := openAudioOut(cfg.AudioOut)
	if err != nil {
		logger.Error("audio out open failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer closeAudio()

	factory := sipstack.Factory(
		sipstack.WithListenAddr(cfg.ListenHost, cfg.ListenPort),
		sipstack.WithUserAgent(cfg.UserAgent),
		sipstack.WithExpires(cfg.Expires),
		sipstack.WithLogger(logger),
	)

	conn := phone.NewConnection(factory,
		phone.WithConnectionLogger(logger),
		phone.WithConnectionMetrics(metrics),
	)
	bridge := mediabridge.NewBridge(mediabridge.WithLogger(logger))
	sink := mediabridge.NewWriterSink(audioOut)
	sess := phone.NewSession(conn, bridge, sink,
		phone.WithSessionLogger(logger),
		phone.WithSessionMetrics(metrics),
	)

	phoneCfg := phone.Config{
		Registrar:   cfg.Registrar,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DisplayName: cfg.DisplayName,
	}
	if err := conn.Connect(ctx, phoneCfg, sess.HandleIncoming); err != nil {
		logger.Error("connect failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("registered", slog.String("registrar", cfg.Registrar))

	if *call != "" {
		if err := sess.Originate(ctx, *call); err != nil {
			logger.Error("originate failed", slog.String("error", err.Error()))
		} else {
			logger.Info("calling", slog.String("number", *call))
		}
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := sess.Terminate(shutdownCtx); err != nil {
		logger.Error("terminate failed", slog.String("error", err.Error()))
	}
	if err := conn.Disconnect(shutdownCtx); err != nil {
		logger.Error("disconnect failed", slog.String("error", err.Error()))
	}
	logger.Info("stopped")
}

// openAudioOut выбирает приемник PCM: пусто - отбрасывать,
// "-" - stdout, иначе файл
func openAudioOut(path string) (io.Writer, func(), error) {
	switch path {
	case "":
		return io.Discard, func() {}, nil
	case "-":
		return os.Stdout, func() {}, nil
	default:
		f, err := os.Create(path)
		if err != nil {
			return nil, nil, err
		}
		return f, func() { _ = f.Close() }, nil
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	logger.Info("metrics listening", slog.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", slog.String("error", err.Error()))
	}
}
