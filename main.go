package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"sip2gate/gate"
	"sip2gate/httpapi"
	"sip2gate/logging"
	"sip2gate/notify"
	"sip2gate/settings"
	"sip2gate/sipua"
	"sip2gate/telegram"
)

func main() {
	configPath := flag.String("config", "settings.ini", "path to settings.ini")
	openOnce := flag.Bool("open", false, "call the gate once and exit")
	flag.Parse()

	s, cfg, err := settings.Load(*configPath)
	if err != nil {
		fmt.Printf("failed to load settings: %v\n", err)
		os.Exit(1)
	}

	logs := logging.Init(cfg)
	coreLog := logs.Core
	coreLog.Infof("settings loaded from %s", *configPath)

	os.Exit(run(s, logs, *openOnce))
}

func run(s *settings.Settings, logs *logging.Loggers, openOnce bool) int {
	defer logs.Close()
	coreLog := logs.Core

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loopCtx, stopLoop := context.WithCancel(context.Background())
	loop := gate.NewLoop(coreLog)
	loopDone := make(chan struct{})
	go func() {
		loop.Run(loopCtx)
		close(loopDone)
	}()
	defer func() {
		stopLoop()
		<-loopDone
	}()

	status := gate.NewStatusBroadcaster(loop, coreLog)
	status.Subscribe(func(st gate.Status) {
		coreLog.Infof("gate call status: %s", st.DisplayName())
	})

	dialer := sipua.NewDialer(sipua.Options{
		LocalPort:       s.LocalPort(),
		PortRange:       s.PortRange(),
		PublicAddress:   s.PublicAddress(),
		UserAgent:       s.UserAgent(),
		RegisterExpires: s.RegisterExpires(),
		Logger:          logs.SIP,
	})

	ctrl, err := gate.NewController(s.CallConfig(), dialer, status,
		gate.WithTiming(s.Timing()),
		gate.WithLogger(coreLog),
		gate.WithNormalizer(s.Normalizer()),
		gate.WithTimeoutPolicy(s.TimeoutPolicy()),
	)
	if err != nil {
		coreLog.Errorf("failed to create gate controller: %v", err)
		return 1
	}
	cc := ctrl.Config()
	coreLog.Infof("gate number %s via %s@%s:%d", cc.Number, cc.Username, cc.Server, cc.Port)

	if s.RedisEnabled() {
		closeRedis := startRedis(ctx, s, ctrl, coreLog.WithField("component", "redis"))
		defer closeRedis()
	}

	if openOnce {
		return openAndExit(ctx, ctrl, loop, coreLog)
	}

	var wg sync.WaitGroup
	var api *httpapi.Server
	if s.HTTPEnabled() {
		api, err = startHTTP(s, ctrl, logs.HTTP, &wg)
		if err != nil {
			coreLog.Errorf("failed to start HTTP API: %v", err)
			return 1
		}
	}
	if s.TelegramEnabled() {
		if err := startTelegram(ctx, s, ctrl, logs, &wg); err != nil {
			coreLog.Errorf("failed to start Telegram client: %v", err)
			return 1
		}
	}

	<-ctx.Done()
	coreLog.Info("performing a graceful shutdown...")

	if api != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := api.Shutdown(shutdownCtx); err != nil {
			coreLog.Warnf("HTTP shutdown: %v", err)
		}
		cancel()
	}
	waitIdle(ctrl, s.Timing(), coreLog)
	wg.Wait()
	return 0
}

func openAndExit(ctx context.Context, ctrl *gate.Controller, loop *gate.Loop, log *logrus.Entry) int {
	err := ctrl.OpenGate(ctx)

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if ferr := loop.Flush(flushCtx); ferr != nil {
		log.Warnf("status delivery did not finish: %v", ferr)
	}

	if err != nil {
		log.Errorf("%v", err)
		return 1
	}
	return 0
}

func startRedis(ctx context.Context, s *settings.Settings, ctrl *gate.Controller, log *logrus.Entry) func() {
	rc := notify.RedisConfig{
		Addr:     s.RedisAddr(),
		Password: s.RedisPassword(),
		DB:       s.RedisDB(),
		Channel:  s.RedisChannel(),
	}
	rdb, err := notify.OpenRedis(ctx, rc)
	if err != nil {
		log.Warnf("status publishing disabled: %v", err)
		return func() {}
	}
	pub := notify.NewRedisPublisher(rdb, rc, ctrl.Config(), log)
	handle := ctrl.Status().Subscribe(pub.Observe)
	log.Infof("publishing status changes to %s", s.RedisChannel())
	return func() {
		ctrl.Status().Unsubscribe(handle)
		_ = rdb.Close()
	}
}

func startHTTP(s *settings.Settings, ctrl *gate.Controller, log *logrus.Entry, wg *sync.WaitGroup) (*httpapi.Server, error) {
	opts := httpapi.Options{Listen: s.HTTPListen(), Logger: log}
	if s.JWTSecret() != "" {
		v, err := httpapi.NewTokenVerifier(s.JWTSecret(), s.JWTIssuer())
		if err != nil {
			return nil, err
		}
		opts.Verifier = v
	} else {
		log.Warn("jwt_secret not set, HTTP API is unauthenticated")
	}

	api := httpapi.NewServer(ctrl, opts)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := api.ListenAndServe(); err != nil {
			log.Errorf("HTTP API stopped: %v", err)
		}
	}()
	return api, nil
}

func startTelegram(ctx context.Context, s *settings.Settings, ctrl *gate.Controller, logs *logging.Loggers, wg *sync.WaitGroup) error {
	if err := telegram.ConfigureLogging("tdlib.log", logs.TDLibLevel); err != nil {
		return err
	}
	cl, err := telegram.Connect(telegram.Config{
		APIID:              s.APIID(),
		APIHash:            s.APIHash(),
		DatabaseFolder:     s.DatabaseFolder(),
		SystemLanguageCode: s.SystemLanguageCode(),
		DeviceModel:        s.DeviceModel(),
		ApplicationVersion: s.ApplicationVersion(),
		ProxyAddress:       s.ProxyAddress(),
		ProxyPort:          s.ProxyPort(),
		ProxyUsername:      s.ProxyUsername(),
		ProxyPassword:      s.ProxyPassword(),
	}, logs.Telegram)
	if err != nil {
		return err
	}

	bot := telegram.NewBot(cl, ctrl, s.AllowedUsers(), logs.Telegram)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer telegram.CloseLogging()
		if err := bot.Run(ctx); err != nil {
			logs.Telegram.Errorf("telegram bot stopped: %v", err)
		}
		if _, err := cl.Close(); err != nil {
			logs.Telegram.Warnf("close tdlib client: %v", err)
		}
	}()
	return nil
}

// waitIdle lets a running attempt finish; attempts cannot be cancelled.
func waitIdle(ctrl *gate.Controller, t gate.Timing, log *logrus.Entry) {
	if !ctrl.InFlight() {
		return
	}
	log.Info("waiting for the running gate call to finish")
	deadline := time.Now().Add(t.RegisterCheck + t.MaxWait + t.RingDuration + t.SuccessCooldown + t.FailureCooldown + 10*time.Second)
	for ctrl.InFlight() && time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
	}
}
