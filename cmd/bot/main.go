package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/kit-courier/bot/internal/announce"
	"github.com/kit-courier/bot/internal/bot"
	"github.com/kit-courier/bot/internal/command"
	"github.com/kit-courier/bot/internal/config"
	"github.com/kit-courier/bot/internal/delivery"
	"github.com/kit-courier/bot/internal/game"
	"github.com/kit-courier/bot/internal/giveaway"
	"github.com/kit-courier/bot/internal/login"
	"github.com/kit-courier/bot/internal/outbound"
	"github.com/kit-courier/bot/internal/relay"
	"github.com/kit-courier/bot/internal/session"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	offline := flag.Bool("offline", false, "Run against in-memory fakes instead of live servers")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("No config at %s, using defaults", *configPath)
			cfg = config.Default()
		} else {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	state := session.New(session.Options{
		Cooldown:     cfg.Kit.Cooldown,
		VIPCooldown:  cfg.Kit.VIPCooldown,
		MaxQueueSize: cfg.Kit.MaxQueueSize,
		VIPs:         cfg.VIPs,
		Blacklist:    cfg.Blacklist,
	})
	state.Start(ctx, cfg.Kit.CleanupInterval)

	chat := outbound.NewChat(state, outbound.Options{
		MinDelay:  cfg.Chat.MinDelay,
		SendDelay: cfg.Chat.SendDelay,
		MaxLength: cfg.Chat.MaxLength,
	})

	msgr := connectRelay(ctx, cfg, *offline)
	defer msgr.Close()

	state.Subscribe(session.ObserverFunc(func(ev session.Event) {
		switch ev.Type {
		case session.EventKitDelivered:
			log.Printf("delivered kit to %s (total %d)", ev.Identity, state.StatsSnapshot().Deliveries)
		case session.EventVIPAdded:
			if cfg.Relay.Channel != "" {
				msgr.Send(cfg.Relay.Channel, fmt.Sprintf("**%s** is now a VIP", ev.Identity))
			}
		case session.EventVIPRemoved:
			if cfg.Relay.Channel != "" {
				msgr.Send(cfg.Relay.Channel, fmt.Sprintf("**%s** is no longer a VIP", ev.Identity))
			}
		}
	}))

	announcer := announce.New(cfg.Announce, state, chat)
	driver := login.New(cfg.Login, state, chat, announcer.Start)
	pipeline := delivery.New(cfg, state, chat, msgr)

	giveaways := giveaway.NewManager(cfg.Giveaway, state, chat, announcer)
	giveaways.Subscribe(giveaway.NewAnnouncer(chat, msgr, cfg.Relay.Channel))

	factory := func(gc config.GameConfig) game.Client {
		if *offline {
			return game.NewFake(gc.Username)
		}
		return game.NewWSClient(gc.URL, gc.Username)
	}
	supervisor := bot.NewSupervisor(cfg, state, chat, driver, announcer, msgr, factory)

	router := command.NewRouter(cfg, state, chat, pipeline, giveaways, announcer, driver, msgr, command.Hooks{
		Client:  supervisor.Client,
		Restart: supervisor.Restart,
	})
	supervisor.SetChatHandler(router.HandleGameChat)
	go router.RunRelay(ctx)

	go serveHealth(cfg.Health.Addr, state)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
	}()

	if err := supervisor.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("Bot stopped: %v", err)
	}
}

// connectRelay dials the relay gateway, falling back to an in-memory
// recorder when offline or when the gateway is unreachable. The bot can run
// without the relay; only the admin surface goes dark.
func connectRelay(ctx context.Context, cfg *config.Config, offline bool) relay.Messenger {
	if offline || cfg.Relay.URL == "" {
		log.Println("Relay disabled, using in-memory recorder")
		return relay.NewRecorder()
	}
	m := relay.NewWSMessenger(cfg.Relay.URL, cfg.Relay.Token, cfg.Relay.Channel)
	if err := m.Connect(ctx); err != nil {
		log.Printf("Relay gateway unreachable (%v), using in-memory recorder", err)
		return relay.NewRecorder()
	}
	log.Printf("Relay connected: %s", cfg.Relay.URL)
	return m
}

func serveHealth(addr string, state *session.State) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","connected":%v,"uptime":"%s"}`+"\n",
			state.Connected(), command.FormatUptime(state.Uptime()))
	})
	log.Printf("Health endpoint on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("Health endpoint error: %v", err)
	}
}
