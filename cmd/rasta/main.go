package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	ddp "github.com/zdypro888/rasta"
	"github.com/zdypro888/rasta/internal/config"
	"github.com/zdypro888/rasta/internal/logger"
	"github.com/zdypro888/rasta/rocketchat"
	"github.com/zdypro888/rasta/wsconn"
)

const usage = `rasta - Rocket.Chat realtime client

USAGE:
    rasta [-config PATH] [-v] <host> <user:pass | token | user pass>

Events received on the user's streams are printed to stderr until the
connection ends. RASTA_* environment variables override the config file.
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	flags := flag.NewFlagSet("rasta", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Usage = func() { fmt.Fprint(stderr, usage) }
	configPath := flags.String("config", "rasta.yaml", "config file path")
	verbose := flags.Bool("v", false, "debug logging")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() < 2 || flags.NArg() > 3 {
		flags.Usage()
		return errors.New("expected <host> and credentials")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	cfg.Host = flags.Arg(0)
	if *verbose {
		cfg.Logger.Level = "debug"
	}
	creds, err := rocketchat.ParseCredentials(flags.Args()[1:]...)
	if err != nil {
		return err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()

	proxy, err := pickProxy(cfg)
	if err != nil {
		return err
	}

	client, err := rocketchat.Dial(ctx, cfg.Host, dialOptions(cfg, log, proxy)...)
	if err != nil {
		return err
	}
	defer client.Close()

	result, err := login(ctx, cfg, log, proxy, client, creds)
	if err != nil {
		return err
	}
	if err := subscribe(ctx, cfg, client, result.ID); err != nil {
		return err
	}

	for event := range client.Events() {
		printEvent(stderr, event)
	}
	return client.Err()
}

func pickProxy(cfg *config.Config) (*wsconn.Proxy, error) {
	if cfg.Proxy != "" {
		return &wsconn.Proxy{Address: cfg.Proxy}, nil
	}
	if cfg.ProxyFile == "" {
		return nil, nil
	}
	proxys, err := wsconn.LoadProxys(cfg.ProxyFile)
	if err != nil {
		return nil, fmt.Errorf("load proxys: %w", err)
	}
	proxy := wsconn.PickProxy(proxys)
	if proxy == nil {
		return nil, fmt.Errorf("no proxy in %s", cfg.ProxyFile)
	}
	return proxy, nil
}

func tlsConfig(cfg *config.Config) *tls.Config {
	if !cfg.Connection.InsecureSkipVerify {
		return nil
	}
	return &tls.Config{InsecureSkipVerify: true}
}

func dialOptions(cfg *config.Config, log *slog.Logger, proxy *wsconn.Proxy) []rocketchat.DialOption {
	c := cfg.Connection
	opts := []rocketchat.DialOption{
		rocketchat.WithLogger(log),
		rocketchat.WithDDPOptions(
			ddp.WithHandshakeTimeout(c.HandshakeTimeout),
			ddp.WithHeartbeat(c.Heartbeat),
			ddp.WithMaxPending(c.MaxPending),
			ddp.WithEventBuffer(c.EventBuffer),
		),
		rocketchat.WithConnOptions(wsconn.WithProxy(proxy), wsconn.WithHandshakeTimeout(c.HandshakeTimeout)),
	}
	if tlsCfg := tlsConfig(cfg); tlsCfg != nil {
		opts = append(opts, rocketchat.WithConnOptions(wsconn.WithTLSConfig(tlsCfg)))
	}
	if c.URL != "" {
		opts = append(opts, rocketchat.WithURL(c.URL))
	}
	return opts
}

func restOptions(cfg *config.Config, proxy *wsconn.Proxy) []rocketchat.RESTOption {
	var opts []rocketchat.RESTOption
	if cfg.REST.BaseURL != "" {
		opts = append(opts, rocketchat.WithBaseURL(cfg.REST.BaseURL))
	}
	if cfg.REST.HTTP3 {
		return append(opts, rocketchat.WithHTTP3())
	}
	if tlsCfg := tlsConfig(cfg); tlsCfg != nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = tlsCfg
		opts = append(opts, rocketchat.WithHTTPClient(&http.Client{Transport: transport, Timeout: 2 * time.Minute}))
	}
	return append(opts, rocketchat.WithProxy(proxy))
}

func callContext(ctx context.Context, cfg *config.Config) (context.Context, context.CancelFunc) {
	if cfg.Connection.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, cfg.Connection.CallTimeout)
}

// login 先用 DDP 登录，被拒绝且允许回退时通过 REST 换取 token 再 resume
func login(ctx context.Context, cfg *config.Config, log *slog.Logger, proxy *wsconn.Proxy, client *rocketchat.Client, creds rocketchat.Credentials) (*rocketchat.LoginResult, error) {
	callCtx, cancel := callContext(ctx, cfg)
	defer cancel()

	result, err := client.Login(callCtx, creds)
	if err == nil || !errors.Is(err, rocketchat.ErrLoginFailed) || !cfg.REST.Fallback {
		return result, err
	}
	if _, ok := creds.(rocketchat.Password); !ok {
		return nil, err
	}
	log.Warn("ddp login rejected, trying rest", "error", err)

	rest := rocketchat.NewRESTClient(cfg.Host, restOptions(cfg, proxy)...)
	token, restErr := rest.Login(callCtx, creds)
	if restErr != nil {
		return nil, errors.Join(err, restErr)
	}
	return client.Login(callCtx, token)
}

func subscribe(ctx context.Context, cfg *config.Config, client *rocketchat.Client, userID string) error {
	callCtx, cancel := callContext(ctx, cfg)
	defer cancel()

	if cfg.Streams.User {
		if _, err := client.SubscribeUser(callCtx, userID); err != nil {
			return err
		}
	}
	if len(cfg.Streams.Rooms) > 0 {
		session, err := rocketchat.NewSession(callCtx, client)
		if err != nil {
			return fmt.Errorf("load rooms: %w", err)
		}
		for _, name := range cfg.Streams.Rooms {
			room, ok := session.RoomByName(name)
			if !ok {
				room, ok = session.RoomByID(name)
			}
			if !ok {
				return fmt.Errorf("room %q not found", name)
			}
			if _, err := client.SubscribeRoomMessages(callCtx, room.ID); err != nil {
				return err
			}
		}
	}
	for _, event := range cfg.Streams.Logged {
		if _, err := client.SubscribeLogged(callCtx, event); err != nil {
			return err
		}
	}
	return nil
}

func printEvent(w io.Writer, event ddp.Event) {
	stream, err := rocketchat.ParseStreamEvent(event)
	if err != nil {
		fmt.Fprintln(w, event.String())
		return
	}
	args := make([]string, len(stream.Args))
	for i, arg := range stream.Args {
		args[i] = string(arg)
	}
	fmt.Fprintf(w, "%s %s [%s]\n", stream.Stream, stream.EventName, strings.Join(args, ","))
}
