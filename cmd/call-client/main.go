package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callcore/internal/apiclient"
	"callcore/internal/callsession"
	"callcore/internal/callstate"
	"callcore/internal/domain"
	"callcore/internal/media"
	"callcore/internal/peer"
	"callcore/internal/transport"
	"callcore/pkg/logger"
)

func main() {
	var (
		serverURL = flag.String("server", "http://localhost:8080", "call service base URL")
		wsURL     = flag.String("ws", "ws://localhost:8080/api/v1/signaling", "signaling WebSocket URL")
		token     = flag.String("token", os.Getenv("CALL_TOKEN"), "bearer token")
		userID    = flag.String("user", "", "own user id")
		verbose   = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	if *token == "" || *userID == "" {
		fmt.Fprintln(os.Stderr, "both -token and -user are required")
		os.Exit(1)
	}
	selfID, err := uuid.Parse(*userID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid -user:", err)
		os.Exit(1)
	}

	level := "info"
	if *verbose {
		level = "debug"
	}
	if err := logger.Init(&logger.Config{Level: level, Format: "text"}); err != nil {
		fmt.Fprintln(os.Stderr, "logger init failed:", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Log

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source, err := media.NewDeviceSource(log)
	if err != nil {
		log.Fatal("media devices unavailable", zap.Error(err))
	}
	capture := media.NewCapture(source, log)

	ws := transport.New(transport.Options{URL: *wsURL, Logger: log})
	if err := ws.Connect(ctx, *token); err != nil {
		log.Fatal("signaling connection failed", zap.Error(err))
	}
	defer ws.Close()

	api := apiclient.New(*serverURL, *token, log)
	manager := callsession.NewManager(callsession.Options{
		SelfID:   selfID,
		API:      api,
		Signaler: ws,
		Capture:  capture,
		NewConn:  peer.NewConnFactory(source.API(), nil),
		Logger:   log,
	})
	defer manager.Close()

	state := callstate.New(manager)
	go printEvents(ctx, state)

	fmt.Println("commands: call <conv> <audio|video> <user>... | join <call> | leave <call> | decline <call> | mute <call> | end <call> | history | quit")
	runPrompt(ctx, manager, state, api)
}

func printEvents(ctx context.Context, state *callstate.Facade) {
	for ev := range state.Watch(ctx) {
		switch ev.Type {
		case callsession.EventIncomingCall:
			fmt.Printf("\n<< incoming call %s\n> ", ev.CallID)
		case callsession.EventRosterChanged:
			fmt.Printf("\n<< roster changed on %s\n> ", ev.CallID)
		case callsession.EventSessionState:
			fmt.Printf("\n<< peer %s is %s on %s\n> ", ev.RemoteID, ev.SessionState, ev.CallID)
		case callsession.EventCallEnded:
			fmt.Printf("\n<< call %s ended: %s\n> ", ev.CallID, ev.Reason)
		case callsession.EventCallMissed:
			fmt.Printf("\n<< missed call %s\n> ", ev.CallID)
		case callsession.EventTransferRequest:
			fmt.Printf("\n<< transfer request on %s\n> ", ev.CallID)
		case callsession.EventSignalingLost:
			fmt.Printf("\n<< signaling connection lost, reconnecting\n> ")
		}
	}
}

func runPrompt(ctx context.Context, manager *callsession.Manager, state *callstate.Facade, api *apiclient.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if err := runCommand(ctx, manager, state, api, fields); err != nil {
			if err == errQuit {
				return
			}
			fmt.Println("error:", err)
		}
	}
}

var errQuit = fmt.Errorf("quit")

func runCommand(ctx context.Context, manager *callsession.Manager, state *callstate.Facade, api *apiclient.Client, fields []string) error {
	switch fields[0] {
	case "quit", "exit":
		return errQuit

	case "call":
		if len(fields) < 4 {
			return fmt.Errorf("usage: call <conversation> <audio|video> <user>...")
		}
		conv, err := uuid.Parse(fields[1])
		if err != nil {
			return err
		}
		callType := domain.CallTypeAudio
		if fields[2] == "video" {
			callType = domain.CallTypeVideo
		}
		var invitees []uuid.UUID
		for _, raw := range fields[3:] {
			id, err := uuid.Parse(raw)
			if err != nil {
				return err
			}
			invitees = append(invitees, id)
		}
		call, err := manager.Initiate(ctx, conv, callType, invitees)
		if err != nil {
			return err
		}
		fmt.Println("ringing:", call.CallID)
		return nil

	case "history":
		calls, err := api.History(ctx, 20, 0)
		if err != nil {
			return err
		}
		for _, call := range calls {
			fmt.Println(historyLine(call))
		}
		return nil

	case "join":
		return withCallID(fields, func(id uuid.UUID) error {
			call, err := manager.Join(ctx, id)
			if err != nil {
				return err
			}
			fmt.Printf("joined %s with %d participants\n", call.CallID, call.ActiveParticipants())
			return nil
		})

	case "leave":
		return withCallID(fields, func(id uuid.UUID) error { return manager.Leave(ctx, id) })

	case "decline":
		return withCallID(fields, func(id uuid.UUID) error { return manager.Decline(ctx, id) })

	case "end":
		return withCallID(fields, func(id uuid.UUID) error { return manager.EndForAll(ctx, id) })

	case "mute":
		return withCallID(fields, func(id uuid.UUID) error {
			muted, err := manager.ToggleMute(ctx, id)
			if err != nil {
				return err
			}
			fmt.Println("muted:", muted)
			return nil
		})

	case "sessions":
		return withCallID(fields, func(id uuid.UUID) error {
			for _, remote := range state.Sessions(id) {
				fmt.Println(remote)
			}
			return nil
		})

	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}

func historyLine(call domain.Call) string {
	return fmt.Sprintf("%s  %s  %s  %d participants",
		call.CallID, call.Type, call.Status, len(call.Participants))
}

func withCallID(fields []string, fn func(uuid.UUID) error) error {
	if len(fields) < 2 {
		return fmt.Errorf("usage: %s <call-id>", fields[0])
	}
	id, err := uuid.Parse(fields[1])
	if err != nil {
		return err
	}
	return fn(id)
}
