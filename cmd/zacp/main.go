package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
	"github.com/outofforest/zacp"
	"github.com/outofforest/zacp/features"
	"github.com/outofforest/zacp/journal"
	"github.com/outofforest/zacp/transport"
	"github.com/outofforest/zacp/view"
	"github.com/outofforest/zacp/wire"
)

func main() {
	log := logger.New(logger.DefaultConfig)
	ctx, cancel := signal.NotifyContext(logger.WithLogger(context.Background(), log), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Application failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	cfg, err := zacp.LoadConfig()
	if err != nil {
		return err
	}

	flags := pflag.NewFlagSet("zacp", pflag.ContinueOnError)
	flags.StringVar(&cfg.Listen, "listen", cfg.Listen, "Address to accept peer connections on")
	flags.StringVar(&cfg.PeerAddr, "peer", cfg.PeerAddr, "Address of the peer to connect to")
	flags.StringVar(&cfg.JournalDir, "journal", cfg.JournalDir, "Directory of the traffic journal")
	sequence := flags.String("sequence", "chr1", "Name of the sequence")
	start := flags.Int("start", 1, "Start of the sequence")
	end := flags.Int("end", 1000000, "End of the sequence")
	if err := flags.Parse(args); err != nil {
		return errors.WithStack(err)
	}

	tcpConfig := transport.TCPConfig{
		PeerAddr:       cfg.PeerAddr,
		Atoms:          cfg.Atoms(),
		MaxMessageSize: cfg.MaxMessageSize,
	}
	if cfg.Listen != "" {
		ls, err := net.Listen("tcp", cfg.Listen)
		if err != nil {
			return errors.WithStack(err)
		}
		defer ls.Close()
		tcpConfig.Listener = ls
	}
	tr, err := transport.NewTCP(tcpConfig)
	if err != nil {
		return err
	}

	var opts []zacp.Option
	if cfg.JournalDir != "" {
		j, err := journal.Open(cfg.JournalDir)
		if err != nil {
			return err
		}
		defer j.Close()
		opts = append(opts, zacp.WithRecorder(j))
	}

	log := logger.Get(ctx)
	shutdownCh := make(chan struct{})
	var shutdownOnce sync.Once

	views, err := view.NewManager(view.Hooks{
		ZoomTo: func(ctx context.Context, f *features.Feature) error {
			logger.Get(ctx).Info("Zooming to feature", zap.String("feature", f.ID))
			return nil
		},
		Select: func(ctx context.Context, selected []*features.Feature) error {
			for _, f := range selected {
				logger.Get(ctx).Info("Feature selected", zap.String("feature", f.ID))
			}
			return nil
		},
		Shutdown: func(abort bool) {
			log.Info("Shutdown requested", zap.Bool("abort", abort))
			shutdownOnce.Do(func() {
				close(shutdownCh)
			})
		},
	})
	if err != nil {
		return err
	}
	info, err := views.NewView(wire.SequenceSpec{Name: *sequence, Start: *start, End: *end})
	if err != nil {
		return err
	}
	log.Info("Default view created", zap.String("view", info.ID), zap.String("sequence", *sequence))

	session, err := zacp.NewSession(cfg, tr, views, append(opts, zacp.WithHooks(zacp.Hooks{
		OnHandshake: func(peer wire.PeerIdentity) {
			log.Info("Peer connected", zap.String("peer", peer.String()))
		},
		OnGoodbye: func(peer wire.PeerIdentity, exit bool) {
			log.Info("Peer disconnected", zap.String("peer", peer.String()), zap.Bool("exit", exit))
		},
	}))...)
	if err != nil {
		return err
	}

	log.Info("Session created", zap.String("self", session.Self().String()))

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("session", parallel.Exit, session.Run)
		spawn("shutdown", parallel.Continue, func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				return errors.WithStack(ctx.Err())
			case <-shutdownCh:
			}

			// Reply to shutdown is still being sent.
			for session.Busy(zacp.DirectionPeerToSelf) {
				select {
				case <-ctx.Done():
					return errors.WithStack(ctx.Err())
				case <-time.After(10 * time.Millisecond):
				}
			}
			session.Shutdown()
			return nil
		})
		if cfg.PeerAddr != "" {
			spawn("connect", parallel.Continue, func(ctx context.Context) error {
				peer, err := session.Connect(ctx)
				if err != nil {
					return err
				}
				logger.Get(ctx).Info("Handshake accepted", zap.String("peer", peer.String()))
				return nil
			})
		}
		return nil
	})
}
