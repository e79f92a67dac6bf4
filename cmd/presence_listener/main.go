// Command presence_listener prints the presence frames broadcast by the
// directory service and keeps a mirror of the newest location of every
// identity it has heard about.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lan_presence/internal/broadcast"
	"lan_presence/internal/frame"
	"lan_presence/internal/presence"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"
)

type cli struct {
	Port     int    `help:"UDP port presence frames are broadcast to" default:"6667" env:"PRESENCE_PORT"`
	Address  string `help:"Local address to bind, empty for all interfaces" env:"PRESENCE_ADDRESS"`
	JSON     bool   `name:"json" help:"Print one JSON object per frame"`
	Snapshot bool   `help:"Print the whole mirrored directory after every change"`
	Debug    bool   `help:"Log stale and duplicate frames"`
}

type listener struct {
	mirror   *presence.Mirror
	out      io.Writer
	json     bool
	snapshot bool
	logger   *zap.Logger
	loc      *time.Location
}

const seenLayout = "2006-01-02 15:04:05.000000 MST"

type frameOutput struct {
	Identity string `json:"identity"`
	LastSeen int64  `json:"last_seen"`
	IP       string `json:"ip"`
	Port     int32  `json:"port"`
	Time     string `json:"time"`
	From     string `json:"from"`
	Newest   bool   `json:"newest"`
}

func (l *listener) handle(payload []byte, from *net.UDPAddr) {
	f, err := frame.Decode(payload)
	if err != nil {
		l.logger.Warn("dropping frame", zap.Stringer("from", from), zap.Int("bytes", len(payload)), zap.Error(err))
		return
	}
	newest := l.mirror.Apply(f)
	if !newest {
		current, _ := l.mirror.Get(f.Identity)
		l.logger.Debug("stale frame",
			zap.String("identity", f.Identity),
			zap.Int64("last_seen", f.LastSeen),
			zap.Int64("newest_seen", current.LastSeen))
	}
	seen := l.formatSeen(f.LastSeen)

	if l.json {
		out := frameOutput{
			Identity: f.Identity,
			LastSeen: f.LastSeen,
			IP:       f.IP,
			Port:     f.Port,
			Time:     seen,
			From:     from.String(),
			Newest:   newest,
		}
		if err := json.NewEncoder(l.out).Encode(out); err != nil {
			l.logger.Error("write output", zap.Error(err))
		}
	} else {
		fmt.Fprintf(l.out, "Received presence: identity=%s lastSeen=%d (%s) ip=%s port=%d from=%s\n",
			f.Identity, f.LastSeen, seen, f.IP, f.Port, from)
	}

	if l.snapshot && newest {
		l.printSnapshot()
	}
}

// formatSeen renders a lastSeen value as wall-clock time. The sub-millisecond
// digits carry the monotonic tie-breaker, not real time.
func (l *listener) formatSeen(lastSeen int64) string {
	loc := l.loc
	if loc == nil {
		loc = time.Local
	}
	return time.Unix(0, lastSeen).In(loc).Format(seenLayout)
}

func (l *listener) printSnapshot() {
	records := l.mirror.Snapshot()
	if l.json {
		if err := json.NewEncoder(l.out).Encode(records); err != nil {
			l.logger.Error("write output", zap.Error(err))
		}
		return
	}
	fmt.Fprintf(l.out, "Directory (%d identities):\n", len(records))
	for _, rec := range records {
		fmt.Fprintf(l.out, "  %s %s:%d lastSeen=%d\n", rec.Identity, rec.IP, rec.Port, rec.LastSeen)
	}
}

func newLogger(debug bool) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{"stderr"}
	if !debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func main() {
	var params cli
	kong.Parse(&params, kong.Description("Listen for LAN presence broadcasts."))

	logger := newLogger(params.Debug)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, params, os.Stdout, logger); err != nil {
		logger.Error("listener failed", zap.Error(err))
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, params cli, out io.Writer, logger *zap.Logger) error {
	r, err := broadcast.Listen(broadcast.ListenConfig{Port: params.Port, Address: params.Address})
	if err != nil {
		return err
	}
	defer r.Close()

	logger.Info("listening for presence frames", zap.Stringer("addr", r.LocalAddr()))
	l := &listener{
		mirror:   presence.NewMirror(),
		out:      out,
		json:     params.JSON,
		snapshot: params.Snapshot,
		logger:   logger,
	}
	return r.Serve(ctx, l.handle)
}
