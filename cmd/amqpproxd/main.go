// Command amqpproxd is the amqpprox daemon binary: it wires together every
// registry, starts the configured AMQP listeners, the control socket, and
// the statistics emitter (SPEC_FULL.md A.3: a github.com/spf13/cobra
// command tree with pflag-bound flags, matching moby-moby's own CLI
// convention).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/amqpprox/amqpprox/internal/authintercept"
	"github.com/amqpprox/amqpprox/internal/backend"
	"github.com/amqpprox/amqpprox/internal/control"
	"github.com/amqpprox/amqpprox/internal/datacenter"
	"github.com/amqpprox/amqpprox/internal/dnscache"
	"github.com/amqpprox/amqpprox/internal/farm"
	"github.com/amqpprox/amqpprox/internal/logging"
	"github.com/amqpprox/amqpprox/internal/proxyserver"
	"github.com/amqpprox/amqpprox/internal/resource"
	"github.com/amqpprox/amqpprox/internal/session"
	"github.com/amqpprox/amqpprox/internal/stats"
	"github.com/amqpprox/amqpprox/internal/tlsconfig"
)

type daemonFlags struct {
	listenAddrs     []string
	controlSocket   string
	logTarget       string
	logLevel        string
	defaultFarm     string
	localDatacenter string
	dnsSweep        time.Duration
	statsInterval   time.Duration
	dialTimeout     time.Duration
	resolvConf      string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &daemonFlags{}
	cmd := &cobra.Command{
		Use:   "amqpproxd",
		Short: "AMQP 0-9-1 reverse proxy daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), flags)
		},
	}

	pf := cmd.Flags()
	pf.StringSliceVar(&flags.listenAddrs, "listen", []string{":5673"}, "AMQP listen address (repeatable)")
	pf.StringVar(&flags.controlSocket, "control-socket", "/var/run/amqpproxd.sock", "control channel UNIX socket path")
	pf.StringVar(&flags.logTarget, "log-target", "console", "console or a file path")
	pf.StringVar(&flags.logLevel, "log-level", "info", "log verbosity")
	pf.StringVar(&flags.defaultFarm, "default-farm", "", "farm used when a vhost has no explicit mapping")
	pf.StringVar(&flags.localDatacenter, "datacenter", "", "local datacenter tag for affinity partitioning")
	pf.DurationVar(&flags.dnsSweep, "dns-sweep-interval", dnscache.DefaultSweepInterval, "DNS cache sweep interval")
	pf.DurationVar(&flags.statsInterval, "stats-interval", stats.DefaultEmitInterval, "statistics emission interval")
	pf.DurationVar(&flags.dialTimeout, "dial-timeout", 10*time.Second, "outbound backend dial timeout")
	pf.StringVar(&flags.resolvConf, "resolv-conf", "/etc/resolv.conf", "resolv.conf path for the DNS resolver")

	return cmd
}

func run(ctx context.Context, flags *daemonFlags) error {
	logSink := logging.New()
	lvl, err := logging.ParseLevel(flags.logLevel)
	if err != nil {
		return fmt.Errorf("amqpproxd: %w", err)
	}
	if flags.logTarget == "console" {
		logSink.ToConsole(lvl)
	} else if err := logSink.ToFile(flags.logTarget, lvl); err != nil {
		return fmt.Errorf("amqpproxd: %w", err)
	}
	log := logSink.Entry()

	backends := backend.NewStore()
	farms := farm.NewStore()
	selectors := farm.NewSelectorStore()
	policies := farm.NewPolicyStore()
	resources := resource.NewMapper()
	dcRegistry := datacenter.NewRegistry(flags.localDatacenter)
	policies.Register(farm.NewAffinityPolicy(dcRegistry.Get))

	if flags.defaultFarm != "" {
		resources.SetDefault(flags.defaultFarm)
	}

	dnsResolver, err := dnscache.NewDNSResolver(flags.resolvConf, log)
	if err != nil {
		log.WithError(err).Warn("DNS resolver unavailable, falling back to a resolver that always fails lookups")
	}
	var resolver dnscache.Resolver
	if dnsResolver != nil {
		resolver = dnsResolver
	} else {
		resolver = dnscache.NewStaticResolver()
	}
	dnsCache := dnscache.New(resolver, flags.dnsSweep)
	defer dnsCache.Close()

	authHolder := control.NewAuthHolder()
	tlsHolder := control.NewTLSHolder(tlsconfig.Insecure{}, "insecure (development default)")

	deps := session.Deps{
		Resources:   resources,
		Farms:       farms,
		Backends:    backends,
		Selectors:   selectors,
		DNS:         dnsCache,
		Auth:        authHolderInterceptor{authHolder},
		TLS:         tlsHolder.Provider(),
		DialTimeout: flags.dialTimeout,
		Log:         log,
	}

	srv := proxyserver.New(deps, flags.localDatacenter, log)

	collector := stats.New(srv)
	srv.SetOnAttempt(collector.OnAttempt)

	reg := &control.Registries{
		Backends:   backends,
		Farms:      farms,
		Selectors:  selectors,
		Policies:   policies,
		Resources:  resources,
		Datacenter: dcRegistry,
		VHosts:     srv.VHosts,
		Limiters:   srv.Limiters,
		DNS:        dnsCache,
		Log:        logSink,
		Stats:      collector,
		TLS:        tlsHolder,
		Auth:       authHolder,
		Server:     srv,
		StartedAt:  time.Now(),
	}
	ctl := control.New(flags.controlSocket, reg, log)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(gctx) })
	g.Go(func() error { return ctl.ListenAndServe() })

	stop := make(chan struct{})
	g.Go(func() error {
		collector.Run(flags.statsInterval, stop)
		return nil
	})

	for _, addr := range flags.listenAddrs {
		if err := srv.StartListener(addr, false); err != nil {
			return err
		}
		log.WithField("addr", addr).Info("listening for AMQP connections")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			log.Info("shutting down")
			close(stop)
			ctl.Close()
			cancel()
		case <-gctx.Done():
		}
	}()

	return g.Wait()
}

// authHolderInterceptor adapts *control.AuthHolder to authintercept.Interceptor
// so session.Deps.Auth always reflects the live AUTH SERVICE setting
// without the connector needing to know about the control package.
type authHolderInterceptor struct {
	holder *control.AuthHolder
}

func (a authHolderInterceptor) Check(ctx context.Context, vhost, mechanism, credentials string) (authintercept.Result, error) {
	return a.holder.Get().Check(ctx, vhost, mechanism, credentials)
}
