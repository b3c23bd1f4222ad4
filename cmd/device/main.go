// ussync-device runs one side of the pairing as a simulated phone: it walks a
// route, publishes its presence through the relay and prints the map events it
// would render as JSON lines on stdout.
//
// Commands read from stdin while running:
//
//	status <text>   send a heart-beat message
//	locate          center the map on the last fix
//	revoke          withdraw location permission
//	logout          stop background updates, forget the identity and exit
//	quit            close the map and exit
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/prudhvinik1/ussync/internal/client"
	"github.com/prudhvinik1/ussync/internal/config"
	"github.com/prudhvinik1/ussync/internal/models"
	"github.com/prudhvinik1/ussync/internal/repositories"
	"github.com/prudhvinik1/ussync/internal/services"
	"github.com/prudhvinik1/ussync/internal/simulator"
)

const defaultRoute = "23.8103,90.4125;23.8121,90.4140;23.8135,90.4118;23.8110,90.4101"

type options struct {
	server          string
	pairingFile     string
	self            string
	partner         string
	pairCode        string
	stateDir        string
	route           string
	speed           float64
	readingInterval time.Duration
	denyForeground  bool
	denyBackground  bool
	status          string
}

func main() {
	godotenv.Load()

	opts := options{}
	flags := pflag.NewFlagSet("ussync-device", pflag.ContinueOnError)
	flags.StringVar(&opts.server, "server", config.GetEnv("USSYNC_SERVER", "http://localhost:8080"), "relay base URL")
	flags.StringVar(&opts.pairingFile, "pairing", config.GetEnv("PAIRING_FILE", "pairing.yaml"), "pairing file (self_id, partner_id)")
	flags.StringVar(&opts.self, "self", "", "override the pairing file's self_id")
	flags.StringVar(&opts.partner, "partner", "", "override the pairing file's partner_id")
	flags.StringVar(&opts.pairCode, "pair-code", os.Getenv("PAIR_CODE"), "shared pair code")
	flags.StringVar(&opts.stateDir, "state-dir", ".ussync", "directory for durable device state")
	flags.StringVar(&opts.route, "route", defaultRoute, "waypoints as lat,lng;lat,lng;...")
	flags.Float64Var(&opts.speed, "speed", 1.4, "walking speed in meters per second")
	flags.DurationVar(&opts.readingInterval, "reading-interval", time.Second, "raw hardware reading interval")
	flags.BoolVar(&opts.denyForeground, "deny-foreground", false, "answer the foreground permission prompt with deny")
	flags.BoolVar(&opts.denyBackground, "deny-background", false, "answer the background permission prompt with deny")
	flags.StringVar(&opts.status, "status", "", "heart-beat message to send once the map is open")
	flags.AddGoFlagSet(flag.CommandLine)

	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	defer glog.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdin, os.Stdout); err != nil {
		glog.Exitf("[device]%s\n", err)
	}
}

func run(ctx context.Context, opts options, in io.Reader, out io.Writer) error {
	pairing, err := loadPairing(opts)
	if err != nil {
		return err
	}
	cadence, err := config.LoadCadence()
	if err != nil {
		return err
	}
	waypoints, err := simulator.ParseWaypoints(opts.route)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(opts.stateDir, 0o700); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}
	identities := repositories.NewFileIdentityRepository(filepath.Join(opts.stateDir, "identity.yaml"))
	installID, err := identities.InstallID(ctx)
	if err != nil {
		return err
	}

	relay := client.NewPresenceClient(opts.server, nil)
	token, err := relay.IssueToken(ctx, pairing.SelfID, opts.pairCode)
	if err != nil {
		return fmt.Errorf("failed to sign in as %s: %w", pairing.SelfID, err)
	}
	glog.Infof("[device]install %s signed in as %s until %s\n", installID, token.UserID, token.ExpiresAt.Format(time.RFC3339))

	device, err := simulator.NewDevice(simulator.DeviceOptions{
		Route:                waypoints,
		SpeedMetersPerSecond: opts.speed,
		ReadingInterval:      opts.readingInterval,
		Foreground:           answer(opts.denyForeground),
		Background:           answer(opts.denyBackground),
	})
	if err != nil {
		return err
	}
	defer device.Shutdown()

	session, err := services.NewMapSession(services.MapSessionConfig{
		Pairing:    pairing,
		Repo:       relay,
		Identities: identities,
		Provider:   device,
		Tasks:      device,
		Cadence:    cadence,
		Retry:      services.DefaultRetryPolicy(),
		Subscriber: services.DefaultSubscriberOptions(),
		Surface:    services.NewJSONSurface(out),
	})
	if err != nil {
		return err
	}
	if err := session.Start(ctx); err != nil {
		return err
	}
	defer session.Close()

	if opts.status != "" {
		if err := session.SendStatus(ctx, opts.status); err != nil {
			glog.Warningf("[device]status error = %s\n", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	commands := make(chan string)
	go readCommands(in, commands)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-commands:
				if !ok {
					<-gctx.Done()
					return nil
				}
				done, err := handleCommand(gctx, session, device, line)
				if err != nil {
					glog.Warningf("[device]%s\n", err)
				}
				if done {
					return errQuit
				}
			}
		}
	})
	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) {
		return err
	}
	return nil
}

var errQuit = errors.New("quit")

func handleCommand(ctx context.Context, session *services.MapSession, device *simulator.Device, line string) (bool, error) {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch cmd {
	case "":
		return false, nil
	case "status":
		return false, session.SendStatus(ctx, arg)
	case "locate":
		return false, session.LocateMe(ctx)
	case "revoke":
		device.Revoke()
		return false, nil
	case "logout":
		return true, session.Logout(ctx)
	case "quit", "exit":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q", cmd)
	}
}

func readCommands(in io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

func loadPairing(opts options) (models.Pairing, error) {
	var pairing models.Pairing
	if opts.self == "" || opts.partner == "" {
		p, err := config.LoadPairing(opts.pairingFile)
		if err != nil {
			return models.Pairing{}, err
		}
		pairing = p
	}
	if opts.self != "" || opts.partner != "" {
		// A relay pairing file names both members; either side may run from it.
		if opts.self != "" && opts.partner == "" {
			return pairing.As(opts.self)
		}
		if opts.self != "" {
			pairing.SelfID = opts.self
		}
		if opts.partner != "" {
			pairing.PartnerID = opts.partner
		}
	}
	return pairing, pairing.Validate()
}

func answer(deny bool) services.PermissionStatus {
	if deny {
		return services.PermissionDenied
	}
	return services.PermissionGranted
}
