package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/cinemabooking/go/clients"
	"github.com/mcdev12/cinemabooking/go/internal/seathold"
)

type options struct {
	configPath string
	movieID    string
	showtimeID string
	userID     string
	seats      string
	holdTTL    int
	release    bool
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("booking-timer", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "booking-timer.yaml", "path to the YAML config file")
	fs.StringVar(&opts.movieID, "movie", "", "movie id")
	fs.StringVar(&opts.showtimeID, "showtime", "", "showtime id")
	fs.StringVar(&opts.userID, "user", "", "user id (a random one is generated when empty)")
	fs.StringVar(&opts.seats, "seats", "", "comma separated seat ids to hold before watching")
	fs.IntVar(&opts.holdTTL, "hold-ttl", 0, "requested hold ttl in seconds (server default when 0)")
	fs.BoolVar(&opts.release, "release", false, "release the hold on exit")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if opts.userID == "" {
		opts.userID = uuid.NewString()
	}
	return opts, nil
}

func (o options) key() seathold.Key {
	return seathold.Key{MovieID: o.movieID, ShowtimeID: o.showtimeID, UserID: o.userID}
}

func (o options) seatIDs() []string {
	var ids []string
	for _, id := range strings.Split(o.seats, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	opts, err := parseFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		os.Exit(2)
	}

	config, err := loadConfig(opts.configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	level, err := zerolog.ParseLevel(config.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts, config, os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("booking timer failed")
	}
}

func run(ctx context.Context, opts options, config *Config, out io.Writer) error {
	key := opts.key()
	if err := key.Validate(); err != nil {
		return err
	}

	clock := clockwork.NewRealClock()

	store, closeStore, err := openFallback(ctx, config)
	if err != nil {
		return fmt.Errorf("failed to open fallback store: %w", err)
	}
	defer closeStore()

	source, closePush, err := openPush(ctx, config, clock)
	if err != nil {
		return fmt.Errorf("failed to open push transport: %w", err)
	}
	defer closePush()

	client := clients.NewBookingClient(config.API.BaseURL, config.API.Token)
	client.SetTimeout(config.API.RequestTimeout)

	registry := seathold.NewRegistry(seathold.Deps{
		Source: client,
		Store:  store,
		Push:   source,
		Clock:  clock,
	}, config.engineConfig())
	defer registry.Close()

	view, err := registry.Mount(key)
	if err != nil {
		return err
	}
	defer view.Unmount()

	ctx, leave := context.WithCancel(ctx)
	defer leave()

	redirect := seathold.RedirectOnExpiry(clock, config.Sync.RedirectDelay,
		seathold.NotifierFunc(func(msg string) { fmt.Fprintf(out, "\n%s\n", msg) }),
		leave)
	defer redirect.Cancel()
	view.OnExpired(redirect.Handle)

	view.Watch(func(s seathold.Snapshot) { render(out, s) })
	view.SelectionChanged("")

	log.Info().
		Str("movie_id", key.MovieID).
		Str("showtime_id", key.ShowtimeID).
		Str("user_id", key.UserID).
		Str("push", config.Push.Transport).
		Str("fallback", config.Fallback.Backend).
		Msg("watching seat hold")

	if seats := opts.seatIDs(); len(seats) > 0 {
		req := clients.SeatHoldRequest{SeatIDs: seats, TTLSeconds: opts.holdTTL}
		if err := client.HoldSeats(ctx, key.ShowtimeID, key.UserID, req); err != nil {
			return err
		}
		view.SelectionChanged(strings.Join(seats, ","))
	}

	<-ctx.Done()

	if opts.release {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.ReleaseSeats(releaseCtx, key.ShowtimeID, key.UserID); err != nil {
			log.Warn().Err(err).Msg("failed to release seats")
		}
	}
	return nil
}

func render(out io.Writer, s seathold.Snapshot) {
	if display, ok := s.Display(); ok {
		fmt.Fprintf(out, "\rSeat hold: %s ", display)
		return
	}
	switch s.Status {
	case seathold.StatusSyncing:
		fmt.Fprint(out, "\rSyncing seat hold... ")
	case seathold.StatusExpired:
		fmt.Fprint(out, "\rSeat hold expired.   ")
	default:
		fmt.Fprint(out, "\rNo active seat hold.  ")
	}
}
