package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/civil"
	"github.com/brianvoe/gofakeit/v7"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/Salad109/medical-office-manager/internal/app"
	"github.com/Salad109/medical-office-manager/internal/apperr"
	"github.com/Salad109/medical-office-manager/internal/appointment"
	"github.com/Salad109/medical-office-manager/internal/config"
	"github.com/Salad109/medical-office-manager/internal/identity"
	"github.com/Salad109/medical-office-manager/internal/logging"
	"github.com/Salad109/medical-office-manager/internal/user"
)

type options struct {
	staff        int
	doctors      int
	patients     int
	perPatient   int
	days         int
	completeRate int
	cancelRate   int
	password     string
	seed         int64
}

var visitNotes = []string{
	"routine checkup",
	"blood pressure follow-up",
	"prescription renewal",
	"flu symptoms, rest advised",
	"lab results reviewed",
	"referral to specialist",
}

func main() {
	var opts options

	cmd := &cobra.Command{
		Use:          "seed",
		Short:        "Fill the database with fake staff, doctors, patients and appointments",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.staff, "staff", 2, "staff accounts")
	f.IntVar(&opts.doctors, "doctors", 5, "doctor accounts")
	f.IntVar(&opts.patients, "patients", 200, "patient accounts")
	f.IntVar(&opts.perPatient, "appointments-per-patient", 3, "bookings attempted per patient")
	f.IntVar(&opts.days, "days", 14, "book within this many days from today")
	f.IntVar(&opts.completeRate, "complete-percent", 30, "share of bookings completed with a visit")
	f.IntVar(&opts.cancelRate, "cancel-percent", 10, "share of bookings cancelled")
	f.StringVar(&opts.password, "password", "password123", "password for every seeded account")
	f.Int64Var(&opts.seed, "seed", time.Now().UnixNano(), "random seed")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load error: %w", err)
	}
	cfg.BcryptCost = bcrypt.MinCost
	cfg.CacheEnabled = false

	log := logging.New(logging.Options{Level: cfg.LogLevel, Pretty: true, Service: "seed"})
	log.Info().Int64("seed", opts.seed).Msg("seed starting")

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	gofakeit.Seed(opts.seed)

	// No principal in ctx: every audit entry written here has a null actor.
	if _, err := seedUsers(ctx, a, log, identity.RoleStaff, "staff", "50", opts.staff, opts.password); err != nil {
		return err
	}
	doctors, err := seedUsers(ctx, a, log, identity.RoleDoctor, "doctor", "51", opts.doctors, opts.password)
	if err != nil {
		return err
	}
	patients, err := seedUsers(ctx, a, log, identity.RolePatient, "patient", "60", opts.patients, opts.password)
	if err != nil {
		return err
	}

	if err := seedAppointments(ctx, a, log, opts, doctors, patients); err != nil {
		return err
	}

	log.Info().Msg("seed complete")
	return nil
}

func seedUsers(ctx context.Context, a *app.App, log zerolog.Logger, role identity.Role, prefix, phonePrefix string, count int, password string) ([]int64, error) {
	ids := make([]int64, 0, count)
	for i := 1; i <= count; i++ {
		in := user.RegisterInput{
			Username:  fmt.Sprintf("%s%d", prefix, i),
			Password:  password,
			Role:      role,
			FirstName: gofakeit.FirstName(),
			LastName:  gofakeit.LastName(),
			Phone:     fmt.Sprintf("%s%07d", phonePrefix, i),
		}
		if role == identity.RolePatient {
			birth := time.Date(gofakeit.Number(1940, 2010), time.Month(gofakeit.Number(1, 12)), gofakeit.Number(1, 28), 0, 0, 0, 0, time.UTC)
			in.PESEL = fmt.Sprintf("%02d%02d%02d%05d", birth.Year()%100, int(birth.Month()), birth.Day(), i%100000)
		}

		u, err := a.Users.Provision(ctx, in)
		if err != nil {
			if errors.Is(err, apperr.ErrConflict) {
				log.Debug().Str("username", in.Username).Msg("already seeded, skipping")
				continue
			}
			return nil, fmt.Errorf("seed %s %s: %w", role, in.Username, err)
		}
		ids = append(ids, u.ID)
	}

	log.Info().Str("role", string(role)).Int("created", len(ids)).Msg("users seeded")
	return ids, nil
}

func seedAppointments(ctx context.Context, a *app.App, log zerolog.Logger, opts options, doctors, patients []int64) error {
	grid := a.Appointments.Hours().Grid()
	if len(grid) == 0 || opts.days <= 0 {
		return nil
	}
	today := civil.DateOf(time.Now().In(a.Config.Location()))

	var booked, taken, completed, cancelled int
	for _, patientID := range patients {
		for n := 0; n < opts.perPatient; n++ {
			date := today.AddDays(gofakeit.Number(1, opts.days))
			at := grid[gofakeit.Number(0, len(grid)-1)]

			appt, err := a.Appointments.Book(ctx, patientID, date, at)
			if err != nil {
				if errors.Is(err, appointment.ErrSlotTaken) {
					taken++
					continue
				}
				return fmt.Errorf("book patient %d: %w", patientID, err)
			}
			booked++

			roll := gofakeit.Number(1, 100)
			switch {
			case roll <= opts.completeRate && len(doctors) > 0:
				doctorID := doctors[gofakeit.Number(0, len(doctors)-1)]
				if _, err := a.Visits.Complete(ctx, appt.ID, doctorID, gofakeit.RandomString(visitNotes)); err != nil {
					return fmt.Errorf("complete appointment %d: %w", appt.ID, err)
				}
				completed++
			case roll <= opts.completeRate+opts.cancelRate:
				if _, err := a.Appointments.Cancel(ctx, appt.ID); err != nil {
					return fmt.Errorf("cancel appointment %d: %w", appt.ID, err)
				}
				cancelled++
			}
		}
	}

	log.Info().
		Int("booked", booked).
		Int("slot_taken", taken).
		Int("completed", completed).
		Int("cancelled", cancelled).
		Msg("appointments seeded")
	return nil
}
