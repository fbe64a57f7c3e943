package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/brianvoe/gofakeit/v7"

	"github.com/azentyk/voice-appointments/cmd/mainconfig"
	"github.com/azentyk/voice-appointments/internal/app/bootstrap"
	"github.com/azentyk/voice-appointments/internal/appointments"
	appconfig "github.com/azentyk/voice-appointments/internal/config"
	"github.com/azentyk/voice-appointments/internal/extraction"
	"github.com/azentyk/voice-appointments/internal/hospitals"
	"github.com/azentyk/voice-appointments/internal/llm"
	"github.com/azentyk/voice-appointments/pkg/logging"
)

const seedTimeout = 5 * time.Minute

// patientWriter is the subset of the repository the seeder writes through.
type patientWriter interface {
	Create(ctx context.Context, appt appointments.Appointment) (string, error)
	UpsertPatient(ctx context.Context, p appointments.PatientProfile) error
}

func main() {
	patients := flag.Int("patients", 25, "demo patients to create")
	perPatient := flag.Int("appointments", 1, "pending appointments per patient")
	index := flag.String("index", "", "also index the hospital catalog: typesense or embedding")
	flag.Parse()

	cfg := mainconfig.LoadEnv()
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), seedTimeout)
	defer cancel()

	catalog, err := hospitals.LoadCatalog(cfg.HospitalCatalog)
	if err != nil {
		logger.Error("failed to load hospital catalog", "error", err)
		os.Exit(1)
	}

	if *patients > 0 {
		repo, pool, err := bootstrap.BuildAppointmentRepository(ctx, cfg, logger)
		if err != nil {
			logger.Error("failed to open appointment repository", "error", err)
			os.Exit(1)
		}
		if pool == nil {
			logger.Warn("seeding the in-memory repository; data will not persist")
		} else {
			defer pool.Close()
		}
		writer, ok := repo.(patientWriter)
		if !ok {
			logger.Error("repository does not support patient profiles")
			os.Exit(1)
		}
		gofakeit.Seed(time.Now().UnixNano())
		created, err := seedPatients(ctx, writer, catalog, *patients, *perPatient, time.Now())
		if err != nil {
			logger.Error("seed patients failed", "error", err, "created", created)
			os.Exit(1)
		}
		logger.Info("seeded demo patients", "patients", *patients, "appointments", created)
	}

	if *index != "" {
		if err := indexCatalog(ctx, cfg, *index, catalog, logger); err != nil {
			logger.Error("catalog indexing failed", "backend", *index, "error", err)
			os.Exit(1)
		}
		logger.Info("hospital catalog indexed", "backend", *index, "hospitals", len(catalog))
	}
}

// seedPatients writes n fake caller profiles, each with perPatient pending
// appointments at catalog hospitals. It returns the appointments created.
func seedPatients(ctx context.Context, repo patientWriter, catalog []hospitals.Hospital, n, perPatient int, now time.Time) (int, error) {
	if len(catalog) == 0 {
		return 0, errors.New("seed: hospital catalog is empty")
	}
	created := 0
	for i := 0; i < n; i++ {
		name := gofakeit.FirstName()
		phone := "+91" + gofakeit.Phone()
		email := gofakeit.Email()
		if err := repo.UpsertPatient(ctx, appointments.PatientProfile{FirstName: name, Email: email, Phone: phone}); err != nil {
			return created, err
		}
		for j := 0; j < perPatient; j++ {
			h := catalog[gofakeit.Number(0, len(catalog)-1)]
			spec := ""
			if len(h.Specializations) > 0 {
				spec = h.Specializations[gofakeit.Number(0, len(h.Specializations)-1)]
			}
			slot := now.AddDate(0, 0, gofakeit.Number(1, 30))
			appt := appointments.Appointment{
				AppointmentID:          extraction.NewAppointmentID(name, now),
				Username:               name,
				PhoneNumber:            phone,
				Mail:                   email,
				Location:               h.Location,
				HospitalName:           h.Name,
				Specialization:         spec,
				AppointmentBookingDate: slot.Format("2006-01-02"),
				AppointmentBookingTime: fmt.Sprintf("%02d:%02d", gofakeit.Number(9, 17), 30*gofakeit.Number(0, 1)),
				AppointmentStatus:      appointments.StatusPending,
			}
			if _, err := repo.Create(ctx, appt); err != nil {
				if errors.Is(err, appointments.ErrDuplicateAppointment) {
					continue
				}
				return created, err
			}
			created++
		}
	}
	return created, nil
}

func indexCatalog(ctx context.Context, cfg *appconfig.Config, backend string, catalog []hospitals.Hospital, logger *logging.Logger) error {
	switch backend {
	case "typesense":
		r := hospitals.NewTypesenseRetriever(cfg.TypesenseURL, cfg.TypesenseAPIKey, cfg.TypesenseCollName, cfg.RetrievalTopK)
		if err := r.EnsureCollection(ctx); err != nil {
			return err
		}
		return r.Index(ctx, catalog)
	case "embedding":
		redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
		if redisClient == nil {
			return errors.New("seed: embedding index needs a reachable redis")
		}
		defer redisClient.Close()
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			return err
		}
		embedder := llm.NewBedrockEmbedder(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockEmbeddingModelID)
		return hospitals.NewEmbeddingRetriever(embedder, redisClient, cfg.RetrievalTopK, logger).Index(ctx, catalog)
	default:
		return fmt.Errorf("seed: unknown index backend %q", backend)
	}
}
