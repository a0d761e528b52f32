// README: Shared construction of stores and side-effect collaborators for the binaries.
package wiring

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"

	"carpool/internal/config"
	"carpool/internal/infra"
	"carpool/internal/modules/incentive"
	"carpool/internal/modules/ledger"
	"carpool/internal/modules/notification"
	"carpool/internal/modules/profile"
	"carpool/internal/modules/refresh"
	"carpool/internal/modules/sideeffect"
	"carpool/internal/modules/telework"
	"carpool/internal/types"
)

const avatarURLTTL = 15 * time.Minute

// Stack holds the connections both binaries need. Firebase is nil when no
// project is configured.
type Stack struct {
	DB       *pgxpool.Pool
	Firebase *firebase.App
	Profiles *profile.Service
	Ledger   *ledger.Store

	log    *slog.Logger
	rabbit *amqp.Connection
}

func Open(ctx context.Context, cfg config.Config, log *slog.Logger) (*Stack, error) {
	db, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return nil, err
	}
	s := &Stack{DB: db, Ledger: ledger.NewStore(db), log: log}

	var avatars profile.ObjectStorage
	if cfg.Firebase.ProjectID != "" {
		app, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.StorageBucket, cfg.Firebase.CredentialsFile)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Firebase = app
		if cfg.Firebase.StorageBucket != "" {
			fa, err := profile.NewFirebaseAvatars(ctx, app, cfg.Firebase.StorageBucket, avatarURLTTL)
			if err != nil {
				s.Close()
				return nil, fmt.Errorf("avatar storage: %w", err)
			}
			avatars = fa
		}
	} else {
		log.Warn("firebase not configured; push notifications and avatar urls disabled")
	}
	s.Profiles = profile.NewService(profile.NewStore(db), avatars, log)
	return s, nil
}

// SideEffectHandler wires every collaborator that is configured; the others
// are left nil and their tasks are skipped.
func (s *Stack) SideEffectHandler(ctx context.Context, cfg config.Config) (*sideeffect.Handler, error) {
	deps := sideeffect.HandlerDeps{
		Schedules:  refresh.NewStore(s.DB),
		Telework:   telework.NewStore(s.DB),
		Workplaces: s.Profiles,
		Detector:   telework.NewDetector(cfg.SideEffects.WorkplaceRadiusMeters, cfg.SideEffects.TeleworkMatch),
		Rewards:    s.Ledger,
		Logger:     s.log,
	}
	if s.Firebase != nil {
		client, err := s.Firebase.Messaging(ctx)
		if err != nil {
			return nil, fmt.Errorf("firebase messaging: %w", err)
		}
		deps.Notifier = notification.NewFCMSender(client, s.Profiles, s.log)
	}
	if cfg.Stripe.APIKey != "" {
		reward := types.Money{Amount: cfg.Stripe.RewardAmount, Currency: cfg.Stripe.Currency}
		deps.Incentives = incentive.NewStripeGateway(cfg.Stripe.APIKey, s.Profiles, reward)
	} else {
		s.log.Warn("stripe not configured; incentive awards disabled")
	}
	return sideeffect.NewHandler(deps), nil
}

// Alerter returns nil when no RabbitMQ url is configured.
func (s *Stack) Alerter(cfg config.Config) (sideeffect.Alerter, error) {
	if cfg.RabbitMQ.URL == "" {
		return nil, nil
	}
	conn, err := infra.NewRabbitMQ(cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}
	a, err := sideeffect.NewRabbitAlerter(conn, cfg.RabbitMQ.Exchange)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	s.rabbit = conn
	return a, nil
}

func (s *Stack) Close() {
	if s.rabbit != nil {
		_ = s.rabbit.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
