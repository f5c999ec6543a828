package main

import (
	"context"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/rs/zerolog"

	"github.com/oceanix/walletgate/adapters/events"
	"github.com/oceanix/walletgate/adapters/store"
	"github.com/oceanix/walletgate/adapters/tokenizer"
	"github.com/oceanix/walletgate/internal/config"
	"github.com/oceanix/walletgate/ports"
	"github.com/oceanix/walletgate/service"
	transport "github.com/oceanix/walletgate/transport/http"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()

	var (
		st  ports.Store
		pub ports.EventPublisher = events.NopPublisher{}
	)
	if cfg.RedisURL != "" {
		rs, err := store.Dial(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rs.Close()
		st = rs

		wmPub, err := redisstream.NewPublisher(
			redisstream.PublisherConfig{Client: rs.Client()},
			watermill.NewStdLogger(false, false),
		)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create event publisher")
		}
		pub = events.NewWatermillPublisher(wmPub)
	} else {
		log.Warn().Msg("REDIS_URL unset, using in-process store; sessions will not survive restarts or scale past one instance")
		st = store.NewMemoryStore(ctx)
	}

	signer, err := buildSigner(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build token signer")
	}
	tok := tokenizer.NewJWTTokenizer(signer, cfg.Issuer, cfg.Audience)

	svc := service.NewAuthService(cfg, st, tok, pub, log)
	router := transport.SetupRouter(svc, log)

	log.Info().
		Str("addr", cfg.ListenAddr).
		Str("scheme", cfg.TokenScheme).
		Msg("starting walletgate")
	if err := router.Run(cfg.ListenAddr); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func buildSigner(cfg config.Config, log zerolog.Logger) (tokenizer.Signer, error) {
	switch cfg.TokenScheme {
	case config.SchemeECDSA:
		if cfg.TokenKeyPEM != "" {
			key, err := tokenizer.ParseECDSAKeyPEM([]byte(cfg.TokenKeyPEM))
			if err != nil {
				return nil, err
			}
			return tokenizer.NewECDSASigner(key, "walletgate-1")
		}
		log.Warn().Msg("TOKEN_PRIVATE_KEY unset, generating an ephemeral key; tokens will not survive restarts")
		return tokenizer.GenerateECDSASigner("walletgate-1")
	default:
		return tokenizer.NewHMACSigner([]byte(cfg.TokenSecret)), nil
	}
}
