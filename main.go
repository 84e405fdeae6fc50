package main

import (
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cppla/jellyfish/accounts"
	"github.com/cppla/jellyfish/config"
	"github.com/cppla/jellyfish/controllers"
	"github.com/cppla/jellyfish/feed"
	"github.com/cppla/jellyfish/middleware"
	"github.com/cppla/jellyfish/models"
	"github.com/cppla/jellyfish/routes"
	"github.com/cppla/jellyfish/store"
	"github.com/cppla/jellyfish/tokens"
	"github.com/cppla/jellyfish/utils"
	"github.com/cppla/jellyfish/votes"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}
	defer func() { _ = utils.Logger.Sync() }()
	log := utils.Logger

	db, err := config.OpenDatabase(cfg, &models.User{}, &models.Post{}, &models.Vote{})
	if err != nil {
		log.Fatal("database unavailable", zap.Error(err))
	}
	st := store.NewGormStore(db)

	// Redis backs reset tokens, the logout blacklist and the post cache; without it
	// reset tokens and revoked JWTs live in process memory.
	var (
		rc *redis.Client
		kv tokens.KV
	)
	if client, err := utils.NewRedis(cfg); err != nil {
		log.Warn("redis unavailable, using in-memory stores", zap.Error(err))
		_ = client.Close()
		kv = tokens.NewMemoryKV(nil)
	} else {
		rc = client
		kv = tokens.NewRedisKV(client)
	}

	resetTokens := tokens.NewStore(kv, time.Duration(cfg.ResetTokenTTLHours)*time.Hour)
	mailer := utils.NewBreakerMailer(utils.NewSMTPMailer(cfg), log)
	accountSvc := accounts.NewService(st, resetTokens, mailer, utils.BcryptHasher{}, log.Named("accounts"), cfg.ResetURLBase)

	jwtManager := utils.NewJWTManager(cfg.JWTSecret, time.Duration(cfg.JWTTTLHours)*time.Hour)
	blacklist := utils.NewTokenBlacklist(rc)
	cache := utils.NewCache(rc, time.Hour, log.Named("cache"))
	if rc == nil {
		cache = utils.NewMemoryCache(time.Hour, log.Named("cache"))
	}

	r := routes.SetupRouter(cfg, routes.Handlers{
		Auth:          controllers.NewAuthController(accountSvc, jwtManager, blacklist, log.Named("auth")),
		Posts:         controllers.NewPostController(st, feed.NewPaginator(st.Posts()), votes.NewEngine(st, log.Named("votes")), cache, log.Named("posts")),
		Authenticator: middleware.NewAuthenticator(jwtManager, blacklist),
		Users:         st.Users(),
	})

	utils.Sugar.Infof("Starting server on port %s (graceful)", cfg.AppPort)
	if err := utils.GraceServer(":"+cfg.AppPort, r); err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}
