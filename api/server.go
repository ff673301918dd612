package api

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/everifyng/everify-backend/db"
	"github.com/everifyng/everify-backend/models"
	"github.com/everifyng/everify-backend/providers"
	"github.com/everifyng/everify-backend/providers/fiat"
	"github.com/everifyng/everify-backend/services/apikeys"
	"github.com/everifyng/everify-backend/services/audit"
	"github.com/everifyng/everify-backend/services/ledger"
	"github.com/everifyng/everify-backend/services/monitoring/logging"
	"github.com/everifyng/everify-backend/services/payment"
	"github.com/everifyng/everify-backend/services/ratelimit"
	"github.com/everifyng/everify-backend/services/registry"
	"github.com/everifyng/everify-backend/services/users"
	"github.com/everifyng/everify-backend/services/verification"
	"github.com/everifyng/everify-backend/utils"
)

var TokenController *utils.JWTToken

type Server struct {
	router   *gin.Engine
	store    *db.Store
	config   *utils.Config
	logger   *logging.Logger
	registry *registry.Registry
	engine   *verification.Engine
	ledger   *ledger.Service
	apiKeys  *apikeys.Service
	funding  *payment.FundingService
	paystack *fiat.PaystackProvider
	limiter  *ratelimit.Limiter
	audit    *audit.Repository
	users    *users.Repository
}

func NewServer(envPath string) *Server {
	c, err := utils.LoadConfig(envPath)
	if err != nil {
		panic(fmt.Sprintf("Could not load config: %v", err))
	}

	conn, err := sqlx.Open(c.DBDriver, utils.GetDBSource(c, c.DBName))
	if err != nil {
		panic(fmt.Sprintf("Could not load DB: %v", err))
	}

	m, err := migrate.New(
		"file://db/migrations",
		utils.GetDBSource(c, c.DBName),
	)
	if err != nil {
		log.Fatalf("Unable to instantiate the database schema migrator - %v", err)
	}

	if err := m.Up(); err != nil {
		if err != migrate.ErrNoChange {
			log.Fatalf("Unable to migrate up to the latest database schema - %v", err)
		}
	}

	l := logging.NewLogger()
	if c.Papertrail != "" {
		l = l.WithSyslog(c.Papertrail, c.PapertrailAppName)
	}

	store := db.NewStore(conn)
	if err := models.SetIDSalt(c.SigningKey); err != nil {
		log.Fatalf("Unable to initialise public ID encoding - %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort),
		Password: c.RedisPassword,
	})

	auditRepo := audit.NewRepository(store)
	ledgerService := ledger.NewService(store, l)
	catalog := registry.NewRegistry(store, l)
	gateway := providers.NewGateway(auditRepo, l)
	engine := verification.NewEngine(store, ledgerService, catalog, gateway, l)
	keyService := apikeys.NewService(store, l)
	paystack := fiat.NewPaystackProvider(c, l)
	funding := payment.NewFundingService(ledgerService, paystack, l)
	limiter := ratelimit.NewLimiter(redisClient, l)

	g := gin.Default()
	g.Use(CORSMiddleware())
	g.Use(l.LoggingMiddleWare())

	TokenController = utils.NewJWTToken(c)

	return &Server{
		router:   g,
		store:    store,
		config:   c,
		logger:   l,
		registry: catalog,
		engine:   engine,
		ledger:   ledgerService,
		apiKeys:  keyService,
		funding:  funding,
		paystack: paystack,
		limiter:  limiter,
		audit:    auditRepo,
		users:    users.NewRepository(conn),
	}
}

func (s *Server) Start() {

	dr := models.SuccessResponse{
		Status:  "success",
		Message: "Welcome to eVerify!",
		Version: utils.REVISION,
	}

	s.router.GET("/", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, dr)
	})

	/// Register Object Routers Below
	Verifications{}.router(s)
	Wallets{}.router(s)
	Payments{}.router(s)
	APIKeys{}.router(s)

	s.router.Run(fmt.Sprintf(":%v", s.config.ServerPort))
}
