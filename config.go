package main

import (
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const appID = "storefront"

type config struct {
	ServeHTTPAddress string `envconfig:"serve_http_address" default:":8080"`
	ServeGRPCAddress string `envconfig:"serve_grpc_address" default:":8081"`
	LogLevel         string `envconfig:"log_level" default:"info"`

	DBDSN    string        `envconfig:"db_dsn"`
	RedisURL string        `envconfig:"redis_url"`
	CartDir  string        `envconfig:"cart_dir" default:"data/carts"`
	CartTTL  time.Duration `envconfig:"cart_ttl" default:"168h"`
	AMQPURL  string        `envconfig:"amqp_url"`

	MercadoPagoAccessToken string `envconfig:"mercadopago_access_token"`
	MercadoPagoBaseURL     string `envconfig:"mercadopago_base_url"`
	MercadoPagoPayerEmail  string `envconfig:"mercadopago_payer_email"`

	ResendAPIKey     string `envconfig:"resend_api_key"`
	EmailFrom        string `envconfig:"email_from" default:"Pedidos <pedidos@resend.dev>"`
	OrderNotifyEmail string `envconfig:"order_notify_email"`

	JWTSecret string `envconfig:"jwt_secret"`
	JWTIssuer string `envconfig:"jwt_issuer" default:"storefront"`

	RateLimit  int           `envconfig:"rate_limit" default:"10"`
	RateWindow time.Duration `envconfig:"rate_window" default:"10s"`

	PixExpiration  time.Duration `envconfig:"pix_expiration" default:"30m"`
	ExpiryInterval time.Duration `envconfig:"expiry_interval" default:"1m"`
	StrictPricing  bool          `envconfig:"strict_pricing" default:"false"`

	EventWorkers   int `envconfig:"event_workers" default:"4"`
	EventQueueSize int `envconfig:"event_queue_size" default:"256"`
}

func parseEnv() (*config, error) {
	c := new(config)
	if err := envconfig.Process(appID, c); err != nil {
		return nil, errors.Wrap(err, "failed to parse env")
	}
	return c, nil
}

func (c *config) configureLogging() {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		log.WithError(err).Warn("unknown log level, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)
}
