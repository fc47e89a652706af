package config

import (
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
)

var validate = validator.New()

// Load fills cfg from the environment (plus .env outside production) and
// validates it against its `validate` tags.
func Load(cfg any) {
	env := os.Getenv("ENV")
	if env != "production" && env != "prod" {
		err := godotenv.Load(".env")
		if err != nil {
			log.Warnf("unable to load .env file: %v", err)
		}
	}
	if err := envconfig.Process("", cfg); err != nil {
		log.Fatal(err)
	}
	if err := validate.Struct(cfg); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
}

// Validate checks a config struct built in code (resource options and the
// like) against its `validate` tags.
func Validate(cfg any) error {
	return validate.Struct(cfg)
}
