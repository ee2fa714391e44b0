package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// RelayConfig holds what the relay adapter needs for one operation.
type RelayConfig struct {
	Endpoint        string `validate:"required,url"`
	SiteToken       string `validate:"required"`
	SiteID          string `validate:"required"`
	TenantID        string `validate:"required"`
	ControlTimeout  time.Duration
	TransferTimeout time.Duration
}

// ObjectStoreConfig holds the connection settings of an S3-compatible store.
type ObjectStoreConfig struct {
	Endpoint        string `validate:"required,url"`
	Region          string `validate:"required"`
	Bucket          string `validate:"required"`
	AccessKey       string `validate:"required"`
	SecretKey       string `validate:"required"`
	ControlTimeout  time.Duration
	TransferTimeout time.Duration
}

// Validate reports every missing or malformed field.
func (c RelayConfig) Validate() error {
	return validateStruct("relay", c)
}

// Validate reports every missing or malformed field.
func (c ObjectStoreConfig) Validate() error {
	return validateStruct("object store", c)
}

func validateStruct(name string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("invalid %s config: %s", name, strings.Join(fields, ", "))
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
