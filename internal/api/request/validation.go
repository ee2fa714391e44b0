package request

import (
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/edvin/sitebackup/internal/model"
)

// MaxBodyBytes bounds request bodies. Every API body is a small JSON document.
const MaxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names rather than Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterValidation("backupid", func(fl validator.FieldLevel) bool {
		return model.ValidBackupID(fl.Field().String())
	})
	return v
}

// Decode reads a JSON body into v and validates it. Unknown fields are
// rejected.
func Decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	return nil
}

// BackupID validates a backup ID taken from the URL.
func BackupID(s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("missing backup ID")
	}
	if err := validate.Var(s, "backupid"); err != nil {
		return "", fmt.Errorf("invalid backup ID %q", s)
	}
	return s, nil
}
