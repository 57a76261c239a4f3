package roster

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/minus-twelve/roster/types"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func recordValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
		_ = validate.RegisterValidation("record_status", func(fl validator.FieldLevel) bool {
			return types.Status(fl.Field().String()).Valid()
		})
	})
	return validate
}

// ValidateRecord checks rec the way the add/edit forms do before any
// mutation reaches a store.
func ValidateRecord(rec types.Record) error {
	fields := map[string]string{}

	if strings.TrimSpace(rec.Name) == "" {
		fields["name"] = "Name is required"
	}
	switch rec.Kind {
	case types.KindEmployee:
		if rec.Employee == nil || rec.Project != nil {
			fields["kind"] = "employee records carry employee fields only"
		}
	case types.KindProject:
		if rec.Project == nil || rec.Employee != nil {
			fields["kind"] = "project records carry project fields only"
		}
	}

	err := recordValidator().Struct(rec)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			key := fieldKey(fe.Namespace())
			if _, seen := fields[key]; !seen {
				fields[key] = fieldMessage(fe)
			}
		}
	} else if err != nil {
		return err
	}

	if len(fields) > 0 {
		return &types.ValidationError{Fields: fields}
	}
	return nil
}

func fieldKey(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return "Email is invalid"
	case "gte", "lte":
		switch fe.Field() {
		case "rate":
			return "Rate must be between 0 and 150"
		case "margin":
			return "Margin must be between 0 and 25"
		}
		return fmt.Sprintf("%s is out of range", fe.Field())
	case "oneof", "record_status":
		return fmt.Sprintf("%s %q is not allowed", fe.Field(), fe.Value())
	case "datetime":
		return fmt.Sprintf("%s must be a YYYY-MM-DD date", fe.Field())
	}
	return fmt.Sprintf("%s is invalid", fe.Field())
}
