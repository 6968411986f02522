// Package validation holds the field rules shared by the HTTP boundary,
// the services and the Go client, so every layer rejects the same input.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var (
	aadharPattern = regexp.MustCompile(`^[0-9]{12}$`)
	phonePattern  = regexp.MustCompile(`^[0-9]{10}$`)

	BloodGroups = []string{"O+", "O-", "A+", "A-", "B+", "B-", "AB+", "AB-"}
	Relations   = []string{"Spouse", "Son", "Daughter", "Father", "Mother"}
	StaffRoles  = []string{"Doctor", "OP", "Pharmacy", "Lab", "Office"}
)

var (
	once     sync.Once
	validate *validator.Validate
)

// Validator returns the shared validator. It reads `binding` tags like gin.
func Validator() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.SetTagName("binding")
		if err := Register(validate); err != nil {
			panic(err)
		}
	})
	return validate
}

// Register installs the custom rules and JSON field naming on v.
func Register(v *validator.Validate) error {
	v.RegisterTagNameFunc(jsonName)

	rules := map[string]validator.Func{
		"aadhar":     matches(aadharPattern),
		"phone10":    matches(phonePattern),
		"bloodgroup": oneOf(BloodGroups),
		"relation":   oneOf(Relations),
		"staffrole":  oneOf(StaffRoles),
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("register %s: %w", tag, err)
		}
	}
	return nil
}

// RegisterGin installs the same rules on gin's default binding engine.
func RegisterGin() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("gin binding engine is not go-playground/validator")
	}
	return Register(v)
}

// Struct validates s and returns field messages keyed by JSON path.
func Struct(s any) map[string]string {
	return Fields(Validator().Struct(s))
}

// Fields turns a validator error into field messages. Errors that are not
// validation errors are reported under "body".
func Fields(err error) map[string]string {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"body": "malformed request body"}
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fieldPath(fe)] = message(fe)
	}
	return out
}

// fieldPath drops the root type and embedded struct names from the
// namespace, e.g. RegisterPatientInput.PatientInput.aadhar -> aadhar.
func fieldPath(fe validator.FieldError) string {
	parts := strings.Split(fe.Namespace(), ".")
	if len(parts) <= 1 {
		return fe.Field()
	}
	parts = parts[1:]
	out := parts[:0]
	for i, p := range parts {
		if i < len(parts)-1 && p != "" && unicode.IsUpper(rune(p[0])) {
			continue
		}
		out = append(out, p)
	}
	return strings.Join(out, ".")
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "aadhar":
		return "must be exactly 12 digits"
	case "phone10":
		return "must be exactly 10 digits"
	case "bloodgroup":
		return "must be one of " + strings.Join(BloodGroups, ", ")
	case "relation":
		return "must be one of " + strings.Join(Relations, ", ")
	case "staffrole":
		return "must be one of " + strings.Join(StaffRoles, ", ")
	case "email":
		return "must be a valid email address"
	case "url":
		return "must be a valid URL"
	case "oneof":
		return "must be one of " + fe.Param()
	case "datetime":
		return "must be a date in YYYY-MM-DD format"
	case "min":
		if fe.Kind() == reflect.Slice || fe.Kind() == reflect.String {
			return "must have at least " + fe.Param() + " characters or items"
		}
		return "must be at least " + fe.Param()
	case "max":
		if fe.Kind() == reflect.Slice || fe.Kind() == reflect.String {
			return "must have at most " + fe.Param() + " characters or items"
		}
		return "must be at most " + fe.Param()
	}
	return "is invalid"
}

func jsonName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	switch name {
	case "-":
		return ""
	case "":
		return f.Name
	}
	return name
}

func matches(re *regexp.Regexp) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return re.MatchString(fl.Field().String())
	}
}

func oneOf(allowed []string) validator.Func {
	return func(fl validator.FieldLevel) bool {
		v := fl.Field().String()
		for _, a := range allowed {
			if v == a {
				return true
			}
		}
		return false
	}
}
