package diskit

import (
	"errors"
	"fmt"
	"net"
	"reflect"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cast"

	"github.com/gobeaver/diskit/config"
)

// ConnectionDescriptor holds the connection parameters of a remote disk.
// It is resolved once when an adapter is built and never changes after.
type ConnectionDescriptor struct {
	Host         string         `key:"host" validate:"required"`
	Port         int            `key:"port" validate:"min=1,max=65535"`
	Username     string         `key:"username"`
	Credential   string         `key:"password"`
	Root         string         `key:"root"`
	Timeout      time.Duration  `key:"timeout" validate:"gt=0"`
	MaxTries     int            `key:"maxtries" validate:"min=1"`
	TransferMode string         `key:"transferMode"`
	Extra        map[string]any `key:"extra"`
}

// Address returns host:port.
func (d ConnectionDescriptor) Address() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// ExtraString returns a backend specific string parameter.
func (d ConnectionDescriptor) ExtraString(key string) string {
	return cast.ToString(d.Extra[key])
}

// ExtraBool returns a backend specific boolean parameter.
func (d ConnectionDescriptor) ExtraBool(key string) bool {
	return cast.ToBool(d.Extra[key])
}

// ResolveConnection reads every descriptor field from r under namespace,
// falling back to the matching field of defaults. Only the Extra keys
// present in defaults are resolved.
func ResolveConnection(r config.Resolver, namespace string, defaults ConnectionDescriptor) ConnectionDescriptor {
	key := func(prop string) string { return config.Key(namespace, prop) }

	d := ConnectionDescriptor{
		Host:         config.String(r, key("host"), defaults.Host),
		Port:         config.Int(r, key("port"), defaults.Port),
		Username:     config.String(r, key("username"), defaults.Username),
		Credential:   config.String(r, key("password"), defaults.Credential),
		Root:         config.String(r, key("root"), defaults.Root),
		Timeout:      config.Duration(r, key("timeout"), defaults.Timeout),
		MaxTries:     config.Int(r, key("maxtries"), defaults.MaxTries),
		TransferMode: config.String(r, key("transferMode"), defaults.TransferMode),
	}

	if len(defaults.Extra) > 0 {
		d.Extra = make(map[string]any, len(defaults.Extra))
		for k, def := range defaults.Extra {
			d.Extra[k] = r.Get(key(k), def)
		}
	}
	return d
}

// ResolvePermissions reads the visibility table under namespace.
func ResolvePermissions(r config.Resolver, namespace string, defaults PermissionTable) PermissionTable {
	key := func(parts ...string) string { return config.Key(namespace, parts...) }

	return PermissionTable{
		FilePublic:  config.FileMode(r, key("visibility", "file", "public"), defaults.FilePublic),
		FilePrivate: config.FileMode(r, key("visibility", "file", "private"), defaults.FilePrivate),
		DirPublic:   config.FileMode(r, key("visibility", "dir", "public"), defaults.DirPublic),
		DirPrivate:  config.FileMode(r, key("visibility", "dir", "private"), defaults.DirPrivate),
	}
}

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		if k := f.Tag.Get("key"); k != "" && k != "-" {
			return k
		}
		return f.Name
	})
}

// ValidateDescriptor checks the validate tags of a descriptor struct and
// reports the first failure as a ConfigError keyed by its configuration
// key under namespace.
func ValidateDescriptor(disk, namespace string, descriptor any) error {
	err := validate.Struct(descriptor)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		e := verrs[0]
		return &ConfigError{
			Disk:   disk,
			Key:    config.Key(namespace, e.Field()),
			Reason: describeValidation(e),
		}
	}
	return &ConfigError{Disk: disk, Key: namespace, Reason: err.Error()}
}

func describeValidation(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "required value is missing"
	case "min", "gte":
		return fmt.Sprintf("must be at least %s (got %v)", e.Param(), e.Value())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s (got %v)", e.Param(), e.Value())
	case "gt":
		return fmt.Sprintf("must be greater than %s (got %v)", e.Param(), e.Value())
	case "oneof":
		return fmt.Sprintf("must be one of [%s] (got %v)", e.Param(), e.Value())
	case "eq":
		return fmt.Sprintf("must be %s (got %v)", e.Param(), e.Value())
	case "nefield":
		return fmt.Sprintf("must differ from %s", e.Param())
	default:
		return fmt.Sprintf("validation failed on '%s' (value: %v)", e.Tag(), e.Value())
	}
}
