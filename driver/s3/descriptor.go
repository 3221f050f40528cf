package s3

import (
	"log/slog"

	"github.com/gobeaver/diskit"
	"github.com/gobeaver/diskit/config"
)

// DefaultNamespace is the configuration namespace read by New.
const DefaultNamespace = "filesystem.awsS3"

// Defaults
const (
	DefaultRegion   = "us-east-1"
	DefaultMaxTries = 4
)

// Descriptor holds the resolved settings of an S3 disk.
type Descriptor struct {
	Bucket     string            `key:"bucket" validate:"required"`
	Prefix     string            `key:"prefix"`
	Visibility diskit.Visibility `key:"visibility" validate:"oneof=public private"`
	Region     string            `key:"region" validate:"required"`
	Endpoint   string            `key:"endpoint" validate:"omitempty,url"`
	Key        string            `key:"key" validate:"required_with=Secret"`
	Secret     string            `key:"secret" validate:"required_with=Key"`
	PathStyle  bool              `key:"pathStyle"`
	MaxTries   int               `key:"maxtries" validate:"min=1"`
}

type settings struct {
	namespace string
	disk      string
	logger    *slog.Logger
	client    Client
	overrides []func(*Descriptor)
}

// AdapterOption configures the S3 adapter. Options win over
// configuration values.
type AdapterOption func(*settings)

func override(fn func(*Descriptor)) AdapterOption {
	return func(s *settings) { s.overrides = append(s.overrides, fn) }
}

// WithNamespace reads configuration from another namespace.
func WithNamespace(namespace string) AdapterOption {
	return func(s *settings) { s.namespace = namespace }
}

// WithDisk sets the disk name reported in errors.
func WithDisk(disk string) AdapterOption {
	return func(s *settings) { s.disk = disk }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) AdapterOption {
	return func(s *settings) { s.logger = logger }
}

// WithClient uses client instead of building one from the descriptor.
func WithClient(client Client) AdapterOption {
	return func(s *settings) { s.client = client }
}

// WithBucket sets the bucket.
func WithBucket(bucket string) AdapterOption {
	return override(func(d *Descriptor) { d.Bucket = bucket })
}

// WithPrefix scopes every key below prefix.
func WithPrefix(prefix string) AdapterOption {
	return override(func(d *Descriptor) { d.Prefix = prefix })
}

// WithVisibility sets the visibility used when a write names none.
func WithVisibility(v diskit.Visibility) AdapterOption {
	return override(func(d *Descriptor) { d.Visibility = v })
}

// WithRegion sets the region.
func WithRegion(region string) AdapterOption {
	return override(func(d *Descriptor) { d.Region = region })
}

// WithEndpoint points the client at an S3 compatible service.
func WithEndpoint(endpoint string, pathStyle bool) AdapterOption {
	return override(func(d *Descriptor) {
		d.Endpoint = endpoint
		d.PathStyle = pathStyle
	})
}

// WithStaticCredentials sets an access key pair.
func WithStaticCredentials(key, secret string) AdapterOption {
	return override(func(d *Descriptor) {
		d.Key = key
		d.Secret = secret
	})
}

// WithMaxTries sets the attempts of the client retryer.
func WithMaxTries(n int) AdapterOption {
	return override(func(d *Descriptor) { d.MaxTries = n })
}

func resolve(r config.Resolver, s settings) (Descriptor, error) {
	key := func(prop string) string { return config.Key(s.namespace, prop) }

	d := Descriptor{
		Bucket:     config.String(r, key("bucket"), ""),
		Prefix:     config.String(r, key("prefix"), ""),
		Visibility: diskit.ParseVisibility(config.String(r, key("visibility"), string(diskit.Public))),
		Region:     config.String(r, key("region"), DefaultRegion),
		Endpoint:   config.String(r, key("endpoint"), ""),
		Key:        config.String(r, key("key"), ""),
		Secret:     config.String(r, key("secret"), ""),
		PathStyle:  config.Bool(r, key("pathStyle"), false),
		MaxTries:   config.Int(r, key("maxtries"), DefaultMaxTries),
	}
	for _, o := range s.overrides {
		o(&d)
	}
	if err := diskit.ValidateDescriptor(s.disk, s.namespace, d); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}
