package healthgate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// EndpointSource records where a service's URL came from.
type EndpointSource string

const (
	SourceDynamic EndpointSource = "dynamic"
	SourceStatic  EndpointSource = "static"
	SourceNone    EndpointSource = "none"
)

// Dynamic configuration properties recognised below "<prefix>/<service>/".
const (
	propertyEndpoint = "endpoint"
	propertyProtocol = "protocol"
	propertyPort     = "port"
	propertyFullURL  = "full_url"
)

// ServiceEndpoint is a service's resolved health-check base URL.
// URL is empty when the service is known but not configured.
type ServiceEndpoint struct {
	Name   string         `json:"name"`
	URL    string         `json:"url"`
	Source EndpointSource `json:"source"`
}

// Resolver is one strategy for resolving service endpoints.
type Resolver interface {
	Resolve(ctx context.Context) (map[string]ServiceEndpoint, error)
}

// EndpointResolver resolves every configured service and never fails.
type EndpointResolver interface {
	ResolveAll(ctx context.Context) map[string]ServiceEndpoint
}

// URLs flattens resolved endpoints into a service name -> URL map.
func URLs(endpoints map[string]ServiceEndpoint) map[string]string {
	out := make(map[string]string, len(endpoints))
	for name, ep := range endpoints {
		out[name] = ep.URL
	}
	return out
}

// StaticResolver serves a fixed service name -> URL map supplied at startup.
type StaticResolver struct {
	services map[string]string
}

// NewStaticResolver copies services into a new resolver.
func NewStaticResolver(services map[string]string) *StaticResolver {
	copied := make(map[string]string, len(services))
	for name, url := range services {
		copied[name] = strings.TrimSpace(url)
	}
	return &StaticResolver{services: copied}
}

// Resolve implements Resolver. It never returns an error.
func (s *StaticResolver) Resolve(_ context.Context) (map[string]ServiceEndpoint, error) {
	out := make(map[string]ServiceEndpoint, len(s.services))
	for name, url := range s.services {
		source := SourceStatic
		if url == "" {
			source = SourceNone
		}
		out[name] = ServiceEndpoint{Name: name, URL: url, Source: source}
	}
	return out, nil
}

// ResolveAll implements EndpointResolver.
func (s *StaticResolver) ResolveAll(ctx context.Context) map[string]ServiceEndpoint {
	out, _ := s.Resolve(ctx)
	return out
}

// DynamicResolver reads service endpoints from a KVSource. Keys below the prefix are
// "<service>/<property>" with property one of endpoint, protocol, port or full_url.
type DynamicResolver struct {
	source KVSource
	prefix string
}

// NewDynamicResolver creates a resolver reading keys below prefix from source.
func NewDynamicResolver(source KVSource, prefix string) *DynamicResolver {
	return &DynamicResolver{
		source: source,
		prefix: strings.Trim(prefix, "/"),
	}
}

// Resolve implements Resolver. It returns ErrNoDynamicEntries when the source holds no
// service properties below the prefix.
func (d *DynamicResolver) Resolve(ctx context.Context) (map[string]ServiceEndpoint, error) {
	entries, err := d.source.List(ctx, d.prefix)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", d.prefix, err)
	}

	grouped := groupProperties(d.prefix, entries)
	if len(grouped) == 0 {
		return nil, ErrNoDynamicEntries
	}

	out := make(map[string]ServiceEndpoint, len(grouped))
	for name, props := range grouped {
		url := composeURL(props)
		source := SourceDynamic
		if url == "" {
			source = SourceNone
		}
		out[name] = ServiceEndpoint{Name: name, URL: url, Source: source}
	}
	return out, nil
}

// groupProperties turns flat "<prefix>/<service>/<property>" keys into per-service property
// maps. Keys outside the prefix, with a different depth, or naming an unknown property are
// ignored.
func groupProperties(prefix string, entries map[string]string) map[string]map[string]string {
	base := ""
	if prefix != "" {
		base = prefix + "/"
	}

	grouped := make(map[string]map[string]string)
	for key, value := range entries {
		rel := strings.TrimPrefix(key, "/")
		if !strings.HasPrefix(rel, base) {
			continue
		}
		rel = strings.TrimPrefix(rel, base)

		parts := strings.Split(rel, "/")
		if len(parts) != 2 || parts[0] == "" {
			continue
		}

		service, property := parts[0], parts[1]
		switch property {
		case propertyEndpoint, propertyProtocol, propertyPort, propertyFullURL:
		default:
			continue
		}

		if grouped[service] == nil {
			grouped[service] = make(map[string]string)
		}
		grouped[service][property] = strings.TrimSpace(value)
	}
	return grouped
}

// composeURL builds a service URL from its dynamic properties:
// full_url verbatim; else an endpoint that is already an http(s) URL verbatim; else
// protocol://endpoint[:port], leaving out port 80 and 443.
func composeURL(props map[string]string) string {
	if full := props[propertyFullURL]; full != "" {
		return full
	}

	endpoint := props[propertyEndpoint]
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}

	protocol := props[propertyProtocol]
	if endpoint == "" || protocol == "" {
		return ""
	}

	url := protocol + "://" + endpoint
	if port := props[propertyPort]; port != "" && port != "80" && port != "443" {
		url += ":" + port
	}
	return url
}

// FallbackResolver chains a primary (dynamic) strategy with a fallback (static) one.
//
// When the primary fails or finds nothing, the fallback's endpoints are returned as they
// are. Otherwise only the services the primary lists are returned; a listed service whose
// properties do not compose into a URL takes the fallback's URL for the same name, if any.
type FallbackResolver struct {
	primary  Resolver
	fallback Resolver
	logger   *slog.Logger
}

// NewFallbackResolver chains primary and fallback. A nil primary resolves from the fallback
// alone.
//
// Example:
//
//	resolver := healthgate.NewFallbackResolver(
//	    healthgate.NewDynamicResolver(consulSource, "edge/services"),
//	    healthgate.NewStaticResolver(map[string]string{"auth": "http://auth:8080"}),
//	)
func NewFallbackResolver(primary, fallback Resolver, opts ...ResolverOption) *FallbackResolver {
	r := &FallbackResolver{
		primary:  primary,
		fallback: fallback,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// ResolveAll implements EndpointResolver. Resolver errors are logged, never returned.
func (r *FallbackResolver) ResolveAll(ctx context.Context) map[string]ServiceEndpoint {
	if r.primary == nil {
		return r.resolveFallback(ctx)
	}

	primary, err := r.resolvePrimary(ctx)
	if err != nil {
		fallback := r.resolveFallback(ctx)
		r.logger.Warn("dynamic service configuration unavailable, using static configuration",
			"error", err,
			"services", len(fallback))
		return fallback
	}

	var incomplete []string
	for name, ep := range primary {
		if ep.URL == "" {
			incomplete = append(incomplete, name)
		}
	}
	if len(incomplete) == 0 {
		return primary
	}

	fallback := r.resolveFallback(ctx)
	var filled []string
	for _, name := range incomplete {
		if ep, ok := fallback[name]; ok && ep.URL != "" {
			primary[name] = ep
			filled = append(filled, name)
		}
	}

	if len(filled) > 0 {
		sort.Strings(filled)
		r.logger.Debug("dynamic configuration incomplete, using static URLs", "services", filled)
	}

	return primary
}

func (r *FallbackResolver) resolvePrimary(ctx context.Context) (endpoints map[string]ServiceEndpoint, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			endpoints, err = nil, fmt.Errorf("dynamic resolver panicked: %v", rec)
		}
	}()

	endpoints, err = r.primary.Resolve(ctx)
	if err == nil && len(endpoints) == 0 {
		err = ErrNoDynamicEntries
	}
	return endpoints, err
}

func (r *FallbackResolver) resolveFallback(ctx context.Context) map[string]ServiceEndpoint {
	if r.fallback == nil {
		return map[string]ServiceEndpoint{}
	}

	endpoints, err := r.fallback.Resolve(ctx)
	if err != nil {
		r.logger.Error("static service configuration unavailable", "error", err)
		return map[string]ServiceEndpoint{}
	}
	return endpoints
}
