// Package edgerouter generates the Docker container labels that drive the reverse-proxy
// label plane: the router watches the Docker socket and reacts to label changes live, no
// config file or reload involved. this package never talks to the router directly -- it
// only produces the label map the runtime package attaches at container-create time.
package edgerouter

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Spec describes one service's routing requirements. router names (the "<slug>" segment
// of every traefik.http.routers.<slug>.* label key) must be unique across the whole edge
// router, so callers pass a per-service-per-preview router name rather than letting this
// package invent one.
type Spec struct {
	// RouterName is the unique router/service identifier, eg "<previewId>-<service>".
	RouterName string

	// Host is the external hostname this service answers on, eg
	// "<previewId>-<repoOwner>.<service>.previews.example.com".
	Host string

	// Port is the container-internal port the service listens on.
	Port int

	// EnableTLS requests HTTPS termination at the edge and a cert-resolver label;
	// when false the router only attaches the plain web entrypoint.
	EnableTLS bool

	// CertResolver names the router's ACME resolver profile; ignored when EnableTLS is
	// false.
	CertResolver string

	// BasicAuthUser / BasicAuthPassword, when both non-empty, attach a bcrypt-hashed
	// basic-auth challenge in front of this service. SPEC_FULL.md's password-protected
	// preview feature is implemented entirely at this layer -- the container itself never
	// sees or checks the password.
	BasicAuthUser     string
	BasicAuthPassword string

	// PreviewId / Owner / Service populate the management labels the reconciler's orphan
	// sweep and quota accounting key off of.
	PreviewId string
	Owner     string
	Service   string
}

// Labels returns the full Docker label map for spec, generalizing the teacher's
// traefikLabels(slug) -- which only ever produced the three bare enable/rule/port labels
// for a single hardcoded entrypoint -- into a router-name-keyed, multi-entrypoint,
// optionally-TLS, optionally-authenticated label set, plus the "managed"/"preview"/
// "service"/"owner" bookkeeping labels the original function had no equivalent of because
// the teacher's app never needed to later distinguish "containers I manage" from "every
// container on the host" the way the reconciler's orphan sweep does.
func Labels(spec Spec) (map[string]string, error) {
	router := spec.RouterName

	labels := map[string]string{
		"traefik.enable":                                                "true",
		"traefik.http.routers." + router + ".rule":                      fmt.Sprintf("Host(`%s`)", spec.Host),
		"traefik.http.services." + router + ".loadbalancer.server.port": fmt.Sprintf("%d", spec.Port),

		"managed": "true",
		"preview": spec.PreviewId,
		"owner":   spec.Owner,
		"service": spec.Service,
	}

	if spec.EnableTLS {
		labels["traefik.http.routers."+router+".entrypoints"] = "websecure"
		labels["traefik.http.routers."+router+".tls"] = "true"
		if spec.CertResolver != "" {
			labels["traefik.http.routers."+router+".tls.certresolver"] = spec.CertResolver
		}
	} else {
		labels["traefik.http.routers."+router+".entrypoints"] = "web"
	}

	if spec.BasicAuthUser != "" && spec.BasicAuthPassword != "" {
		credential, err := basicAuthCredential(spec.BasicAuthUser, spec.BasicAuthPassword)
		if err != nil {
			return nil, fmt.Errorf("hash basic-auth password for router %q: %w", router, err)
		}
		middlewareName := router + "-auth"
		labels["traefik.http.middlewares."+middlewareName+".basicauth.users"] = credential
		labels["traefik.http.routers."+router+".middlewares"] = middlewareName
	}

	return labels, nil
}

// basicAuthCredential bcrypt-hashes password and returns it in the "user:hash" form the
// router's basicauth middleware expects, with the hash's embedded "$" characters doubled
// -- the router's label parser treats a bare "$" as the start of an environment-variable
// reference, a quirk every password-protected-route example in the router's own docs
// works around the same way.
func basicAuthCredential(user, password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	escaped := strings.ReplaceAll(string(hash), "$", "$$")
	return user + ":" + escaped, nil
}

// ExternalURL builds the external URL a preview's service is reachable at, given the
// enableTLS setting that also drove the labels above -- kept in this package since the
// scheme choice and the TLS label are the same decision made twice.
func ExternalURL(host string, enableTLS bool) string {
	if enableTLS {
		return "https://" + host
	}
	return "http://" + host
}
