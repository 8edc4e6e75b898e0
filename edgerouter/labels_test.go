package edgerouter

import "testing"

func TestLabelsBasicNoTLSNoAuth(t *testing.T) {
	labels, err := Labels(Spec{
		RouterName: "branch-main-api",
		Host:       "branch-main.acme.previews.example.com",
		Port:       8080,
		PreviewId:  "branch-main",
		Owner:      "acme",
		Service:    "api",
	})
	if err != nil {
		t.Fatalf("Labels: %v", err)
	}
	if labels["traefik.enable"] != "true" {
		t.Fatalf("expected traefik.enable=true")
	}
	if labels["traefik.http.routers.branch-main-api.entrypoints"] != "web" {
		t.Fatalf("expected plain web entrypoint when TLS disabled, got %+v", labels)
	}
	if labels["managed"] != "true" || labels["preview"] != "branch-main" || labels["owner"] != "acme" {
		t.Fatalf("missing management labels: %+v", labels)
	}
	if _, ok := labels["traefik.http.routers.branch-main-api.middlewares"]; ok {
		t.Fatalf("did not expect an auth middleware when no password supplied")
	}
}

func TestLabelsWithTLS(t *testing.T) {
	labels, err := Labels(Spec{
		RouterName:   "branch-main-api",
		Host:         "branch-main.acme.previews.example.com",
		Port:         8080,
		EnableTLS:    true,
		CertResolver: "letsencrypt",
	})
	if err != nil {
		t.Fatalf("Labels: %v", err)
	}
	if labels["traefik.http.routers.branch-main-api.entrypoints"] != "websecure" {
		t.Fatalf("expected websecure entrypoint, got %+v", labels)
	}
	if labels["traefik.http.routers.branch-main-api.tls.certresolver"] != "letsencrypt" {
		t.Fatalf("expected certresolver label, got %+v", labels)
	}
}

func TestLabelsWithBasicAuth(t *testing.T) {
	labels, err := Labels(Spec{
		RouterName:        "branch-main-api",
		Host:              "branch-main.acme.previews.example.com",
		Port:              8080,
		BasicAuthUser:     "preview",
		BasicAuthPassword: "s3cret",
	})
	if err != nil {
		t.Fatalf("Labels: %v", err)
	}
	mw, ok := labels["traefik.http.routers.branch-main-api.middlewares"]
	if !ok || mw != "branch-main-api-auth" {
		t.Fatalf("expected auth middleware attached, got %+v", labels)
	}
	credential := labels["traefik.http.middlewares.branch-main-api-auth.basicauth.users"]
	if credential == "" {
		t.Fatalf("expected a basicauth credential label")
	}
	if got := credential[:len("preview:")]; got != "preview:" {
		t.Fatalf("expected credential to start with the username, got %q", credential)
	}
}

func TestExternalURL(t *testing.T) {
	if got := ExternalURL("x.example.com", false); got != "http://x.example.com" {
		t.Fatalf("unexpected url: %q", got)
	}
	if got := ExternalURL("x.example.com", true); got != "https://x.example.com" {
		t.Fatalf("unexpected url: %q", got)
	}
}
