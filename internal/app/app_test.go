package app

import (
	"testing"

	"github.com/Amebis/eduvpn-client/internal/discovery"
)

func TestAuthServerFor(t *testing.T) {
	srv := discovery.Server{
		Identity: "https://vpn.example.org/",
		Type:     discovery.TypeOwn,
	}

	as := authServerFor(srv)
	if as.Identity != "https://vpn.example.org/" {
		t.Errorf("unexpected identity: %s", as.Identity)
	}
	if as.AuthorizationEndpoint != "https://vpn.example.org/oauth/authorize" {
		t.Errorf("unexpected authorization endpoint: %s", as.AuthorizationEndpoint)
	}
	if as.TokenEndpoint != "https://vpn.example.org/oauth/token" {
		t.Errorf("unexpected token endpoint: %s", as.TokenEndpoint)
	}
}

func TestAuthServerForSecureInternet(t *testing.T) {
	srv := discovery.Server{
		Identity: "https://nl.example.org",
		Type:     discovery.TypeSecureInternet,
		SecureInternet: &discovery.SecureInternetInfo{
			OrgID:                     "https://idp.example.org",
			CountryCode:               "nl",
			AuthenticationURLTemplate: "https://portal.example.org/?return=@RETURN_TO@&org=@ORG_ID@",
		},
	}

	as := authServerFor(srv)
	if as.AuthenticationURLTemplate != "https://portal.example.org/?return=@RETURN_TO@&org=@ORG_ID@" {
		t.Errorf("unexpected template: %s", as.AuthenticationURLTemplate)
	}
	if as.OrgID != "https://idp.example.org" {
		t.Errorf("unexpected org ID: %s", as.OrgID)
	}
}

func TestFindServer(t *testing.T) {
	servers := []discovery.Server{
		{Identity: "https://a.example.org/"},
		{Identity: "https://b.example.org/"},
	}

	if got, ok := findServer(servers, "https://b.example.org/"); !ok || got.Identity != "https://b.example.org/" {
		t.Errorf("expected to find b, got %+v, %v", got, ok)
	}
	if _, ok := findServer(servers, "https://c.example.org/"); ok {
		t.Error("unexpected match for unknown identity")
	}
}
