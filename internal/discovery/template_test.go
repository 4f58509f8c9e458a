package discovery

import "testing"

func TestExpandAuthTemplate(t *testing.T) {
	tests := []struct {
		name     string
		template string
		returnTo string
		orgID    string
		want     string
	}{
		{
			name:     "empty template returns return-to",
			template: "",
			returnTo: "https://vpn.example.org/authorize?state=abc",
			want:     "https://vpn.example.org/authorize?state=abc",
		},
		{
			name:     "both placeholders substituted and escaped",
			template: "https://portal.example.org/saml?return_to=@RETURN_TO@&org_id=@ORG_ID@",
			returnTo: "https://vpn.example.org/authorize?state=a&code=b",
			orgID:    "https://idp.example.org",
			want:     "https://portal.example.org/saml?return_to=https%3A%2F%2Fvpn.example.org%2Fauthorize%3Fstate%3Da%26code%3Db&org_id=https%3A%2F%2Fidp.example.org",
		},
		{
			name:     "template without placeholders returned as-is",
			template: "https://portal.example.org/start",
			returnTo: "https://vpn.example.org/authorize",
			orgID:    "org",
			want:     "https://portal.example.org/start",
		},
		{
			name:     "repeated placeholder substituted everywhere",
			template: "@ORG_ID@/@ORG_ID@",
			orgID:    "x y",
			want:     "x+y/x+y",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExpandAuthTemplate(tt.template, tt.returnTo, tt.orgID)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestServerTypeHelpers(t *testing.T) {
	secure := Server{
		Identity: "https://vpn.example.org/",
		Type:     TypeSecureInternet,
		SecureInternet: &SecureInternetInfo{
			OrgID:                     "https://idp.example.org",
			CountryCode:               "nl",
			AuthenticationURLTemplate: "https://portal/@ORG_ID@",
		},
	}
	if secure.AuthTemplate() != "https://portal/@ORG_ID@" {
		t.Errorf("unexpected template: %q", secure.AuthTemplate())
	}
	if secure.OrgID() != "https://idp.example.org" {
		t.Errorf("unexpected org ID: %q", secure.OrgID())
	}

	own := Server{Identity: "https://own.example.org/", Type: TypeOwn}
	if own.AuthTemplate() != "" || own.OrgID() != "" {
		t.Error("own server must have no template or org ID")
	}
}
